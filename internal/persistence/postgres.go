package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kiwoomapp/internal/engine"
	"kiwoomapp/internal/types"
)

// schema is applied on connect. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS watchlist (
	code        TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	behavior    TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT '',
	amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
	sell_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
	sell_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
	sell_gap    DOUBLE PRECISION NOT NULL DEFAULT 0,
	watch_since TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS account_modes (
	account    TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS holdings_history (
	id          BIGSERIAL PRIMARY KEY,
	account     TEXT NOT NULL,
	holdings    JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS engine_state (
	id         INT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore implements engine.Store on PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ engine.Store = (*PostgresStore)(nil)

// NewPostgresStore connects, pings and applies the schema
func NewPostgresStore(ctx context.Context, logger *slog.Logger) (*PostgresStore, error) {
	connStr := buildConnectionString()
	logger.Info("[POSTGRES] Connecting to database", "host", os.Getenv("POSTGRES_HOST"))

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("[POSTGRES] Connected to database")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// buildConnectionString creates a PostgreSQL connection string from environment variables
func buildConnectionString() string {
	host := getEnvOrDefault("POSTGRES_HOST", "localhost")
	port := getEnvOrDefault("POSTGRES_PORT", "5432")
	user := getEnvOrDefault("POSTGRES_USER", "kiwoom")
	dbname := getEnvOrDefault("POSTGRES_DB", "kiwoomapp")

	// Docker secret first
	password := ""
	if data, err := os.ReadFile("/run/secrets/postgres_password"); err == nil {
		password = strings.TrimSpace(string(data))
	} else {
		password = os.Getenv("POSTGRES_PASSWORD")
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Close closes the database connection pool
func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("[POSTGRES] Connection closed")
	}
}

func (p *PostgresStore) LoadWatchlist(ctx context.Context) ([]types.WatchItem, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT code, name, behavior, color, amount, sell_price, sell_rate, sell_gap, watch_since
		FROM watchlist
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var items []types.WatchItem
	for rows.Next() {
		var w types.WatchItem
		if err := rows.Scan(&w.Code, &w.Name, &w.Behavior, &w.Color, &w.Amount, &w.SellPrice, &w.SellRate, &w.SellGap, &w.WatchSince); err != nil {
			p.logger.Error("[POSTGRES] Failed to scan watchlist row", "error", err)
			continue
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlist rows: %w", err)
	}

	p.logger.Info("[POSTGRES] Loaded watchlist", "count", len(items))
	return items, nil
}

// SaveWatchlist replaces the whole table in one transaction
func (p *PostgresStore) SaveWatchlist(ctx context.Context, items []types.WatchItem) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM watchlist`); err != nil {
			return fmt.Errorf("failed to clear watchlist: %w", err)
		}

		batch := &pgx.Batch{}
		for _, w := range items {
			batch.Queue(`
				INSERT INTO watchlist (code, name, behavior, color, amount, sell_price, sell_rate, sell_gap, watch_since)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, w.Code, w.Name, w.Behavior, w.Color, w.Amount, w.SellPrice, w.SellRate, w.SellGap, w.WatchSince)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save watchlist: %w", err)
		}

		p.logger.Debug("[POSTGRES] Watchlist saved", "count", len(items))
		return nil
	})
}

func (p *PostgresStore) LoadAccountModes(ctx context.Context) (map[string]types.AccountMode, error) {
	rows, err := p.pool.Query(ctx, `SELECT account, mode FROM account_modes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query account modes: %w", err)
	}
	defer rows.Close()

	modes := make(map[string]types.AccountMode)
	for rows.Next() {
		var account, mode string
		if err := rows.Scan(&account, &mode); err != nil {
			return nil, fmt.Errorf("failed to scan account mode: %w", err)
		}
		modes[account] = types.AccountMode(mode)
	}
	return modes, rows.Err()
}

func (p *PostgresStore) SaveAccountModes(ctx context.Context, modes map[string]types.AccountMode) error {
	batch := &pgx.Batch{}
	for account, mode := range modes {
		batch.Queue(`
			INSERT INTO account_modes (account, mode) VALUES ($1, $2)
			ON CONFLICT (account) DO UPDATE SET mode = EXCLUDED.mode, updated_at = NOW()
		`, account, string(mode))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save account modes: %w", err)
	}
	return nil
}

// SaveHoldings appends a snapshot row. Only changed snapshots reach here.
func (p *PostgresStore) SaveHoldings(ctx context.Context, account string, holdings []types.Holding) error {
	data, err := json.Marshal(holdings)
	if err != nil {
		return fmt.Errorf("failed to marshal holdings: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO holdings_history (account, holdings) VALUES ($1, $2)
	`, account, data)
	if err != nil {
		return fmt.Errorf("failed to record holdings: %w", err)
	}
	p.logger.Debug("[POSTGRES] Holdings recorded", "account", account, "count", len(holdings))
	return nil
}

func (p *PostgresStore) LoadState(ctx context.Context) (*engine.StateRecord, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM engine_state WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load engine state: %w", err)
	}

	var rec engine.StateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse engine state: %w", err)
	}
	return &rec, nil
}

func (p *PostgresStore) SaveState(ctx context.Context, rec engine.StateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal engine state: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO engine_state (id, state) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`, data)
	if err != nil {
		return fmt.Errorf("failed to save engine state: %w", err)
	}
	p.logger.Debug("[POSTGRES] Engine state saved", "day", rec.Day)
	return nil
}
