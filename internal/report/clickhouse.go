package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"kiwoomapp/internal/types"
)

var clickhouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS daily_bars (
		symbol String,
		date   Date,
		open   Float64,
		high   Float64,
		low    Float64,
		close  Float64,
		volume Float64,
		value  Float64
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, date)`,
	`CREATE TABLE IF NOT EXISTS minute_bars (
		symbol String,
		ts     DateTime('Asia/Seoul'),
		open   Float64,
		high   Float64,
		low    Float64,
		close  Float64,
		volume Float64
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS symbols (
		code String,
		name String
	) ENGINE = ReplacingMergeTree ORDER BY code`,
}

// ClickHouseArchive reads bars from the daily_bars, minute_bars and symbols tables
type ClickHouseArchive struct {
	conn   driver.Conn
	logger *slog.Logger
}

// NewClickHouseArchive connects with a clickhouse:// DSN and ensures the tables exist
func NewClickHouseArchive(ctx context.Context, dsn string, logger *slog.Logger) (*ClickHouseArchive, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	for _, stmt := range clickhouseSchema {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ensure clickhouse schema: %w", err)
		}
	}

	logger.Info("[REPORT] Connected to ClickHouse archive", "addr", opts.Addr)
	return &ClickHouseArchive{conn: conn, logger: logger}, nil
}

// Close closes the connection
func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}

func (a *ClickHouseArchive) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	rows, err := a.conn.Query(ctx, `SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DailySeries returns the whole stored history as one series
func (a *ClickHouseArchive) DailySeries(ctx context.Context, symbol string) ([][]types.Bar, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT date, open, high, low, close, volume, value
		FROM daily_bars FINAL
		WHERE symbol = ?
		ORDER BY date`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []types.Bar
	for rows.Next() {
		var b types.Bar
		var date time.Time
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Value); err != nil {
			return nil, err
		}
		b.Time = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, types.KST)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	return [][]types.Bar{bars}, nil
}

func (a *ClickHouseArchive) MinuteBars(ctx context.Context, symbol string, day time.Time) ([]types.Bar, error) {
	d := day.In(types.KST)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, types.KST)

	rows, err := a.conn.Query(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM minute_bars FINAL
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts`, symbol, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to query minute bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []types.Bar
	for rows.Next() {
		var b types.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (a *ClickHouseArchive) Name(ctx context.Context, symbol string) string {
	var name string
	if err := a.conn.QueryRow(ctx, `SELECT name FROM symbols FINAL WHERE code = ? LIMIT 1`, symbol).Scan(&name); err != nil {
		a.logger.Debug("[REPORT] No name for symbol", "symbol", symbol, "error", err)
		return ""
	}
	return name
}
