package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kiwoomapp/internal/config"
	"kiwoomapp/internal/engine"
	"kiwoomapp/internal/exchange"
	"kiwoomapp/internal/persistence"
	"kiwoomapp/internal/receiver"
)

var _ receiver.Dashboard = (*engine.Engine)(nil)

func serveCmd() *cobra.Command {
	var noReport bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trading engine, dashboard API and daily report loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg, logger, !noReport)
		},
	}
	cmd.Flags().BoolVar(&noReport, "no-report", false, "Do not run the background report loop")
	return cmd
}

func serve(cfg config.Config, logger *slog.Logger, withReport bool) error {
	logger.Info("Starting kiwoomapp server",
		"mock_mode", cfg.MockMode,
		"port", cfg.Port,
		"postgres_mode", cfg.PostgresMode,
		"accounts", cfg.Accounts,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var store engine.Store
	if cfg.PostgresMode {
		logger.Info("Using PostgreSQL persistence mode")
		pg, err := persistence.NewPostgresStore(ctx, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL persistence: %w", err)
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Info("Using file persistence mode", "state_dir", cfg.StateDir)
		store = engine.NewFileStore(cfg.StateDir, logger)
	}

	brokers, err := newBrokers(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for acct, b := range brokers {
			if err := b.Close(); err != nil {
				logger.Error("Error closing broker", "account", acct, "error", err)
			}
		}
	}()

	eng := engine.NewEngine(brokers, store, engine.Options{
		Session:      cfg.Session,
		Thresholds:   cfg.Thresholds,
		ColorRungs:   cfg.ColorRungs,
		TickInterval: cfg.TickInterval,
	}, logger)

	httpReceiver := receiver.NewHTTPReceiver(cfg.Port, eng, logger)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	if err := httpReceiver.Start(ctx); err != nil {
		eng.Stop()
		return fmt.Errorf("failed to start HTTP receiver: %w", err)
	}

	if withReport {
		gen, closeArchive, err := newGenerator(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Report loop disabled", "error", err)
		} else {
			defer closeArchive()
			go gen.Loop(ctx, cfg.ReportInterval)
			logger.Info("Report loop started", "interval", cfg.ReportInterval, "out", cfg.ReportOut)
		}
	}

	logger.Info("kiwoomapp server is running",
		"http_endpoint", "http://127.0.0.1:"+strconv.Itoa(cfg.Port),
	)
	logger.Info("Press Ctrl+C to stop")

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpReceiver.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP receiver", "error", err)
	}

	// saves state on the way out
	eng.Stop()
	cancel()

	logger.Info("kiwoomapp server stopped gracefully")
	return nil
}

// newBrokers creates one broker per configured account
func newBrokers(cfg config.Config, logger *slog.Logger) (map[string]exchange.Broker, error) {
	brokers := make(map[string]exchange.Broker, len(cfg.Accounts))
	if cfg.MockMode {
		logger.Info("Running in MOCK MODE - no real orders will be sent")
		for _, acct := range cfg.Accounts {
			brokers[acct] = exchange.NewMockBroker(logger.With("account", acct))
		}
		return brokers, nil
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("KIWOOM_ACCOUNTS is required for live trading")
	}
	for _, acct := range cfg.Accounts {
		token := cfg.Tokens[acct]
		if token == "" {
			return nil, fmt.Errorf("KIWOOM_TOKEN_%s is required for live trading", acct)
		}
		brokers[acct] = exchange.NewKiwoomClient(cfg.KiwoomBaseURL, acct, token, logger)
	}
	return brokers, nil
}
