package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"kiwoomapp/internal/config"
	"kiwoomapp/internal/crypto"
)

var logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:   "kiwoomapp",
		Short: "Kiwoom ladder-buy and sell-timing engine",
		Long: `kiwoomapp runs the per-account buy ladder and sell reconciliation against
the Kiwoom REST API, serves the dashboard API, and backtests the spike/bounce
pattern over archived bars.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (defaults to LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(sealTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads .env if present, then the environment and CONFIG_FILE
func loadConfig() (config.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := setupLogger(level)
	if err != nil {
		return cfg, logger, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger, nil
}

func sealTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal-token",
		Short: "Encrypt a Kiwoom access token read from stdin for KIWOOM_TOKEN_<ACCOUNT>",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			key, err := crypto.LoadKey()
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			token := strings.TrimSpace(line)
			if token == "" {
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				return fmt.Errorf("empty token")
			}

			sealed, err := crypto.SealToken(token, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}

// setupLogger configures the structured logger
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
