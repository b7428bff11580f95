package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"kiwoomapp/internal/config"
	"kiwoomapp/internal/report"
)

func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Backtest the spike/bounce pattern over archived bars and write a CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if out != "" {
				cfg.ReportOut = out
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			gen, closeArchive, err := newGenerator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeArchive()

			sum, err := gen.Run(ctx)
			if err != nil {
				return fmt.Errorf("report failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows (%d success) from %d spikes, %d discarded -> %s\n",
				sum.Rows, sum.Successes, sum.Spikes, sum.Discarded, sum.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output CSV path (defaults to REPORT_OUT)")
	return cmd
}

// newGenerator picks ClickHouse when CLICKHOUSE_DSN is set, else the file archive
func newGenerator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*report.Generator, func(), error) {
	if cfg.ClickHouseDSN != "" {
		archive, err := report.NewClickHouseArchive(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := archive.Close(); err != nil {
				logger.Error("Error closing ClickHouse archive", "error", err)
			}
		}
		return report.NewGenerator(archive, cfg.Thresholds, cfg.ReportOut, logger), closeFn, nil
	}

	archive, err := report.NewFileArchive(cfg.ArchiveDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("[REPORT] Using file archive", "dir", cfg.ArchiveDir)
	return report.NewGenerator(archive, cfg.Thresholds, cfg.ReportOut, logger), func() {}, nil
}
