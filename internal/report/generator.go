package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kiwoomapp/internal/config"
	"kiwoomapp/internal/indicators"
	"kiwoomapp/internal/metrics"
	"kiwoomapp/internal/pattern"
	"kiwoomapp/internal/types"
)

// Generator scans an archive for spike days and tracks each one forward
// through its minute bars. It never touches live trading state.
type Generator struct {
	archive Archive
	rules   pattern.SpikeRules
	out     string
	logger  *slog.Logger
}

// Summary describes one finished run
type Summary struct {
	RunID     string
	Symbols   int
	Spikes    int
	Discarded int // no minute bars on the spike day
	Rows      int
	Successes int
	Path      string
}

// NewGenerator creates a generator writing to out
func NewGenerator(archive Archive, th config.Thresholds, out string, logger *slog.Logger) *Generator {
	return &Generator{
		archive: archive,
		rules: pattern.SpikeRules{
			Window:          th.DailyWindow,
			MinValue:        th.SpikeMinValue,
			HighToPrevClose: th.SpikeHighToPrevClose,
			TouchRetrace:    th.TouchRetrace,
			GapDivisor:      th.BounceGapDivisor,
			BounceDays:      th.BounceDays,
		},
		out:    out,
		logger: logger,
	}
}

// Run builds every row and writes the report file
func (g *Generator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Path: g.out}
	start := time.Now()
	g.logger.Info("[REPORT] Run started", "run_id", sum.RunID, "out", g.out)

	rows, err := g.rows(ctx, &sum)
	if err != nil {
		return sum, err
	}
	if err := WriteCSV(g.out, rows); err != nil {
		return sum, err
	}

	for _, r := range rows {
		result := "fail"
		if r.Success {
			result = "success"
			sum.Successes++
		}
		metrics.ReportRows.WithLabelValues(result).Inc()
	}
	sum.Rows = len(rows)

	g.logger.Info("[REPORT] Run finished",
		"run_id", sum.RunID,
		"symbols", sum.Symbols,
		"spikes", sum.Spikes,
		"discarded", sum.Discarded,
		"rows", sum.Rows,
		"successes", sum.Successes,
		"duration", time.Since(start),
	)
	return sum, nil
}

// Loop runs the report once per interval until ctx is done
func (g *Generator) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("[REPORT] Loop stopped")
			return
		case <-ticker.C:
			if _, err := g.Run(ctx); err != nil {
				g.logger.Error("[REPORT] Run failed", "error", err)
			}
		}
	}
}

// Rows returns the report rows without writing them
func (g *Generator) Rows(ctx context.Context) ([]types.ReportRow, error) {
	var sum Summary
	return g.rows(ctx, &sum)
}

func (g *Generator) rows(ctx context.Context, sum *Summary) ([]types.ReportRow, error) {
	symbols, err := g.archive.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive symbols: %w", err)
	}
	sum.Symbols = len(symbols)

	var rows []types.ReportRow
	seen := make(map[string]bool) // symbol|spike date
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		series, err := g.archive.DailySeries(ctx, symbol)
		if err != nil {
			g.logger.Warn("[REPORT] Skipping symbol, daily bars unreadable", "symbol", symbol, "error", err)
			continue
		}

		name := ""
		for _, daily := range series {
			for i := g.rules.Window; i <= len(daily)-2; i++ {
				if !pattern.IsSpike(daily, i, g.rules) {
					continue
				}
				spikeDate := types.DayOf(daily[i].Time)
				key := symbol + "|" + string(spikeDate)
				if seen[key] {
					continue
				}
				seen[key] = true
				sum.Spikes++

				bounce, err := g.track(ctx, symbol, daily, i)
				if err != nil {
					g.logger.Warn("[REPORT] Minute bars unreadable", "symbol", symbol, "spike_date", spikeDate, "error", err)
					continue
				}
				if bounce.Discarded {
					sum.Discarded++
					continue
				}
				if !bounce.Touched {
					continue
				}

				if name == "" {
					name = g.archive.Name(ctx, symbol)
				}
				rows = append(rows, g.row(symbol, name, daily, i, bounce))
			}
		}
	}
	return rows, nil
}

// track gathers the spike day and the following calendar days of minute bars
func (g *Generator) track(ctx context.Context, symbol string, daily []types.Bar, i int) (pattern.Bounce, error) {
	spike := daily[i].Time
	_, h, l := pattern.PeakLow(daily, i, g.rules.Window)
	touch, gap := g.rules.Levels(h, l)

	var days []pattern.DayBars
	for offset := 0; offset <= g.rules.BounceDays; offset++ {
		day := spike.AddDate(0, 0, offset)
		bars, err := g.archive.MinuteBars(ctx, symbol, day)
		if err != nil {
			return pattern.Bounce{}, err
		}
		if len(bars) == 0 {
			if offset == 0 {
				return pattern.Bounce{Discarded: true}, nil
			}
			continue
		}
		days = append(days, pattern.DayBars{Offset: offset, Day: day, Bars: bars})
	}
	return pattern.TrackBounce(days, touch, gap), nil
}

func (g *Generator) row(symbol, name string, daily []types.Bar, i int, b pattern.Bounce) types.ReportRow {
	bar := daily[i]
	_, h, l := pattern.PeakLow(daily, i, g.rules.Window)

	r := types.ReportRow{
		Symbol:      symbol,
		Name:        name,
		Success:     b.Success,
		SpikeDate:   string(types.DayOf(bar.Time)),
		TouchDate:   string(types.DayOf(b.TouchDate)),
		TouchOffset: b.TouchOffset,
		Value:       bar.Value,
	}
	if prev := daily[i-1].Close; prev > 0 {
		r.HighToPrev = bar.High / prev
	}
	if l > 0 {
		r.HighToLow = h / l
	}

	mas := indicators.MovingAverages(indicators.Closes(daily), i, indicators.ReportPeriods)
	copy(r.MA[:], mas)
	r.MARatios = indicators.PairwiseRatios(mas)
	return r
}
