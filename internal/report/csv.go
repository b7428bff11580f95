package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"kiwoomapp/internal/indicators"
	"kiwoomapp/internal/types"
)

// Header returns the report column names
func Header() []string {
	cols := []string{
		"symbol", "name", "result", "spike_date", "touch_date", "touch_offset",
		"value", "high_prev_close", "h16_l16",
	}
	for _, p := range indicators.ReportPeriods {
		cols = append(cols, "ma"+strconv.Itoa(p))
	}
	for i := range indicators.ReportPeriods {
		for j := i + 1; j < len(indicators.ReportPeriods); j++ {
			cols = append(cols, fmt.Sprintf("ma%d_ma%d", indicators.ReportPeriods[i], indicators.ReportPeriods[j]))
		}
	}
	return cols
}

func record(r types.ReportRow) []string {
	result := "fail"
	if r.Success {
		result = "success"
	}
	rec := []string{
		r.Symbol, r.Name, result, r.SpikeDate, r.TouchDate, strconv.Itoa(r.TouchOffset),
		formatFloat(r.Value), formatFloat(r.HighToPrev), formatFloat(r.HighToLow),
	}
	for _, ma := range r.MA {
		rec = append(rec, formatFloat(ma))
	}
	for _, ratio := range r.MARatios {
		rec = append(rec, formatFloat(ratio))
	}
	return rec
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes rows to path via a temp file and rename
func WriteCSV(path string, rows []types.ReportRow) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(Header()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write(record(r)); err != nil {
			f.Close()
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename report file: %w", err)
	}
	return nil
}
