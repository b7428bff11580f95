// Package report backtests the spike/bounce pattern over archived bars and
// writes one CSV row per touched spike day.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"kiwoomapp/internal/types"
)

// Archive is a read-only source of stored bars
type Archive interface {
	Symbols(ctx context.Context) ([]string, error)
	// DailySeries returns every stored daily series for symbol, oldest bar first
	DailySeries(ctx context.Context, symbol string) ([][]types.Bar, error)
	// MinuteBars returns the minute bars of one calendar day, nil when none were stored
	MinuteBars(ctx context.Context, symbol string, day time.Time) ([]types.Bar, error)
	Name(ctx context.Context, symbol string) string
}

const (
	dailyDir  = "daily"
	minuteDir = "minute"
	namesFile = "names.csv"
)

// FileArchive reads CSV snapshots laid out as
//
//	daily/<code>_<yyyymmdd>.csv   date,open,high,low,close,volume,value
//	minute/<code>_<yyyymmdd>.csv  yyyymmddhhmmss,open,high,low,close,volume
//	names.csv                     code,name (UTF-8 or EUC-KR)
type FileArchive struct {
	dir   string
	names map[string]string
}

// NewFileArchive opens dir and loads the names file if present
func NewFileArchive(dir string) (*FileArchive, error) {
	if _, err := os.Stat(filepath.Join(dir, dailyDir)); err != nil {
		return nil, fmt.Errorf("archive %s: %w", dir, err)
	}
	names, err := loadNames(filepath.Join(dir, namesFile))
	if err != nil {
		return nil, err
	}
	return &FileArchive{dir: dir, names: names}, nil
}

// loadNames reads code,name pairs, decoding EUC-KR when the file is not UTF-8
func loadNames(path string) (map[string]string, error) {
	names := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, fmt.Errorf("failed to read names: %w", err)
	}

	var r io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		r = transform.NewReader(r, korean.EUCKR.NewDecoder())
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse names: %w", err)
		}
		if len(rec) < 2 {
			continue
		}
		code := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
		names[code] = strings.TrimSpace(rec[1])
	}
	return names, nil
}

func (a *FileArchive) Symbols(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.dir, dailyDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list daily bars: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		code, _, ok := splitName(e.Name())
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	sort.Strings(out)
	return out, nil
}

func (a *FileArchive) DailySeries(ctx context.Context, symbol string) ([][]types.Bar, error) {
	paths, err := filepath.Glob(filepath.Join(a.dir, dailyDir, symbol+"_*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out [][]types.Bar
	for _, p := range paths {
		bars, err := readBars(p, "20060102")
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			out = append(out, bars)
		}
	}
	return out, nil
}

func (a *FileArchive) MinuteBars(ctx context.Context, symbol string, day time.Time) ([]types.Bar, error) {
	path := filepath.Join(a.dir, minuteDir, symbol+"_"+day.In(types.KST).Format("20060102")+".csv")
	bars, err := readBars(path, "20060102150405")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return bars, err
}

func (a *FileArchive) Name(ctx context.Context, symbol string) string {
	return a.names[symbol]
}

// splitName parses <code>_<yyyymmdd>.csv
func splitName(name string) (code, date string, ok bool) {
	base, found := strings.CutSuffix(name, ".csv")
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(base, '_')
	if i <= 0 {
		return "", "", false
	}
	return base[:i], base[i+1:], true
}

// readBars parses a bar CSV, skipping a header and unparsable rows, sorted by time
func readBars(path, layout string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var bars []types.Bar
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		if len(rec) < 5 {
			continue
		}
		ts, err := time.ParseInLocation(layout, strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")), types.KST)
		if err != nil {
			continue
		}
		b := types.Bar{
			Time:  ts,
			Open:  parseField(rec[1]),
			High:  parseField(rec[2]),
			Low:   parseField(rec[3]),
			Close: parseField(rec[4]),
		}
		if len(rec) > 5 {
			b.Volume = parseField(rec[5])
		}
		if len(rec) > 6 {
			b.Value = parseField(rec[6])
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

func parseField(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(strings.Trim(s, `"`)), 64)
	return v
}
