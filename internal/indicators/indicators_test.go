package indicators

import (
	"math"
	"testing"

	"kiwoomapp/internal/types"
)

func TestSMA(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		period   int
		expected float64
	}{
		{
			name:     "Not enough data",
			values:   []float64{1, 2, 3},
			period:   5,
			expected: 2.0, // Average of available
		},
		{
			name:     "Exact period",
			values:   []float64{1, 2, 3, 4, 5},
			period:   5,
			expected: 3.0,
		},
		{
			name:     "More data than period",
			values:   []float64{1, 2, 3, 4, 5, 6, 7},
			period:   5,
			expected: 5.0,
		},
		{
			name:     "Empty",
			values:   []float64{},
			period:   5,
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SMA(tt.values, tt.period)
			if math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("SMA() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSMAAt(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	if got := SMAAt(values, 4, 3); got != 4 {
		t.Errorf("SMAAt(4, 3) = %v, want 4", got)
	}
	// later values must not leak into the average
	if got := SMAAt(values, 2, 5); got != 2 {
		t.Errorf("SMAAt(2, 5) = %v, want 2", got)
	}
	if got := SMAAt(values, -1, 5); got != 0 {
		t.Errorf("SMAAt(-1) = %v, want 0", got)
	}
}

func TestMovingAveragesAndRatios(t *testing.T) {
	bars := make([]types.Bar, 130)
	for i := range bars {
		bars[i].Close = 100
	}
	closes := Closes(bars)

	mas := MovingAverages(closes, 129, ReportPeriods)
	if len(mas) != 5 {
		t.Fatalf("Expected 5 averages, got %d", len(mas))
	}
	for _, m := range mas {
		if m != 100 {
			t.Errorf("Expected flat average 100, got %v", m)
		}
	}

	ratios := PairwiseRatios(mas)
	if len(ratios) != 10 {
		t.Fatalf("Expected 10 ratios, got %d", len(ratios))
	}
	for _, r := range ratios {
		if r != 1 {
			t.Errorf("Expected ratio 1, got %v", r)
		}
	}

	if r := PairwiseRatios([]float64{2, 0}); r[0] != 0 {
		t.Errorf("Expected 0 for zero divisor, got %v", r[0])
	}
}
