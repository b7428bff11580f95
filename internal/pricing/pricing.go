// Package pricing computes tick-aligned prices, the daily gap ladder and
// sell targets.
package pricing

import (
	"github.com/shopspring/decimal"

	"kiwoomapp/internal/pattern"
	"kiwoomapp/internal/types"
)

// TickSize returns the price increment for the band p falls in
func TickSize(p float64) int64 {
	switch {
	case p < 1000:
		return 1
	case p < 5000:
		return 5
	case p < 10000:
		return 10
	case p < 50000:
		return 50
	case p < 100000:
		return 100
	case p < 500000:
		return 500
	default:
		return 1000
	}
}

// RoundTrunc rounds p up to the next legal tick. Aligned prices are returned unchanged.
func RoundTrunc(p float64) float64 {
	if p <= 0 {
		return 0
	}
	// drop float noise from ladder arithmetic before taking the ceiling
	d := decimal.NewFromFloat(p).Round(6)
	tick := decimal.NewFromInt(TickSize(p))
	return d.Div(tick).Ceil().Mul(tick).InexactFloat64()
}

// ComputeGapRecord builds the ladder from the trailing window of daily bars.
// ok is false when there are no bars or the window has no range.
func ComputeGapRecord(daily []types.Bar, window, steps int) (types.GapRecord, bool) {
	if len(daily) == 0 || steps <= 0 {
		return types.GapRecord{}, false
	}
	_, high, low := pattern.PeakLow(daily, len(daily)-1, window)
	if high <= 0 || high <= low {
		return types.GapRecord{}, false
	}

	h := decimal.NewFromFloat(high)
	gap := h.Sub(decimal.NewFromFloat(low)).Div(decimal.NewFromInt(int64(steps)))

	rec := types.GapRecord{
		High:         high,
		Low:          low,
		CurrentPrice: daily[len(daily)-1].Close,
		Gap:          gap.InexactFloat64(),
		Ladder:       make([]float64, steps),
	}
	for i := 0; i < steps; i++ {
		rec.Ladder[i] = h.Sub(gap.Mul(decimal.NewFromInt(int64(i)))).InexactFloat64()
	}
	return rec, true
}

// Rung returns ladder[k]
func Rung(rec types.GapRecord, k int) (float64, bool) {
	if k < 0 || k >= len(rec.Ladder) {
		return 0, false
	}
	return rec.Ladder[k], true
}

// WithinProximity reports whether cur is no more than ratio above rung
func WithinProximity(cur, rung, ratio float64) bool {
	return cur > 0 && cur <= rung*(1+ratio)
}

// BuyQty is the whole number of shares amount buys at price
func BuyQty(amount, price float64) int64 {
	if price <= 0 || amount <= 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(price)).Floor().IntPart()
}
