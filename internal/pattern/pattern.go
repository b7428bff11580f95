// Package pattern finds period highs, the lows around them, and classifies
// spike days by whether price retraced to a touch level and bounced.
package pattern

import (
	"time"

	"kiwoomapp/internal/types"
)

// PeakLow locates the highest high in the window bars ending at pos and the
// lowest low in the window bars ending at that peak.
func PeakLow(bars []types.Bar, pos, window int) (peak int, high, low float64) {
	if len(bars) == 0 || window <= 0 {
		return -1, 0, 0
	}
	if pos >= len(bars) {
		pos = len(bars) - 1
	}
	start := pos - window + 1
	if start < 0 {
		start = 0
	}

	peak = start
	for i := start + 1; i <= pos; i++ {
		if bars[i].High > bars[peak].High {
			peak = i
		}
	}
	high = bars[peak].High

	lowStart := peak - window + 1
	if lowStart < 0 {
		lowStart = 0
	}
	low = bars[peak].Low
	for i := peak - 1; i >= lowStart; i-- {
		if bars[i].Low < low {
			low = bars[i].Low
		}
	}
	return peak, high, low
}

// LowAfterPeak returns the lowest low from the trailing-window high to the
// end of the series. ok is false for an empty series.
func LowAfterPeak(bars []types.Bar, window int) (low float64, ok bool) {
	if len(bars) == 0 {
		return 0, false
	}
	peak, _, _ := PeakLow(bars, len(bars)-1, window)
	low = bars[peak].Low
	for _, b := range bars[peak+1:] {
		if b.Low < low {
			low = b.Low
		}
	}
	return low, true
}

// SpikeRules configures spike and bounce classification
type SpikeRules struct {
	Window          int
	MinValue        float64
	HighToPrevClose float64
	TouchRetrace    float64
	GapDivisor      float64
	BounceDays      int
}

// IsSpike reports whether bar i is the high of its trailing window, traded
// more than MinValue and gapped up by more than HighToPrevClose.
func IsSpike(daily []types.Bar, i int, r SpikeRules) bool {
	if i < 1 || i >= len(daily) || i < r.Window-1 {
		return false
	}
	bar := daily[i]
	for j := i - r.Window + 1; j < i; j++ {
		if daily[j].High > bar.High {
			return false
		}
	}
	if bar.Value <= r.MinValue {
		return false
	}
	prevClose := daily[i-1].Close
	if prevClose <= 0 {
		return false
	}
	return bar.High/prevClose > r.HighToPrevClose
}

// Levels returns the touch price and bounce gap for a spike with window
// high h and low l.
func (r SpikeRules) Levels(h, l float64) (touch, gap float64) {
	touch = h - (h-l)*r.TouchRetrace
	if r.GapDivisor > 0 {
		gap = (h - l) / r.GapDivisor
	}
	return touch, gap
}

// DayBars are the minute bars of one calendar day, Offset days after the spike
type DayBars struct {
	Offset int
	Day    time.Time
	Bars   []types.Bar
}

// Bounce is the outcome of tracking one spike forward
type Bounce struct {
	Discarded   bool // no minute data on the spike day
	Touched     bool
	TouchOffset int
	TouchDate   time.Time
	Success     bool
}

// TrackBounce walks the minute bars of the spike day and the following days.
// The first bar whose low is under touch marks the touch. Success needs a
// later bar whose high clears both touch and the running low plus gap.
func TrackBounce(days []DayBars, touch, gap float64) Bounce {
	if len(days) == 0 || days[0].Offset != 0 || len(days[0].Bars) == 0 {
		return Bounce{Discarded: true}
	}

	var res Bounce
	runningLow := days[0].Bars[0].Low
	for _, day := range days {
		for _, b := range day.Bars {
			if b.Low < runningLow {
				runningLow = b.Low
			}
			if res.Touched {
				if b.High > touch && b.High > runningLow+gap {
					res.Success = true
					return res
				}
				continue
			}
			if b.Low < touch {
				res.Touched = true
				res.TouchOffset = day.Offset
				res.TouchDate = day.Day
			}
		}
	}
	return res
}
