package pattern

import (
	"testing"
	"time"

	"kiwoomapp/internal/types"
)

func bar(high, low float64) types.Bar {
	return types.Bar{High: high, Low: low, Open: low, Close: high}
}

func testRules() SpikeRules {
	return SpikeRules{
		Window:          16,
		MinValue:        150000,
		HighToPrevClose: 1.12,
		TouchRetrace:    0.4,
		GapDivisor:      5,
		BounceDays:      5,
	}
}

func TestPeakLow(t *testing.T) {
	bars := []types.Bar{
		bar(100, 50), // outside the low window of the peak
		bar(110, 90),
		bar(120, 80),
		bar(150, 100), // peak
		bar(130, 60),  // after the peak, ignored for the low
		bar(125, 95),
	}

	peak, high, low := PeakLow(bars, 5, 3)
	if peak != 3 {
		t.Errorf("Expected peak index 3, got %d", peak)
	}
	if high != 150 {
		t.Errorf("Expected high 150, got %f", high)
	}
	if low != 80 {
		t.Errorf("Expected low 80 (window ending at peak), got %f", low)
	}
}

func TestPeakLow_ShortSeries(t *testing.T) {
	bars := []types.Bar{bar(10, 5), bar(12, 7)}
	peak, high, low := PeakLow(bars, 1, 16)
	if peak != 1 || high != 12 || low != 5 {
		t.Errorf("got peak=%d high=%f low=%f", peak, high, low)
	}

	if p, _, _ := PeakLow(nil, 0, 16); p != -1 {
		t.Errorf("Expected -1 for empty series, got %d", p)
	}
}

func TestLowAfterPeak(t *testing.T) {
	bars := []types.Bar{
		bar(100, 40),
		bar(200, 150),
		bar(180, 120),
		bar(170, 130),
	}
	low, ok := LowAfterPeak(bars, 4)
	if !ok {
		t.Fatal("Expected ok")
	}
	if low != 120 {
		t.Errorf("Expected 120, got %f", low)
	}

	if _, ok := LowAfterPeak(nil, 4); ok {
		t.Error("Expected not ok for empty series")
	}
}

func TestIsSpike(t *testing.T) {
	r := testRules()
	daily := make([]types.Bar, 20)
	for i := range daily {
		daily[i] = types.Bar{Open: 1000, High: 1010, Low: 990, Close: 1000, Value: 200000}
	}
	daily[17] = types.Bar{Open: 1000, High: 1200, Low: 1000, Close: 1150, Value: 200000}

	if !IsSpike(daily, 17, r) {
		t.Error("Expected bar 17 to be a spike")
	}
	if IsSpike(daily, 16, r) {
		t.Error("Flat bar should not be a spike")
	}

	low := append([]types.Bar(nil), daily...)
	low[17].Value = 150000
	if IsSpike(low, 17, r) {
		t.Error("Value at threshold should not qualify")
	}

	weak := append([]types.Bar(nil), daily...)
	weak[17].High = 1100
	if IsSpike(weak, 17, r) {
		t.Error("Ratio under threshold should not qualify")
	}
}

func TestTrackBounce_NoSpikeDayData(t *testing.T) {
	days := []DayBars{
		{Offset: 1, Bars: []types.Bar{bar(100, 50)}},
		{Offset: 2, Bars: []types.Bar{bar(200, 150)}},
	}
	res := TrackBounce(days, 80, 10)
	if !res.Discarded {
		t.Error("Expected spike without same-day minute data to be discarded")
	}
	if res.Touched {
		t.Error("Discarded spike must not be touched")
	}
}

func TestTrackBounce_RequiresBothThresholds(t *testing.T) {
	touch, gap := 100.0, 30.0
	day0 := DayBars{Offset: 0, Bars: []types.Bar{bar(130, 110)}}
	day1 := DayBars{Offset: 1, Bars: []types.Bar{bar(105, 90)}}

	tests := []struct {
		name    string
		last    types.Bar
		success bool
	}{
		// running low 90, so the gap level is 120
		{"above touch only", bar(115, 100), false},
		{"above both", bar(125, 100), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day2 := DayBars{Offset: 2, Bars: []types.Bar{tt.last}}
			res := TrackBounce([]DayBars{day0, day1, day2}, touch, gap)
			if !res.Touched || res.TouchOffset != 1 {
				t.Fatalf("Expected touch on offset 1, got %+v", res)
			}
			if res.Success != tt.success {
				t.Errorf("Expected success=%v, got %v", tt.success, res.Success)
			}
		})
	}
}

func TestTrackBounce_TouchBarDoesNotCountAsSuccess(t *testing.T) {
	day0 := DayBars{Offset: 0, Day: time.Date(2024, 1, 2, 0, 0, 0, 0, types.KST), Bars: []types.Bar{
		bar(300, 95), // touches and would clear both levels on the same bar
	}}
	res := TrackBounce([]DayBars{day0}, 100, 10)
	if !res.Touched {
		t.Fatal("Expected touch")
	}
	if res.Success {
		t.Error("Success must come from a bar after the touch")
	}
	if !res.TouchDate.Equal(day0.Day) {
		t.Errorf("Unexpected touch date %v", res.TouchDate)
	}
}

func TestLevels(t *testing.T) {
	touch, gap := testRules().Levels(1000, 500)
	if touch != 800 {
		t.Errorf("Expected touch 800, got %f", touch)
	}
	if gap != 100 {
		t.Errorf("Expected gap 100, got %f", gap)
	}
}
