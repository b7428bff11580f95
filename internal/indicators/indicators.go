package indicators

import (
	"kiwoomapp/internal/types"
)

// ReportPeriods are the moving-average lengths carried on report rows
var ReportPeriods = []int{5, 10, 20, 60, 120}

// Closes extracts closing prices
func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA calculates Simple Moving Average over the last period values
func SMA(values []float64, period int) float64 {
	if len(values) < period {
		return average(values)
	}
	return average(values[len(values)-period:])
}

// SMAAt is SMA over the values ending at index i inclusive
func SMAAt(values []float64, i, period int) float64 {
	if i < 0 || len(values) == 0 {
		return 0
	}
	if i >= len(values) {
		i = len(values) - 1
	}
	return SMA(values[:i+1], period)
}

// MovingAverages returns SMAAt for each period
func MovingAverages(values []float64, i int, periods []int) []float64 {
	out := make([]float64, len(periods))
	for k, p := range periods {
		out[k] = SMAAt(values, i, p)
	}
	return out
}

// PairwiseRatios returns mas[i]/mas[j] for every i<j, 0 where mas[j] is 0
func PairwiseRatios(mas []float64) []float64 {
	var out []float64
	for i := 0; i < len(mas); i++ {
		for j := i + 1; j < len(mas); j++ {
			if mas[j] == 0 {
				out = append(out, 0)
				continue
			}
			out = append(out, mas[i]/mas[j])
		}
	}
	return out
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
