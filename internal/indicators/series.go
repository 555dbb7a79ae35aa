// Package indicators is the pure indicator kernel: given an ordered sequence
// of OHLCV bars and a named indicator with settings, it computes the full
// series and its tail values. The kernel holds no state; warm-up positions
// are NaN and callers treat them as indeterminate.
package indicators

import (
	"math"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// Closes extracts the close series from bars.
func Closes(bars []types.OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Volumes extracts the volume series from bars.
func Volumes(bars []types.OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Volume
	}
	return out
}

// ConstSeries returns a series of n copies of v, used as the right-hand side
// of value comparisons.
func ConstSeries(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func isNaN(v float64) bool { return math.IsNaN(v) }

// nanSeries returns a series of n NaNs.
func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA computes the simple moving average series. Positions before period-1
// are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period < 1 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average series, seeded with the SMA of
// the first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period < 1 || len(values) < period {
		return out
	}
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	alpha := 2.0 / (float64(period) + 1.0)
	prev := seed
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*alpha + prev
		out[i] = prev
	}
	return out
}

// emaOver applies EMA to a series that may lead with NaNs (e.g. the MACD
// line); the output is NaN until period defined values have been seen.
func emaOver(values []float64, period int) []float64 {
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	out := nanSeries(len(values))
	if len(values)-start < period {
		return out
	}
	inner := EMA(values[start:], period)
	copy(out[start:], inner)
	return out
}
