package indicators

import (
	"math"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// ATR computes the Wilder-smoothed Average True Range series. The first
// defined value sits at index period; a flat series yields 0.
func ATR(bars []types.OHLCV, period int) []float64 {
	out := nanSeries(len(bars))
	if period < 1 || len(bars) < period+1 {
		return out
	}

	tr := make([]float64, len(bars))
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		tr[i] = trueRange(bars[i], bars[i-1].Close)
	}

	seed := 0.0
	for i := 1; i <= period; i++ {
		seed += tr[i]
	}
	atr := seed / float64(period)
	out[period] = atr

	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// trueRange is max(High-Low, |High-PrevClose|, |Low-PrevClose|).
func trueRange(bar types.OHLCV, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}
