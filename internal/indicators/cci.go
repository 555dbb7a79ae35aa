package indicators

import (
	"math"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// CCI computes the Commodity Channel Index series.
//
//	CCI = (TypicalPrice - SMA(TypicalPrice)) / (0.015 * MeanDeviation)
//
// A flat window has zero deviation and yields 0.
func CCI(bars []types.OHLCV, period int) []float64 {
	out := nanSeries(len(bars))
	if period < 1 || len(bars) < period {
		return out
	}

	typical := make([]float64, len(bars))
	for i := range bars {
		typical[i] = (bars[i].High + bars[i].Low + bars[i].Close) / 3.0
	}
	sma := SMA(typical, period)

	for i := period - 1; i < len(bars); i++ {
		dev := 0.0
		for j := i - period + 1; j <= i; j++ {
			dev += math.Abs(typical[j] - sma[i])
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (typical[i] - sma[i]) / (0.015 * dev)
	}
	return out
}
