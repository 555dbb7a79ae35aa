package indicators

import "github.com/tradebotlab/crypto-bot-engine/pkg/types"

// MFI computes the Money Flow Index series over a rolling period window.
//
//	Raw Money Flow = Typical Price * Volume
//	Money Ratio    = Positive Money Flow / Negative Money Flow
//	MFI            = 100 - (100 / (1 + Money Ratio))
func MFI(bars []types.OHLCV, period int) []float64 {
	out := nanSeries(len(bars))
	if period < 1 || len(bars) < period+1 {
		return out
	}

	typical := make([]float64, len(bars))
	for i := range bars {
		typical[i] = (bars[i].High + bars[i].Low + bars[i].Close) / 3.0
	}

	// flow[i] is the signed money flow of the move into bar i.
	flow := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		mf := typical[i] * bars[i].Volume
		switch {
		case typical[i] > typical[i-1]:
			flow[i] = mf
		case typical[i] < typical[i-1]:
			flow[i] = -mf
		}
	}

	for i := period; i < len(bars); i++ {
		pos, neg := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			if flow[j] > 0 {
				pos += flow[j]
			} else {
				neg -= flow[j]
			}
		}
		switch {
		case neg == 0 && pos == 0:
			out[i] = 50
		case neg == 0:
			out[i] = 100
		default:
			ratio := pos / neg
			out[i] = 100 - (100 / (1 + ratio))
		}
	}
	return out
}
