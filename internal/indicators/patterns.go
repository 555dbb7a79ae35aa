package indicators

import (
	"math"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// EvalPattern evaluates a candlestick pattern at bar index i (the last
// closed bar). Patterns compare the current bar against the previous one;
// with fewer than two bars the result is indeterminate.
func EvalPattern(name string, bars []types.OHLCV, i int) TailResult {
	if i < 1 || i >= len(bars) {
		return TailResult{Indeterminate: true}
	}
	prev, curr := bars[i-1], bars[i]

	switch name {
	case "inside_bar":
		return ok(curr.High <= prev.High && curr.Low >= prev.Low)
	case "outside_bar":
		return ok(curr.High >= prev.High && curr.Low <= prev.Low)
	case "bullish_engulfing":
		return ok(prev.Close < prev.Open && curr.Close > curr.Open &&
			curr.Open < prev.Close && curr.Close > prev.Open)
	case "bearish_engulfing":
		return ok(prev.Close > prev.Open && curr.Close < curr.Open &&
			curr.Open > prev.Close && curr.Close < prev.Open)
	case "doji":
		rng := curr.High - curr.Low
		if rng <= 0 {
			return ok(false)
		}
		return ok(math.Abs(curr.Open-curr.Close)/rng < 0.1)
	case "hammer":
		body := math.Abs(curr.Close - curr.Open)
		upperWick := curr.High - math.Max(curr.Open, curr.Close)
		lowerWick := math.Min(curr.Open, curr.Close) - curr.Low
		return ok(lowerWick > 2*body && upperWick < 0.5*body)
	case "gap_up":
		return ok(curr.Open > prev.High)
	case "gap_down":
		return ok(curr.Open < prev.Low)
	case "higher_high":
		return ok(curr.High > prev.High)
	case "higher_low":
		return ok(curr.Low > prev.Low)
	case "lower_high":
		return ok(curr.High < prev.High)
	case "lower_low":
		return ok(curr.Low < prev.Low)
	default:
		return TailResult{Indeterminate: true}
	}
}

func ok(b bool) TailResult { return TailResult{Ok: b} }
