package indicators

// MACDResult holds the three MACD component series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the Moving Average Convergence Divergence series:
// MACD line = EMA(fast) - EMA(slow), signal = EMA(signal) of the MACD line,
// histogram = MACD line - signal.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	n := len(closes)
	res := MACDResult{
		MACD:      nanSeries(n),
		Signal:    nanSeries(n),
		Histogram: nanSeries(n),
	}
	if fast < 1 || slow <= fast || signal < 1 {
		return res
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	for i := slow - 1; i < n; i++ {
		res.MACD[i] = emaFast[i] - emaSlow[i]
	}

	res.Signal = emaOver(res.MACD, signal)
	for i := range res.Histogram {
		if !isNaN(res.MACD[i]) && !isNaN(res.Signal[i]) {
			res.Histogram[i] = res.MACD[i] - res.Signal[i]
		}
	}
	return res
}
