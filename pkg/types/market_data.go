package types

import "time"

// OHLCV is a single candle of market data. CloseTime identifies the bar;
// the evaluator debounces triggers on it.
type OHLCV struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

type Ticker struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}
