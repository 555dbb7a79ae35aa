// Package market implements the Binance market-data client consumed by the
// evaluator (klines) and the executors (price ticks). REST requests go
// through a resty client with retry on 5xx; live ticks arrive over the
// miniTicker WebSocket stream with a REST polling fallback.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// DataClient is the market-data surface the engine consumes. Bars are
// ordered by open time ascending; the last bar is the currently forming one
// and callers evaluating closed bars drop it.
type DataClient interface {
	GetKlines(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error)
	GetTicker(ctx context.Context, symbol string) (*types.Ticker, error)
}

const (
	mainnetBaseURL = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	mainnetWSURL = "wss://stream.binance.com:9443"
	testnetWSURL = "wss://stream.testnet.binance.vision"
)

// BinanceClient is the Binance spot REST market-data client.
type BinanceClient struct {
	http *resty.Client
}

// NewBinanceClient creates a REST client against mainnet or the spot testnet.
func NewBinanceClient(testnet bool, timeout time.Duration) *BinanceClient {
	baseURL := mainnetBaseURL
	if testnet {
		baseURL = testnetBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= 500
		})

	return &BinanceClient{http: http}
}

const component = "market"

// GetKlines fetches up to limit bars for (symbol, timeframe), oldest first.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	var raw [][]json.RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": tf.String(),
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw).
		Get("/api/v3/klines")
	if err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientNetwork, component, "get_klines")
	}
	if resp.IsError() {
		return nil, enginerr.New(enginerr.KindTransientNetwork, component, "get_klines",
			"klines %s %s: status %d: %s", symbol, tf, resp.StatusCode(), resp.String())
	}

	bars := make([]types.OHLCV, 0, len(raw))
	for _, k := range raw {
		bar, err := parseKline(k)
		if err != nil {
			return nil, enginerr.Wrap(err, enginerr.KindTransientNetwork, component, "get_klines")
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline decodes one Binance kline row:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(k []json.RawMessage) (types.OHLCV, error) {
	if len(k) < 7 {
		return types.OHLCV{}, fmt.Errorf("kline row has %d fields, want 7", len(k))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(k[0], &openMs); err != nil {
		return types.OHLCV{}, fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(k[6], &closeMs); err != nil {
		return types.OHLCV{}, fmt.Errorf("kline close time: %w", err)
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(k[i], &s); err != nil {
			return types.OHLCV{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.OHLCV{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	return types.OHLCV{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}

// GetTicker fetches the latest price for a symbol.
func (c *BinanceClient) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&body).
		Get("/api/v3/ticker/price")
	if err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientNetwork, component, "get_ticker")
	}
	if resp.IsError() {
		return nil, enginerr.New(enginerr.KindTransientNetwork, component, "get_ticker",
			"ticker %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return nil, enginerr.Wrap(fmt.Errorf("parse price %q: %w", body.Price, err),
			enginerr.KindTransientNetwork, component, "get_ticker")
	}
	return &types.Ticker{
		Symbol:    body.Symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}, nil
}
