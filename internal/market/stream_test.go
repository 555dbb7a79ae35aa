package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// fakeRest serves canned tickers and counts polls.
type fakeRest struct {
	price float64
	polls atomic.Int64
}

func (f *fakeRest) GetKlines(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return nil, nil
}

func (f *fakeRest) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	f.polls.Add(1)
	return &types.Ticker{Symbol: symbol, Price: f.price, Timestamp: time.Now().UTC()}, nil
}

func TestTickerStream_PollsRESTWhileSocketIsDown(t *testing.T) {
	rest := &fakeRest{price: 50123.5}
	ticks := make(chan types.Ticker, 16)

	s := NewTickerStream(false, rest, func(tick types.Ticker) {
		select {
		case ticks <- tick:
		default:
		}
	}, logger.NewDiscard())
	// An unroutable endpoint forces every dial to fail immediately.
	s.wsBase = "ws://127.0.0.1:1"
	s.pollInterval = 20 * time.Millisecond

	s.SetSymbols([]string{"btcusdt"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case tick := <-ticks:
		assert.Equal(t, "BTCUSDT", tick.Symbol)
		assert.Equal(t, 50123.5, tick.Price)
	case <-time.After(5 * time.Second):
		t.Fatal("no fallback tick while the socket was down")
	}
	assert.GreaterOrEqual(t, rest.polls.Load(), int64(1))
}

func TestTickerStream_NoSymbolsNoPolling(t *testing.T) {
	rest := &fakeRest{price: 1}
	s := NewTickerStream(false, rest, func(types.Ticker) {}, logger.NewDiscard())
	s.wsBase = "ws://127.0.0.1:1"
	s.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Zero(t, rest.polls.Load())
}

func TestTickerStream_ParsesMiniTicker(t *testing.T) {
	var got *types.Ticker
	s := NewTickerStream(false, nil, func(tick types.Ticker) { got = &tick }, logger.NewDiscard())

	s.handleMessage([]byte(`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1756100000000,"s":"BTCUSDT","c":"49850.12","v":"1234.5"}}`))

	require.NotNil(t, got)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, 49850.12, got.Price)
	assert.Equal(t, 1234.5, got.Volume)

	// Garbage and foreign events are dropped silently.
	got = nil
	s.handleMessage([]byte(`not json`))
	s.handleMessage([]byte(`{"data":{"e":"trade"}}`))
	assert.Nil(t, got)
}

func TestBinanceClient_GetTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"ETHUSDT","price":"3010.55"}`))
	}))
	defer srv.Close()

	c := NewBinanceClient(false, 2*time.Second)
	c.http.SetBaseURL(srv.URL)

	tick, err := c.GetTicker(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", tick.Symbol)
	assert.Equal(t, 3010.55, tick.Price)
}
