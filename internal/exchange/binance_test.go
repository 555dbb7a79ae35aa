package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
)

// newTestClient points a signed client at a local test server.
func newTestClient(t *testing.T, handler http.HandlerFunc) *BinanceClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewBinanceClient("test-key", "test-secret", false, 2*time.Second)
	c.http.SetBaseURL(srv.URL)
	return c
}

func TestCancelOrder_SendsSymbolAndID(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotQuery  url.Values
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":12345,"status":"CANCELED"}`))
	})

	require.NoError(t, c.CancelOrder(context.Background(), "BTCUSDT", "12345"))

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v3/order", gotPath)
	assert.Equal(t, "BTCUSDT", gotQuery.Get("symbol"))
	assert.Equal(t, "12345", gotQuery.Get("orderId"))
	assert.NotEmpty(t, gotQuery.Get("timestamp"))
	assert.NotEmpty(t, gotQuery.Get("signature"))
}

func TestCancelOrder_RejectionIsTyped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	})

	err := c.CancelOrder(context.Background(), "BTCUSDT", "999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerr.ErrExchangeRejection))
}

func TestExecuteOrder_SignsAndCarriesAPIKey(t *testing.T) {
	var gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"orderId":7,"status":"FILLED","fills":[{"price":"100.0","qty":"1.0","commission":"0.1"}]}`))
	})

	order, err := c.ExecuteOrder(context.Background(), OrderRequest{
		BotID:  "bot-1",
		RunID:  "run-1",
		Symbol: "BTCUSDT",
		Side:   SideBuy,
		Type:   OrderMarket,
		Qty:    decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, StatusFilled, order.Status)
	assert.True(t, order.FillPrice.Equal(decimal.NewFromInt(100)), "fill price %s", order.FillPrice)
	assert.True(t, order.Fees.Equal(decimal.NewFromFloat(0.1)), "fees %s", order.Fees)
}
