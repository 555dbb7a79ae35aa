package paper

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
)

func newSim(t *testing.T, initial, slippageBps, feeBps float64) *Simulator {
	t.Helper()
	return NewSimulator(initial, slippageBps, feeBps, logger.NewDiscard())
}

func marketOrder(botID string, side exchange.Side, qty float64) exchange.OrderRequest {
	return exchange.OrderRequest{
		BotID:  botID,
		RunID:  "run-1",
		Symbol: "BTCUSDT",
		Side:   side,
		Type:   exchange.OrderMarket,
		Qty:    decimal.NewFromFloat(qty),
	}
}

func TestSimulator_BalanceLawRoundTrip(t *testing.T) {
	// 10 bps fee: buy 0.1 @ 50000 costs 5000 + 5 fee, sell 0.1 @ 51000
	// returns 5100 - 5.1 fee.
	sim := newSim(t, 10000, 0, 10)
	require.NoError(t, sim.UpdatePrice("BTCUSDT", 50000))

	buy, err := sim.ExecuteOrder(context.Background(), marketOrder("bot-1", exchange.SideBuy, 0.1))
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, buy.Status)
	assert.True(t, buy.FillPrice.Equal(decimal.NewFromInt(50000)), "fill price %s", buy.FillPrice)
	assert.True(t, buy.Fees.Equal(decimal.NewFromInt(5)), "fees %s", buy.Fees)
	assert.True(t, sim.FreeBalance("bot-1").Equal(decimal.NewFromInt(4995)),
		"free after buy %s", sim.FreeBalance("bot-1"))

	require.NoError(t, sim.UpdatePrice("BTCUSDT", 51000))
	sell, err := sim.ExecuteOrder(context.Background(), marketOrder("bot-1", exchange.SideSell, 0.1))
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, sell.Status)
	assert.True(t, sell.Fees.Equal(decimal.NewFromFloat(5.1)), "fees %s", sell.Fees)

	// initial - free = (5000 + 5) - (5100 - 5.1)
	want := decimal.NewFromInt(10000).
		Sub(decimal.NewFromInt(5005)).
		Add(decimal.NewFromFloat(5094.9))
	assert.True(t, sim.FreeBalance("bot-1").Equal(want),
		"free after round trip %s, want %s", sim.FreeBalance("bot-1"), want)
}

func TestSimulator_SlippageAppliedAgainstTaker(t *testing.T) {
	sim := newSim(t, 100000, 20, 0) // 20 bps
	require.NoError(t, sim.UpdatePrice("BTCUSDT", 50000))

	buy, err := sim.ExecuteOrder(context.Background(), marketOrder("b", exchange.SideBuy, 0.1))
	require.NoError(t, err)
	assert.True(t, buy.FillPrice.Equal(decimal.NewFromInt(50100)), "buy fill %s", buy.FillPrice)

	sell, err := sim.ExecuteOrder(context.Background(), marketOrder("b", exchange.SideSell, 0.1))
	require.NoError(t, err)
	assert.True(t, sell.FillPrice.Equal(decimal.NewFromInt(49900)), "sell fill %s", sell.FillPrice)
}

func TestSimulator_InsufficientBalanceRejected(t *testing.T) {
	sim := newSim(t, 100, 0, 0)
	require.NoError(t, sim.UpdatePrice("BTCUSDT", 50000))

	_, err := sim.ExecuteOrder(context.Background(), marketOrder("poor", exchange.SideBuy, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerr.ErrExchangeRejection))
	// The failed order must not have moved the balance.
	assert.True(t, sim.FreeBalance("poor").Equal(decimal.NewFromInt(100)))
}

func TestSimulator_NoMarkPriceYet(t *testing.T) {
	sim := newSim(t, 10000, 0, 0)
	_, err := sim.ExecuteOrder(context.Background(), marketOrder("b", exchange.SideBuy, 0.1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerr.ErrTransientStore))
}

func TestSimulator_LimitOrderFillsOnFavorableCross(t *testing.T) {
	sim := newSim(t, 10000, 0, 0)

	var mu sync.Mutex
	var fills []*exchange.Order
	sim.SetFillHandler(func(order *exchange.Order) {
		mu.Lock()
		fills = append(fills, order)
		mu.Unlock()
	})

	req := exchange.OrderRequest{
		BotID:      "bot-1",
		Symbol:     "BTCUSDT",
		Side:       exchange.SideBuy,
		Type:       exchange.OrderLimit,
		Qty:        decimal.NewFromFloat(0.1),
		LimitPrice: decimal.NewFromInt(49000),
	}
	order, err := sim.ExecuteOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusPending, order.Status)

	// Above the limit: no fill.
	require.NoError(t, sim.UpdatePrice("BTCUSDT", 49500))
	mu.Lock()
	assert.Empty(t, fills)
	mu.Unlock()

	// At the limit: fills at the limit price, not the sample.
	require.NoError(t, sim.UpdatePrice("BTCUSDT", 48900))
	mu.Lock()
	require.Len(t, fills, 1)
	assert.Equal(t, order.ID, fills[0].ID)
	assert.Equal(t, exchange.StatusFilled, fills[0].Status)
	assert.True(t, fills[0].FillPrice.Equal(decimal.NewFromInt(49000)))
	mu.Unlock()

	assert.True(t, sim.FreeBalance("bot-1").Equal(decimal.NewFromInt(5100)),
		"free %s", sim.FreeBalance("bot-1"))
}

func TestSimulator_CancelRestingOrder(t *testing.T) {
	sim := newSim(t, 10000, 0, 0)

	order, err := sim.ExecuteOrder(context.Background(), exchange.OrderRequest{
		BotID:      "bot-1",
		Symbol:     "BTCUSDT",
		Side:       exchange.SideSell,
		Type:       exchange.OrderLimit,
		Qty:        decimal.NewFromFloat(0.1),
		LimitPrice: decimal.NewFromInt(60000),
	})
	require.NoError(t, err)

	require.NoError(t, sim.CancelOrder(context.Background(), "BTCUSDT", order.ID))
	assert.Equal(t, exchange.StatusCancelled, order.Status)

	err = sim.CancelOrder(context.Background(), "BTCUSDT", order.ID)
	assert.True(t, errors.Is(err, enginerr.ErrExchangeRejection))

	// Cancelled order never fills.
	require.NoError(t, sim.UpdatePrice("BTCUSDT", 61000))
	assert.True(t, sim.FreeBalance("bot-1").Equal(decimal.NewFromInt(10000)))
}

func TestSimulator_BalancesArePerBot(t *testing.T) {
	sim := newSim(t, 1000, 0, 0)
	require.NoError(t, sim.UpdatePrice("BTCUSDT", 100))

	_, err := sim.ExecuteOrder(context.Background(), marketOrder("a", exchange.SideBuy, 2))
	require.NoError(t, err)

	assert.True(t, sim.FreeBalance("a").Equal(decimal.NewFromInt(800)))
	assert.True(t, sim.FreeBalance("b").Equal(decimal.NewFromInt(1000)))

	balances, err := sim.AccountBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1800.0, balances["USDT"].Free, 1e-9)
}
