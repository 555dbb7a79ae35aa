package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradebotlab/crypto-bot-engine/internal/bot"
	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

func sampleRecord(fp string) *condition.Record {
	return &condition.Record{
		Fingerprint: condition.Fingerprint(fp),
		Type:        "indicator",
		Symbol:      "BTCUSDT",
		Timeframe:   types.Timeframe1h,
		Config:      json.RawMessage(`{"indicator":"rsi"}`),
	}
}

func TestMemoryStore_UpsertKeepsStats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertCondition(ctx, sampleRecord("aa")))
	barClose := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateConditionStats(ctx, "aa", barClose.Add(time.Second), barClose, true))

	// Re-registering the same fingerprint must not reset counters.
	require.NoError(t, s.UpsertCondition(ctx, sampleRecord("aa")))

	rec, err := s.GetCondition(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TriggerCount)
	assert.Equal(t, int64(1), rec.EvaluationCount)
	assert.True(t, rec.LastTriggeredAt.Equal(barClose))
}

func TestMemoryStore_TriggerStampsActiveSubscriptions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertCondition(ctx, sampleRecord("aa")))
	require.NoError(t, s.InsertSubscription(ctx, &condition.Subscription{
		ID: "sub-1", BotID: "bot-1", Fingerprint: "aa", Status: condition.SubscriptionActive,
	}))
	require.NoError(t, s.InsertSubscription(ctx, &condition.Subscription{
		ID: "sub-2", BotID: "bot-2", Fingerprint: "aa", Status: condition.SubscriptionRevoked,
	}))

	barClose := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateConditionStats(ctx, "aa", barClose.Add(time.Second), barClose, true))

	active, err := s.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, active.LastTriggeredAt.Equal(barClose))

	revoked, err := s.GetSubscription(ctx, "sub-2")
	require.NoError(t, err)
	assert.True(t, revoked.LastTriggeredAt.IsZero(), "revoked subscriptions are not stamped")
}

func TestMemoryStore_ActiveSubscriptionsFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, status := range []string{
		condition.SubscriptionActive,
		condition.SubscriptionPaused,
		condition.SubscriptionRevoked,
	} {
		require.NoError(t, s.InsertSubscription(ctx, &condition.Subscription{
			ID: string(rune('a' + i)), BotID: "bot-1", Fingerprint: "aa", Status: status,
		}))
	}

	subs, err := s.ActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, condition.SubscriptionActive, subs[0].Status)
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetCondition(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetBot(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetPosition(ctx, "missing", "BTCUSDT")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := OpenFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.UpsertCondition(ctx, sampleRecord("aa")))
	require.NoError(t, fs.InsertSubscription(ctx, &condition.Subscription{
		ID: "sub-1", BotID: "bot-1", Fingerprint: "aa", Status: condition.SubscriptionActive,
	}))
	require.NoError(t, fs.SaveBot(ctx, &bot.Bot{
		ID: "bot-1", Type: bot.BotTypeDCA, Status: bot.StatusRunning,
		Symbol: "BTCUSDT", Interval: types.Timeframe1h,
		Config: json.RawMessage(`{"base_order_size":100}`),
	}))
	require.NoError(t, fs.InsertRun(ctx, &bot.Run{
		ID: "run-1", BotID: "bot-1", StartedAt: time.Now().UTC(), Status: bot.RunRunning,
	}))
	require.NoError(t, fs.SavePosition(ctx, &bot.Position{
		BotID: "bot-1", Symbol: "BTCUSDT",
		Qty: decimal.NewFromInt(2), AvgEntryPrice: decimal.NewFromInt(95),
	}))
	for _, id := range []string{"ord-1", "ord-2", "ord-3"} {
		require.NoError(t, fs.InsertOrder(ctx, &exchange.Order{
			ID: id, BotID: "bot-1", RunID: "run-1", Symbol: "BTCUSDT",
			Side: exchange.SideBuy, Type: exchange.OrderMarket,
			Qty: decimal.NewFromInt(1), FillPrice: decimal.NewFromInt(95),
			Status: exchange.StatusFilled, CreatedAt: time.Now().UTC(),
		}))
	}

	// Reopen from disk.
	reopened, err := OpenFileStore(dir)
	require.NoError(t, err)

	rec, err := reopened.GetCondition(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", rec.Symbol)

	subs, err := reopened.ActiveSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	b, err := reopened.GetBot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, bot.StatusRunning, b.Status)

	run, err := reopened.ActiveRun(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)

	pos, err := reopened.GetPosition(ctx, "bot-1", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Qty.Equal(decimal.NewFromInt(2)))

	orders, err := reopened.OrdersByBot(ctx, "bot-1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "ord-1", orders[0].ID, "insertion order survives the snapshot")
	assert.Equal(t, "ord-3", orders[2].ID)
}

func TestFileStore_DebounceStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := OpenFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.UpsertCondition(ctx, sampleRecord("aa")))

	barClose := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.UpdateConditionStats(ctx, "aa", barClose.Add(3*time.Second), barClose, true))

	reopened, err := OpenFileStore(dir)
	require.NoError(t, err)
	rec, err := reopened.GetCondition(ctx, "aa")
	require.NoError(t, err)
	assert.True(t, rec.LastTriggeredAt.Equal(barClose),
		"last_triggered_at backs the per-bar debounce across restarts")
}

func TestFileStore_DeleteBotKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := OpenFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.SaveBot(ctx, &bot.Bot{ID: "bot-1", Symbol: "BTCUSDT"}))
	require.NoError(t, fs.InsertOrder(ctx, &exchange.Order{
		ID: "ord-1", BotID: "bot-1", Symbol: "BTCUSDT",
		Qty: decimal.NewFromInt(1), Status: exchange.StatusFilled,
	}))

	require.NoError(t, fs.DeleteBot(ctx, "bot-1"))

	reopened, err := OpenFileStore(dir)
	require.NoError(t, err)
	_, err = reopened.GetBot(ctx, "bot-1")
	assert.Error(t, err)
	orders, err := reopened.OrdersByBot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1, "order history outlives the bot row")
}
