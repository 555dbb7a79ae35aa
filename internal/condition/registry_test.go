package condition

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a map-backed Store for registry tests.
type fakeStore struct {
	conditions map[Fingerprint]*Record
	subs       map[string]*Subscription
	upserts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conditions: make(map[Fingerprint]*Record),
		subs:       make(map[string]*Subscription),
	}
}

func (s *fakeStore) UpsertCondition(ctx context.Context, rec *Record) error {
	s.upserts++
	if _, found := s.conditions[rec.Fingerprint]; !found {
		cp := *rec
		s.conditions[rec.Fingerprint] = &cp
	}
	return nil
}

func (s *fakeStore) GetCondition(ctx context.Context, fp Fingerprint) (*Record, error) {
	rec, found := s.conditions[fp]
	if !found {
		return nil, fmt.Errorf("condition %s not found", fp)
	}
	return rec, nil
}

func (s *fakeStore) UpdateConditionStats(ctx context.Context, fp Fingerprint, evaluatedAt, triggeredAt time.Time, triggered bool) error {
	rec, found := s.conditions[fp]
	if !found {
		return fmt.Errorf("condition %s not found", fp)
	}
	rec.LastEvaluatedAt = evaluatedAt
	rec.EvaluationCount++
	if triggered {
		rec.LastTriggeredAt = triggeredAt
		rec.TriggerCount++
	}
	return nil
}

func (s *fakeStore) InsertSubscription(ctx context.Context, sub *Subscription) error {
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *fakeStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	sub, found := s.subs[id]
	if !found {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	return sub, nil
}

func (s *fakeStore) UpdateSubscriptionStatus(ctx context.Context, id, status string) error {
	sub, found := s.subs[id]
	if !found {
		return fmt.Errorf("subscription %s not found", id)
	}
	sub.Status = status
	return nil
}

func (s *fakeStore) DeleteSubscriptionsByBot(ctx context.Context, botID string) error {
	for id, sub := range s.subs {
		if sub.BotID == botID {
			delete(s.subs, id)
		}
	}
	return nil
}

func (s *fakeStore) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range s.subs {
		if sub.Status == SubscriptionActive {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *fakeStore) SubscriptionsByFingerprint(ctx context.Context, fp Fingerprint) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range s.subs {
		if sub.Fingerprint == fp {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	st := newFakeStore()
	r := NewRegistry(st)
	ctx := context.Background()

	fp1, err := r.Register(ctx, rsiBelow30(t))
	require.NoError(t, err)
	fp2, err := r.Register(ctx, rsiBelow30(t))
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Len(t, st.conditions, 1)
}

func TestRegistry_SubscribeAndActiveFingerprints(t *testing.T) {
	st := newFakeStore()
	r := NewRegistry(st)
	ctx := context.Background()

	fp, err := r.Register(ctx, rsiBelow30(t))
	require.NoError(t, err)

	subID, err := r.Subscribe(ctx, "bot-1", "user-1", "dca", fp, nil)
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "bot-2", "user-1", "dca", fp, nil)
	require.NoError(t, err)

	fps, err := r.ActiveFingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Fingerprint{fp}, fps, "shared fingerprint deduplicated")

	require.NoError(t, r.Unsubscribe(ctx, subID))
	sub, err := r.Subscribers(ctx, fp)
	require.NoError(t, err)
	statuses := map[string]string{}
	for _, s := range sub {
		statuses[s.BotID] = s.Status
	}
	assert.Equal(t, SubscriptionRevoked, statuses["bot-1"])
	assert.Equal(t, SubscriptionActive, statuses["bot-2"])
}

func TestRegistry_SubscribeUnknownFingerprint(t *testing.T) {
	r := NewRegistry(newFakeStore())
	_, err := r.Subscribe(context.Background(), "bot-1", "user-1", "dca", "deadbeef", nil)
	assert.Error(t, err)
}

func TestRegistry_RegisterPlaybook(t *testing.T) {
	st := newFakeStore()
	r := NewRegistry(st)
	ctx := context.Background()

	p := twoItemPlaybook(t)
	fp, err := r.RegisterPlaybook(ctx, p)
	require.NoError(t, err)

	// Two item records plus the wrapper.
	assert.Len(t, st.conditions, 3)
	wrapper, err := r.Condition(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, TypePlaybook, wrapper.Type)
	assert.Equal(t, "BTCUSDT", wrapper.Symbol)

	for i := range p.Items {
		_, err := r.Condition(ctx, p.Items[i].ItemFingerprint())
		assert.NoError(t, err, "item %d registered", i)
	}
}

func TestRegistry_RemoveBotCascade(t *testing.T) {
	st := newFakeStore()
	r := NewRegistry(st)
	ctx := context.Background()

	fp, err := r.Register(ctx, rsiBelow30(t))
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "bot-1", "user-1", "dca", fp, nil)
	require.NoError(t, err)

	require.NoError(t, r.RemoveBot(ctx, "bot-1"))
	fps, err := r.ActiveFingerprints(ctx)
	require.NoError(t, err)
	assert.Empty(t, fps)
}

func TestRegistry_MarkEvaluatedKeepsInvariant(t *testing.T) {
	st := newFakeStore()
	r := NewRegistry(st)
	ctx := context.Background()

	fp, err := r.Register(ctx, rsiBelow30(t))
	require.NoError(t, err)

	barClose := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	evaluatedAt := barClose.Add(3 * time.Second)
	require.NoError(t, r.MarkEvaluated(ctx, fp, evaluatedAt, barClose, true))

	rec, err := r.Condition(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TriggerCount)
	assert.Equal(t, int64(1), rec.EvaluationCount)
	assert.True(t, rec.LastTriggeredAt.Equal(barClose))
	// last_triggered_at never exceeds last_evaluated_at
	assert.False(t, rec.LastTriggeredAt.After(rec.LastEvaluatedAt))
}
