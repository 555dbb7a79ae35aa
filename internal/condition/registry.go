package condition

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
)

// Store is the persistence the registry consumes. Implementations live in
// internal/store; the datastore itself (and its row-level security) is an
// external collaborator.
type Store interface {
	UpsertCondition(ctx context.Context, rec *Record) error
	GetCondition(ctx context.Context, fp Fingerprint) (*Record, error)
	UpdateConditionStats(ctx context.Context, fp Fingerprint, evaluatedAt, triggeredAt time.Time, triggered bool) error

	InsertSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string) error
	DeleteSubscriptionsByBot(ctx context.Context, botID string) error
	ActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	SubscriptionsByFingerprint(ctx context.Context, fp Fingerprint) ([]Subscription, error)
}

// Registry canonicalizes conditions, deduplicates them by fingerprint, and
// maintains subscription rows. All operations are idempotent on identical
// input so callers may retry after a TransientStoreError.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Register canonicalizes the condition and inserts its record if absent.
// Returns the fingerprint either way.
func (r *Registry) Register(ctx context.Context, c *Condition) (Fingerprint, error) {
	if err := c.Canonicalize(); err != nil {
		return "", err
	}
	fp, err := c.Fingerprint()
	if err != nil {
		return "", err
	}
	body, err := c.CanonicalJSON()
	if err != nil {
		return "", err
	}
	rec := &Record{
		Fingerprint: fp,
		Type:        c.Type,
		Symbol:      c.Symbol,
		Timeframe:   c.Timeframe,
		Config:      body,
	}
	if err := r.store.UpsertCondition(ctx, rec); err != nil {
		return "", enginerr.Wrap(err, enginerr.KindTransientStore, component, "register")
	}
	return fp, nil
}

// RegisterPlaybook registers every item condition under its own fingerprint
// and then the shallow wrapper record for the playbook itself. Bots
// subscribe only to the returned wrapper fingerprint.
func (r *Registry) RegisterPlaybook(ctx context.Context, p *Playbook) (Fingerprint, error) {
	if err := p.Canonicalize(); err != nil {
		return "", err
	}
	for i := range p.Items {
		it := &p.Items[i]
		body, err := it.Condition.CanonicalJSON()
		if err != nil {
			return "", err
		}
		rec := &Record{
			Fingerprint: it.fingerprint,
			Type:        it.Condition.Type,
			Symbol:      it.Condition.Symbol,
			Timeframe:   it.Condition.Timeframe,
			Config:      body,
		}
		if err := r.store.UpsertCondition(ctx, rec); err != nil {
			return "", enginerr.Wrap(err, enginerr.KindTransientStore, component, "register_playbook")
		}
	}

	fp, err := p.Fingerprint()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	// The wrapper inherits symbol/timeframe from the first item for grouping;
	// multi-symbol playbooks are evaluated against every group they touch.
	first := &p.Items[0].Condition
	rec := &Record{
		Fingerprint: fp,
		Type:        TypePlaybook,
		Symbol:      first.Symbol,
		Timeframe:   first.Timeframe,
		Config:      body,
	}
	if err := r.store.UpsertCondition(ctx, rec); err != nil {
		return "", enginerr.Wrap(err, enginerr.KindTransientStore, component, "register_playbook")
	}
	return fp, nil
}

// Subscribe creates an active subscription for the bot on the fingerprint.
func (r *Registry) Subscribe(ctx context.Context, botID, userID, botType string, fp Fingerprint, snapshot json.RawMessage) (string, error) {
	if _, err := r.store.GetCondition(ctx, fp); err != nil {
		return "", enginerr.Wrap(err, enginerr.KindTransientStore, component, "subscribe")
	}
	sub := &Subscription{
		ID:          uuid.NewString(),
		UserID:      userID,
		BotID:       botID,
		BotType:     botType,
		Fingerprint: fp,
		BotConfig:   snapshot,
		Status:      SubscriptionActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.InsertSubscription(ctx, sub); err != nil {
		return "", enginerr.Wrap(err, enginerr.KindTransientStore, component, "subscribe")
	}
	return sub.ID, nil
}

// Unsubscribe revokes a subscription.
func (r *Registry) Unsubscribe(ctx context.Context, subscriptionID string) error {
	return r.SetStatus(ctx, subscriptionID, SubscriptionRevoked)
}

// SetStatus updates a subscription's status.
func (r *Registry) SetStatus(ctx context.Context, subscriptionID, status string) error {
	switch status {
	case SubscriptionActive, SubscriptionPaused, SubscriptionRevoked:
	default:
		return enginerr.New(enginerr.KindBadCondition, component, "set_status", "unknown subscription status %q", status)
	}
	if err := r.store.UpdateSubscriptionStatus(ctx, subscriptionID, status); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "set_status")
	}
	return nil
}

// RemoveBot revokes and deletes all subscriptions held by a bot; called from
// the bot-deletion cascade.
func (r *Registry) RemoveBot(ctx context.Context, botID string) error {
	if err := r.store.DeleteSubscriptionsByBot(ctx, botID); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "remove_bot")
	}
	return nil
}

// ActiveFingerprints returns the distinct fingerprints with at least one
// active subscription. The evaluator snapshots this set each cycle.
func (r *Registry) ActiveFingerprints(ctx context.Context) ([]Fingerprint, error) {
	subs, err := r.store.ActiveSubscriptions(ctx)
	if err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientStore, component, "active_fingerprints")
	}
	seen := make(map[Fingerprint]bool, len(subs))
	out := make([]Fingerprint, 0, len(subs))
	for i := range subs {
		fp := subs[i].Fingerprint
		if !seen[fp] {
			seen[fp] = true
			out = append(out, fp)
		}
	}
	return out, nil
}

// Subscribers lists the subscriptions pointing at a fingerprint.
func (r *Registry) Subscribers(ctx context.Context, fp Fingerprint) ([]Subscription, error) {
	subs, err := r.store.SubscriptionsByFingerprint(ctx, fp)
	if err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientStore, component, "subscribers")
	}
	return subs, nil
}

// Condition loads a condition record by fingerprint.
func (r *Registry) Condition(ctx context.Context, fp Fingerprint) (*Record, error) {
	rec, err := r.store.GetCondition(ctx, fp)
	if err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientStore, component, "get_condition")
	}
	return rec, nil
}

// MarkEvaluated advances evaluation stats for a fingerprint; when triggered
// it also stamps LastTriggeredAt with the bar close time.
func (r *Registry) MarkEvaluated(ctx context.Context, fp Fingerprint, evaluatedAt, barClose time.Time, triggered bool) error {
	if err := r.store.UpdateConditionStats(ctx, fp, evaluatedAt, barClose, triggered); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "mark_evaluated")
	}
	return nil
}
