// Package notifier bridges the event bus to bot executors. It keeps one bus
// subscription per active condition fingerprint and dispatches trigger
// events to the subscribing bots' executors.
package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/internal/bot"
	"github.com/tradebotlab/crypto-bot-engine/internal/bus"
	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
)

const dispatchTimeout = 5 * time.Second

type Notifier struct {
	registry *condition.Registry
	bus      *bus.Bus
	manager  *bot.Manager
	log      *logger.Logger

	mu      sync.Mutex
	handles map[condition.Fingerprint]bus.Handle
}

func New(registry *condition.Registry, b *bus.Bus, manager *bot.Manager, log *logger.Logger) *Notifier {
	return &Notifier{
		registry: registry,
		bus:      b,
		manager:  manager,
		log:      log,
		handles:  make(map[condition.Fingerprint]bus.Handle),
	}
}

// Start scans the active subscriptions and subscribes to every fingerprint.
// Called once on process start; Refresh keeps the set current afterwards.
func (n *Notifier) Start(ctx context.Context) error {
	return n.Refresh(ctx)
}

// Refresh reconciles bus subscriptions with the current active fingerprint
// set. Subscription changes land within one evaluator cycle because the
// engine calls this on the cycle cadence.
func (n *Notifier) Refresh(ctx context.Context) error {
	fps, err := n.registry.ActiveFingerprints(ctx)
	if err != nil {
		return err
	}
	want := make(map[condition.Fingerprint]bool, len(fps))
	for _, fp := range fps {
		want[fp] = true
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for fp := range want {
		if _, subscribed := n.handles[fp]; subscribed {
			continue
		}
		topic := "condition." + fp.String()
		n.handles[fp] = n.bus.Subscribe(topic, "notifier", n.handleTrigger)
		n.log.Debug("notifier subscribed to %s", topic)
	}
	for fp, h := range n.handles {
		if !want[fp] {
			n.bus.Unsubscribe(h)
			delete(n.handles, fp)
			n.log.Debug("notifier unsubscribed from condition.%s", fp)
		}
	}
	return nil
}

// handleTrigger fans one trigger event out to the subscribing bots. Bots
// that are not running are skipped inside the manager with a DEBUG log.
func (n *Notifier) handleTrigger(evt condition.TriggerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	subs, err := n.registry.Subscribers(ctx, evt.Fingerprint)
	if err != nil {
		n.log.LogError("Notifier", "load subscribers for %s: %v", evt.Fingerprint, err)
		return
	}
	for i := range subs {
		sub := subs[i]
		if sub.Status != condition.SubscriptionActive {
			continue
		}
		n.manager.Dispatch(ctx, sub, evt)
	}
}

// Close drops every bus subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for fp, h := range n.handles {
		n.bus.Unsubscribe(h)
		delete(n.handles, fp)
	}
}
