// Package store provides the engine's datastore implementations: an
// in-memory store for tests and single-process runs, and a JSON file store
// that snapshots the same tables to disk with atomic writes.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/internal/bot"
	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
)

// ErrNotFound is returned for lookups of absent rows.
var ErrNotFound = fmt.Errorf("store: not found")

// MemoryStore holds every table in process memory. It implements both
// condition.Store and bot.Store.
type MemoryStore struct {
	mu sync.RWMutex

	conditions    map[condition.Fingerprint]*condition.Record
	subscriptions map[string]*condition.Subscription

	bots      map[string]*bot.Bot
	runs      map[string]*bot.Run
	positions map[string]*bot.Position // keyed botID|symbol
	orders    map[string]*exchange.Order
	orderSeq  []string // insertion order, orders are append-only
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conditions:    make(map[condition.Fingerprint]*condition.Record),
		subscriptions: make(map[string]*condition.Subscription),
		bots:          make(map[string]*bot.Bot),
		runs:          make(map[string]*bot.Run),
		positions:     make(map[string]*bot.Position),
		orders:        make(map[string]*exchange.Order),
	}
}

// --- condition.Store ---

func (s *MemoryStore) UpsertCondition(ctx context.Context, rec *condition.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, found := s.conditions[rec.Fingerprint]; found {
		// Registration is idempotent: stats on the existing row survive.
		existing.Config = rec.Config
		return nil
	}
	cp := *rec
	s.conditions[rec.Fingerprint] = &cp
	return nil
}

func (s *MemoryStore) GetCondition(ctx context.Context, fp condition.Fingerprint) (*condition.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, found := s.conditions[fp]
	if !found {
		return nil, fmt.Errorf("condition %s: %w", fp, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) UpdateConditionStats(ctx context.Context, fp condition.Fingerprint,
	evaluatedAt, triggeredAt time.Time, triggered bool) error {

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.conditions[fp]
	if !found {
		return fmt.Errorf("condition %s: %w", fp, ErrNotFound)
	}
	rec.LastEvaluatedAt = evaluatedAt
	rec.EvaluationCount++
	if triggered {
		rec.LastTriggeredAt = triggeredAt
		rec.TriggerCount++
		for _, sub := range s.subscriptions {
			if sub.Fingerprint == fp && sub.Status == condition.SubscriptionActive {
				sub.LastTriggeredAt = triggeredAt
			}
		}
	}
	return nil
}

func (s *MemoryStore) InsertSubscription(ctx context.Context, sub *condition.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*condition.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, found := s.subscriptions[id]
	if !found {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) UpdateSubscriptionStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, found := s.subscriptions[id]
	if !found {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	sub.Status = status
	return nil
}

func (s *MemoryStore) DeleteSubscriptionsByBot(ctx context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subscriptions {
		if sub.BotID == botID {
			delete(s.subscriptions, id)
		}
	}
	return nil
}

func (s *MemoryStore) ActiveSubscriptions(ctx context.Context) ([]condition.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]condition.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if sub.Status == condition.SubscriptionActive {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SubscriptionsByFingerprint(ctx context.Context, fp condition.Fingerprint) ([]condition.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []condition.Subscription
	for _, sub := range s.subscriptions {
		if sub.Fingerprint == fp {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- bot.Store ---

func (s *MemoryStore) SaveBot(ctx context.Context, b *bot.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bots[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBot(ctx context.Context, botID string) (*bot.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, found := s.bots[botID]
	if !found {
		return nil, fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) UpdateBotStatus(ctx context.Context, botID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, found := s.bots[botID]
	if !found {
		return fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}
	b.Status = status
	return nil
}

func (s *MemoryStore) DeleteBot(ctx context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, botID)
	return nil
}

func (s *MemoryStore) ListBots(ctx context.Context) ([]bot.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertRun(ctx context.Context, run *bot.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *bot.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.runs[run.ID]; !found {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveRun(ctx context.Context, botID string) (*bot.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		if run.BotID == botID && run.Status == bot.RunRunning {
			cp := *run
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active run for bot %s: %w", botID, ErrNotFound)
}

func (s *MemoryStore) RunsByBot(ctx context.Context, botID string) ([]bot.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bot.Run
	for _, run := range s.runs {
		if run.BotID == botID {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func posKey(botID, symbol string) string { return botID + "|" + symbol }

func (s *MemoryStore) SavePosition(ctx context.Context, pos *bot.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pos
	s.positions[posKey(pos.BotID, pos.Symbol)] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(ctx context.Context, botID, symbol string) (*bot.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, found := s.positions[posKey(botID, symbol)]
	if !found {
		return nil, fmt.Errorf("position %s/%s: %w", botID, symbol, ErrNotFound)
	}
	cp := *pos
	return &cp, nil
}

func (s *MemoryStore) PositionsByBot(ctx context.Context, botID string) ([]bot.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bot.Position
	for _, pos := range s.positions {
		if pos.BotID == botID {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) InsertOrder(ctx context.Context, order *exchange.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.orders[order.ID]; !found {
		s.orderSeq = append(s.orderSeq, order.ID)
	}
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID string, status exchange.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, found := s.orders[orderID]
	if !found {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	order.Status = status
	return nil
}

func (s *MemoryStore) OrdersByBot(ctx context.Context, botID string) ([]exchange.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []exchange.Order
	for _, id := range s.orderSeq {
		if order := s.orders[id]; order.BotID == botID {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (s *MemoryStore) OrdersByRun(ctx context.Context, runID string) ([]exchange.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []exchange.Order
	for _, id := range s.orderSeq {
		if order := s.orders[id]; order.RunID == runID {
			out = append(out, *order)
		}
	}
	return out, nil
}
