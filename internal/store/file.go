package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/internal/bot"
	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
)

const snapshotVersion = "1"

// snapshot is the on-disk shape of every table.
type snapshot struct {
	Version       string                   `json:"version"`
	SavedAt       time.Time                `json:"saved_at"`
	Conditions    []condition.Record       `json:"conditions"`
	Subscriptions []condition.Subscription `json:"subscriptions"`
	Bots          []bot.Bot                `json:"bots"`
	Runs          []bot.Run                `json:"runs"`
	Positions     []bot.Position           `json:"positions"`
	Orders        []exchange.Order         `json:"orders"`
}

// FileStore wraps a MemoryStore with a JSON snapshot on disk. Every mutation
// rewrites the snapshot through a temp file and rename so a crash never
// leaves a torn state file.
type FileStore struct {
	*MemoryStore
	path string
	mu   sync.Mutex
}

// OpenFileStore loads (or creates) the snapshot under dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        filepath.Join(dir, "engine_state.json"),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	m := f.MemoryStore
	for i := range snap.Conditions {
		rec := snap.Conditions[i]
		m.conditions[rec.Fingerprint] = &rec
	}
	for i := range snap.Subscriptions {
		sub := snap.Subscriptions[i]
		m.subscriptions[sub.ID] = &sub
	}
	for i := range snap.Bots {
		b := snap.Bots[i]
		m.bots[b.ID] = &b
	}
	for i := range snap.Runs {
		run := snap.Runs[i]
		m.runs[run.ID] = &run
	}
	for i := range snap.Positions {
		pos := snap.Positions[i]
		m.positions[posKey(pos.BotID, pos.Symbol)] = &pos
	}
	for i := range snap.Orders {
		order := snap.Orders[i]
		m.orders[order.ID] = &order
		m.orderSeq = append(m.orderSeq, order.ID)
	}
	return nil
}

// persist writes the whole snapshot atomically.
func (f *FileStore) persist() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := f.MemoryStore
	m.mu.RLock()
	snap := snapshot{Version: snapshotVersion, SavedAt: time.Now().UTC()}
	for _, rec := range m.conditions {
		snap.Conditions = append(snap.Conditions, *rec)
	}
	for _, sub := range m.subscriptions {
		snap.Subscriptions = append(snap.Subscriptions, *sub)
	}
	for _, b := range m.bots {
		snap.Bots = append(snap.Bots, *b)
	}
	for _, run := range m.runs {
		snap.Runs = append(snap.Runs, *run)
	}
	for _, pos := range m.positions {
		snap.Positions = append(snap.Positions, *pos)
	}
	for _, id := range m.orderSeq {
		snap.Orders = append(snap.Orders, *m.orders[id])
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *FileStore) after(err error) error {
	if err != nil {
		return err
	}
	return f.persist()
}

// --- condition.Store, persisted ---

func (f *FileStore) UpsertCondition(ctx context.Context, rec *condition.Record) error {
	return f.after(f.MemoryStore.UpsertCondition(ctx, rec))
}

func (f *FileStore) UpdateConditionStats(ctx context.Context, fp condition.Fingerprint,
	evaluatedAt, triggeredAt time.Time, triggered bool) error {
	return f.after(f.MemoryStore.UpdateConditionStats(ctx, fp, evaluatedAt, triggeredAt, triggered))
}

func (f *FileStore) InsertSubscription(ctx context.Context, sub *condition.Subscription) error {
	return f.after(f.MemoryStore.InsertSubscription(ctx, sub))
}

func (f *FileStore) UpdateSubscriptionStatus(ctx context.Context, id, status string) error {
	return f.after(f.MemoryStore.UpdateSubscriptionStatus(ctx, id, status))
}

func (f *FileStore) DeleteSubscriptionsByBot(ctx context.Context, botID string) error {
	return f.after(f.MemoryStore.DeleteSubscriptionsByBot(ctx, botID))
}

// --- bot.Store, persisted ---

func (f *FileStore) SaveBot(ctx context.Context, b *bot.Bot) error {
	return f.after(f.MemoryStore.SaveBot(ctx, b))
}

func (f *FileStore) UpdateBotStatus(ctx context.Context, botID, status string) error {
	return f.after(f.MemoryStore.UpdateBotStatus(ctx, botID, status))
}

func (f *FileStore) DeleteBot(ctx context.Context, botID string) error {
	return f.after(f.MemoryStore.DeleteBot(ctx, botID))
}

func (f *FileStore) InsertRun(ctx context.Context, run *bot.Run) error {
	return f.after(f.MemoryStore.InsertRun(ctx, run))
}

func (f *FileStore) UpdateRun(ctx context.Context, run *bot.Run) error {
	return f.after(f.MemoryStore.UpdateRun(ctx, run))
}

func (f *FileStore) SavePosition(ctx context.Context, pos *bot.Position) error {
	return f.after(f.MemoryStore.SavePosition(ctx, pos))
}

func (f *FileStore) InsertOrder(ctx context.Context, order *exchange.Order) error {
	return f.after(f.MemoryStore.InsertOrder(ctx, order))
}

func (f *FileStore) UpdateOrderStatus(ctx context.Context, orderID string, status exchange.OrderStatus) error {
	return f.after(f.MemoryStore.UpdateOrderStatus(ctx, orderID, status))
}
