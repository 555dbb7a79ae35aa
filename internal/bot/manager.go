package bot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/config"
	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
	"github.com/tradebotlab/crypto-bot-engine/internal/monitoring"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// Manager owns bot lifecycle transitions and the running executors. Status
// transitions outside the allowed edges are rejected with
// InvalidStateTransition.
type Manager struct {
	store    Store
	registry *condition.Registry
	sink     exchange.OrderExecutor
	log      *logger.Logger
	cfg      config.ExecutorConfig

	mu        sync.Mutex
	executors map[string]*Executor
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewManager(store Store, registry *condition.Registry, sink exchange.OrderExecutor,
	cfg config.ExecutorConfig, log *logger.Logger) *Manager {

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		registry:  registry,
		sink:      sink,
		log:       log,
		cfg:       cfg,
		executors: make(map[string]*Executor),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// transition validates a bot status edge.
func transition(from, to string) error {
	allowed := false
	switch to {
	case StatusRunning:
		allowed = from == StatusInactive || from == StatusStopped || from == StatusPaused
	case StatusPaused:
		allowed = from == StatusRunning
	case StatusStopped:
		allowed = from == StatusRunning || from == StatusPaused
	}
	if !allowed {
		return enginerr.New(enginerr.KindInvalidStateTransition, component, "transition",
			"cannot move bot from %s to %s", from, to)
	}
	return nil
}

// Create persists a new bot in status inactive after validating its config.
func (m *Manager) Create(ctx context.Context, b *Bot) error {
	if b.Type == BotTypeDCA {
		if _, err := ParseDCAConfig(b.Config); err != nil {
			return err
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Status = StatusInactive
	b.CreatedAt = time.Now().UTC()
	if err := m.store.SaveBot(ctx, b); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "create")
	}
	return nil
}

// Start moves the bot to running, opens a new run, and spawns its executor.
// Allowed only from inactive or stopped.
func (m *Manager) Start(ctx context.Context, botID string) error {
	b, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "start")
	}
	if b.Status == StatusPaused {
		return enginerr.New(enginerr.KindInvalidStateTransition, component, "start",
			"bot %s is paused; resume it instead", botID)
	}
	if err := transition(b.Status, StatusRunning); err != nil {
		return err
	}

	cfg, err := ParseDCAConfig(b.Config)
	if err != nil {
		return err
	}

	run := &Run{
		ID:        uuid.NewString(),
		BotID:     b.ID,
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
	}
	if err := m.store.InsertRun(ctx, run); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "start")
	}
	if err := m.store.UpdateBotStatus(ctx, b.ID, StatusRunning); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "start")
	}

	x := newExecutor(b, run, cfg, m.store, m.sink, m.log, m.cfg.MailboxSize)
	x.restore(ctx)

	m.mu.Lock()
	m.executors[b.ID] = x
	monitoring.SetActiveBots(len(m.executors))
	m.mu.Unlock()

	go x.loop(m.ctx)
	m.log.Status("bot %s started (run %s)", b.ID, run.ID)
	return nil
}

// Pause suspends a running bot; its executor keeps its position but ignores
// triggers until resumed.
func (m *Manager) Pause(ctx context.Context, botID string) error {
	return m.command(ctx, botID, StatusPaused, msgPause)
}

// Resume returns a paused bot to running.
func (m *Manager) Resume(ctx context.Context, botID string) error {
	b, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "resume")
	}
	if b.Status != StatusPaused {
		return enginerr.New(enginerr.KindInvalidStateTransition, component, "resume",
			"cannot resume bot in status %s", b.Status)
	}
	if err := m.store.UpdateBotStatus(ctx, botID, StatusRunning); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "resume")
	}
	m.send(botID, message{kind: msgResume})
	return nil
}

// Stop ends the bot's run: working orders are cancelled, the executor exits,
// and the bot lands in stopped.
func (m *Manager) Stop(ctx context.Context, botID string) error {
	b, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "stop")
	}
	if err := transition(b.Status, StatusStopped); err != nil {
		return err
	}
	if err := m.store.UpdateBotStatus(ctx, botID, StatusStopped); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "stop")
	}

	m.mu.Lock()
	x := m.executors[botID]
	delete(m.executors, botID)
	monitoring.SetActiveBots(len(m.executors))
	m.mu.Unlock()

	if x == nil {
		return nil
	}
	x.offer(message{kind: msgStop})
	select {
	case <-x.done:
	case <-time.After(m.cfg.StopDeadline):
		m.log.LogWarning("Manager", "bot %s executor did not stop within %s", botID, m.cfg.StopDeadline)
	}
	return nil
}

// Delete removes the bot and cascades to its subscriptions. Historical order
// and position rows are retained.
func (m *Manager) Delete(ctx context.Context, botID string) error {
	b, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "delete")
	}
	if b.Status == StatusRunning || b.Status == StatusPaused {
		if err := m.Stop(ctx, botID); err != nil {
			return err
		}
	}
	if err := m.registry.RemoveBot(ctx, botID); err != nil {
		return err
	}
	if err := m.store.DeleteBot(ctx, botID); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "delete")
	}
	m.log.Info("bot %s deleted", botID)
	return nil
}

func (m *Manager) command(ctx context.Context, botID, toStatus string, kind msgKind) error {
	b, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "command")
	}
	if err := transition(b.Status, toStatus); err != nil {
		return err
	}
	if err := m.store.UpdateBotStatus(ctx, botID, toStatus); err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientStore, component, "command")
	}
	m.send(botID, message{kind: kind})
	return nil
}

func (m *Manager) send(botID string, msg message) {
	m.mu.Lock()
	x := m.executors[botID]
	m.mu.Unlock()
	if x != nil {
		x.offer(msg)
	}
}

// Dispatch routes a trigger event to the subscribing bot's executor. Events
// for bots that are not running are dropped with a DEBUG log.
func (m *Manager) Dispatch(ctx context.Context, sub condition.Subscription, evt condition.TriggerEvent) {
	m.mu.Lock()
	x := m.executors[sub.BotID]
	m.mu.Unlock()
	if x == nil {
		m.log.Debug("trigger %s for bot %s dropped: no running executor", evt.Fingerprint, sub.BotID)
		return
	}

	kind := msgEntry
	if x.cfg.Rule == RuleCustomCondition &&
		condition.Fingerprint(x.cfg.CustomConditionFP) == evt.Fingerprint {
		kind = msgCustomDCA
	}
	x.offer(message{kind: kind, event: evt})
}

// HandleTick fans a price tick out to every executor trading the symbol.
func (m *Manager) HandleTick(tick types.Ticker) {
	monitoring.UpdatePrice(tick.Symbol, tick.Price)

	m.mu.Lock()
	targets := make([]*Executor, 0, len(m.executors))
	for _, x := range m.executors {
		if x.bot.Symbol == tick.Symbol {
			targets = append(targets, x)
		}
	}
	m.mu.Unlock()

	for _, x := range targets {
		x.offer(message{kind: msgTick, tick: tick})
	}
}

// Running returns the bot IDs with a live executor.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.executors))
	for id := range m.executors {
		ids = append(ids, id)
	}
	return ids
}

// Symbols returns the distinct symbols traded by running executors; the
// ticker stream subscribes to exactly this set.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(m.executors))
	out := make([]string, 0, len(m.executors))
	for _, x := range m.executors {
		if !seen[x.bot.Symbol] {
			seen[x.bot.Symbol] = true
			out = append(out, x.bot.Symbol)
		}
	}
	return out
}

// Executor returns the live executor for a bot, or nil.
func (m *Manager) Executor(botID string) *Executor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executors[botID]
}

// Shutdown stops every executor. Called on engine shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, botID := range m.Running() {
		if err := m.Stop(ctx, botID); err != nil {
			m.log.LogWarning("Manager", "stop bot %s: %v", botID, err)
		}
	}
	m.cancel()
}
