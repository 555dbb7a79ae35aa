package bot

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
	"github.com/tradebotlab/crypto-bot-engine/internal/monitoring"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// Executor states.
type State string

const (
	StateIdle         State = "IDLE"
	StateAccumulating State = "ACCUMULATING"
	StateExiting      State = "EXITING"
	StatePaused       State = "PAUSED"
	StateStopped      State = "STOPPED"
)

type msgKind int

const (
	msgEntry msgKind = iota
	msgCustomDCA
	msgTick
	msgPause
	msgResume
	msgStop
)

type message struct {
	kind  msgKind
	event condition.TriggerEvent
	tick  types.Ticker
}

// Executor is one bot's state machine. It owns the bot's position and run
// rows and consumes trigger events and price ticks from a bounded mailbox;
// all mutation happens on the executor goroutine.
type Executor struct {
	bot   *Bot
	run   *Run
	cfg   *DCAConfig
	store Store
	sink  exchange.OrderExecutor
	log   *logger.Logger

	mailbox chan message
	done    chan struct{}

	state     State
	pos       *Position
	profit    *profitState
	lastPrice decimal.Decimal
	pending   []string // working limit order IDs, cancelled on stop
}

func newExecutor(b *Bot, run *Run, cfg *DCAConfig, store Store,
	sink exchange.OrderExecutor, log *logger.Logger, mailboxSize int) *Executor {

	x := &Executor{
		bot:     b,
		run:     run,
		cfg:     cfg,
		store:   store,
		sink:    sink,
		log:     log,
		mailbox: make(chan message, mailboxSize),
		done:    make(chan struct{}),
		state:   StateIdle,
		profit:  newProfitState(),
	}
	return x
}

// restore loads the persisted position so a restarted bot resumes
// mid-accumulation instead of treating the next trigger as a fresh entry.
func (x *Executor) restore(ctx context.Context) {
	pos, err := x.store.GetPosition(ctx, x.bot.ID, x.bot.Symbol)
	if err != nil || pos == nil || pos.Qty.IsZero() {
		return
	}
	x.pos = pos
	x.state = StateAccumulating
}

// offer enqueues a message without ever blocking the caller. When the
// mailbox is full the oldest message is evicted, mirroring the bus contract.
func (x *Executor) offer(msg message) {
	select {
	case x.mailbox <- msg:
		return
	default:
	}
	select {
	case <-x.mailbox:
		monitoring.RecordDroppedEvent("executor:" + x.bot.ID)
	default:
	}
	select {
	case x.mailbox <- msg:
	default:
		monitoring.RecordDroppedEvent("executor:" + x.bot.ID)
	}
}

func (x *Executor) loop(ctx context.Context) {
	defer close(x.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-x.mailbox:
			if stop := x.handle(ctx, msg); stop {
				return
			}
		}
	}
}

// handle processes one message. Returns true when the executor is finished.
func (x *Executor) handle(ctx context.Context, msg message) bool {
	switch msg.kind {
	case msgPause:
		if x.state != StateStopped {
			x.state = StatePaused
		}
	case msgResume:
		if x.state == StatePaused {
			if x.pos != nil && !x.pos.Qty.IsZero() {
				x.state = StateAccumulating
			} else {
				x.state = StateIdle
			}
		}
	case msgStop:
		x.shutdown(ctx, RunStopped)
		return true
	case msgEntry:
		if x.state != StateIdle {
			x.log.Debug("bot %s: entry trigger ignored in state %s", x.bot.ID, x.state)
			return false
		}
		x.handleEntry(ctx, msg.event)
	case msgCustomDCA:
		if x.state != StateAccumulating {
			x.log.Debug("bot %s: dca trigger ignored in state %s", x.bot.ID, x.state)
			return false
		}
		price := decimal.NewFromFloat(msg.event.Values["price"])
		if price.IsZero() {
			return false
		}
		x.tryDCA(ctx, price, msg.event.TriggeredAt)
	case msgTick:
		x.handleTick(ctx, msg.tick)
	}
	return false
}

func (x *Executor) handleEntry(ctx context.Context, evt condition.TriggerEvent) {
	price := decimal.NewFromFloat(evt.Values["price"])
	if price.IsZero() {
		price = x.lastPrice
	}
	if price.IsZero() {
		x.log.LogWarning("Executor", "bot %s: entry trigger without a price reference", x.bot.ID)
		return
	}

	order := x.placeBuy(ctx, x.cfg.BaseOrderSize, price, false)
	if order == nil {
		return
	}
	x.state = StateAccumulating
	x.log.Status("bot %s entered %s: qty %s @ %s", x.bot.ID, x.bot.Symbol, order.Qty, order.FillPrice)
}

func (x *Executor) handleTick(ctx context.Context, tick types.Ticker) {
	price := decimal.NewFromFloat(tick.Price)
	if price.IsZero() {
		return
	}
	x.lastPrice = price

	if x.state != StateAccumulating || x.pos == nil || x.pos.Qty.IsZero() {
		return
	}

	x.pos.UnrealizedPnL = price.Sub(x.pos.AvgEntryPrice).Mul(x.pos.Qty)

	if x.cfg.Rule != "" && x.cfg.Rule != RuleCustomCondition &&
		dcaRuleMatches(x.cfg, x.pos, price) {
		x.tryDCA(ctx, price, tick.Timestamp)
	}

	if decision := evalProfitTaking(x.cfg, x.pos, x.profit, price, tick.Timestamp); decision != nil {
		x.executeExit(ctx, decision)
	}
}

// tryDCA places a DCA buy unless a cap or the cooldown blocks it. Blocked
// DCAs are skipped silently.
func (x *Executor) tryDCA(ctx context.Context, price decimal.Decimal, now time.Time) {
	amount := x.cfg.DCAAmount()
	if capBlocksDCA(x.cfg, x.pos, price, x.run.Stats.DCAFills, amount) {
		return
	}
	if inCooldown(x.cfg, x.pos, now, x.bot.Interval.Duration()) {
		return
	}
	if order := x.placeBuy(ctx, amount, price, true); order != nil {
		x.log.Status("bot %s DCA %d: qty %s @ %s (avg %s)",
			x.bot.ID, x.pos.DCAIndex, order.Qty, order.FillPrice, x.pos.AvgEntryPrice)
	}
}

// placeBuy sizes a market buy from a quote notional at the reference price,
// places it, and applies the fill to the position. Returns nil when no fill
// happened.
func (x *Executor) placeBuy(ctx context.Context, quoteAmount float64, price decimal.Decimal, isDCA bool) *exchange.Order {
	qty := decimal.NewFromFloat(quoteAmount).Div(price)

	order, err := x.sink.ExecuteOrder(ctx, exchange.OrderRequest{
		BotID:  x.bot.ID,
		RunID:  x.run.ID,
		Symbol: x.bot.Symbol,
		Side:   exchange.SideBuy,
		Type:   exchange.OrderMarket,
		Qty:    qty,
	})
	if err != nil {
		x.orderFailed(ctx, err)
		return nil
	}
	if order.Status != exchange.StatusFilled {
		x.pending = append(x.pending, order.ID)
		x.persistOrder(ctx, order)
		return nil
	}

	x.applyBuyFill(ctx, order, isDCA)
	return order
}

// applyBuyFill folds a filled buy into the position: average entry price is
// recomputed as total cost over total quantity.
func (x *Executor) applyBuyFill(ctx context.Context, order *exchange.Order, isDCA bool) {
	now := time.Now().UTC()
	if x.pos == nil || x.pos.Qty.IsZero() {
		x.pos = &Position{
			BotID:    x.bot.ID,
			Symbol:   x.bot.Symbol,
			OpenedAt: now,
		}
		x.profit = newProfitState()
	}

	cost := x.pos.TotalCost().Add(order.Qty.Mul(order.FillPrice))
	x.pos.Qty = x.pos.Qty.Add(order.Qty)
	x.pos.AvgEntryPrice = cost.Div(x.pos.Qty)
	x.pos.LastEntryPrice = order.FillPrice
	x.pos.LastEntryAt = now
	if isDCA {
		x.pos.DCAIndex++
		x.run.Stats.DCAFills++
	} else {
		x.pos.DCAIndex = 0
	}

	x.run.Stats.Orders++
	x.run.Stats.Fees = x.run.Stats.Fees.Add(order.Fees)

	x.persistOrder(ctx, order)
	x.persistPosition(ctx)
	x.persistRun(ctx)
	monitoring.RecordOrder(order.Symbol, string(order.Side))
}

// executeExit sells the decided quantity. On full close the position resets
// and the state returns to IDLE.
func (x *Executor) executeExit(ctx context.Context, decision *exitDecision) {
	x.state = StateExiting

	order, err := x.sink.ExecuteOrder(ctx, exchange.OrderRequest{
		BotID:  x.bot.ID,
		RunID:  x.run.ID,
		Symbol: x.bot.Symbol,
		Side:   exchange.SideSell,
		Type:   exchange.OrderMarket,
		Qty:    decision.sellQty,
	})
	if err != nil {
		x.state = StateAccumulating
		// The one-shot target flag stays consumed; re-arming on a failed sell
		// would double-fire on the next tick.
		x.orderFailed(ctx, err)
		return
	}
	if order.Status != exchange.StatusFilled {
		x.pending = append(x.pending, order.ID)
		x.persistOrder(ctx, order)
		x.state = StateAccumulating
		return
	}

	realized := order.FillPrice.Sub(x.pos.AvgEntryPrice).Mul(order.Qty)
	x.pos.RealizedPnL = x.pos.RealizedPnL.Add(realized)
	x.pos.Qty = x.pos.Qty.Sub(order.Qty)
	x.run.Stats.Orders++
	x.run.Stats.Fees = x.run.Stats.Fees.Add(order.Fees)
	x.run.Stats.RealizedPnL = x.run.Stats.RealizedPnL.Add(realized)

	x.persistOrder(ctx, order)
	monitoring.RecordOrder(order.Symbol, string(order.Side))

	if decision.fullClose || x.pos.Qty.IsZero() {
		x.pos.Qty = decimal.Zero
		x.pos.UnrealizedPnL = decimal.Zero
		x.persistPosition(ctx)
		x.persistRun(ctx)
		x.log.Trade("bot %s closed %s (%s): realized pnl %s",
			x.bot.ID, x.bot.Symbol, decision.reason, realized)
		x.pos = nil
		x.profit = newProfitState()
		x.state = StateIdle
		return
	}

	x.persistPosition(ctx)
	x.persistRun(ctx)
	x.log.Trade("bot %s partial exit %s (%s): sold %s, remaining %s",
		x.bot.ID, x.bot.Symbol, decision.reason, order.Qty, x.pos.Qty)
	x.state = StateAccumulating
}

// orderFailed logs a failed placement. Invariant violations are fatal: the
// run ends with status error.
func (x *Executor) orderFailed(ctx context.Context, err error) {
	monitoring.RecordError(string(enginerr.KindOf(err)))
	var ee *enginerr.EngineError
	if errors.As(err, &ee) && ee.Fatal() {
		x.log.LogError("Executor", "bot %s: fatal: %v", x.bot.ID, err)
		x.shutdown(ctx, RunError)
		return
	}
	x.log.LogError("Executor", "bot %s: order failed: %v", x.bot.ID, err)
}

// shutdown cancels working orders and ends the run.
func (x *Executor) shutdown(ctx context.Context, runStatus string) {
	for _, orderID := range x.pending {
		if err := x.sink.CancelOrder(ctx, x.bot.Symbol, orderID); err != nil {
			x.log.LogWarning("Executor", "bot %s: cancel %s: %v", x.bot.ID, orderID, err)
		}
	}
	x.pending = nil

	now := time.Now().UTC()
	x.run.EndedAt = &now
	x.run.Status = runStatus
	x.persistRun(ctx)
	x.state = StateStopped
}

func (x *Executor) persistOrder(ctx context.Context, order *exchange.Order) {
	if err := x.store.InsertOrder(ctx, order); err != nil {
		x.log.LogError("Executor", "bot %s: persist order: %v", x.bot.ID, err)
	}
}

func (x *Executor) persistPosition(ctx context.Context) {
	if err := x.store.SavePosition(ctx, x.pos); err != nil {
		x.log.LogError("Executor", "bot %s: persist position: %v", x.bot.ID, err)
	}
}

func (x *Executor) persistRun(ctx context.Context) {
	if err := x.store.UpdateRun(ctx, x.run); err != nil {
		x.log.LogError("Executor", "bot %s: persist run: %v", x.bot.ID, err)
	}
}

// CurrentState is read by status reporting; it races only with cosmetic
// output, never with decisions.
func (x *Executor) CurrentState() State { return x.state }

// Position returns the live position, or nil when flat.
func (x *Executor) Position() *Position { return x.pos }
