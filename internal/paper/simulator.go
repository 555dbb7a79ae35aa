// Package paper simulates order fills against live mark prices without
// touching the exchange. It satisfies exchange.OrderExecutor so DCA
// executors run unchanged in paper mode.
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

const component = "paper"

var bpsDivisor = decimal.NewFromInt(10000)

// FillHandler receives orders filled asynchronously (resting limit orders
// filled by a later price sample).
type FillHandler func(order *exchange.Order)

// account is one bot's virtual balance plus the fill ledger backing the
// balance-law check.
type account struct {
	initial decimal.Decimal
	free    decimal.Decimal
	locked  decimal.Decimal

	// Net outflow of every fill: buys add qty*price+fee, sells subtract
	// qty*price-fee. The law initial - free == outflow must hold after
	// every fill.
	outflow decimal.Decimal
}

// Simulator fills market orders at the last seen price plus slippage and
// rests limit orders until a price sample crosses them favorably. There are
// no partial fills.
type Simulator struct {
	initialBalance decimal.Decimal
	slippageBps    decimal.Decimal
	feeBps         decimal.Decimal
	log            *logger.Logger
	onFill         FillHandler

	mu        sync.Mutex
	accounts  map[string]*account
	lastPrice map[string]decimal.Decimal
	resting   []*exchange.Order
}

func NewSimulator(initialBalance, slippageBps, feeBps float64, log *logger.Logger) *Simulator {
	return &Simulator{
		initialBalance: decimal.NewFromFloat(initialBalance),
		slippageBps:    decimal.NewFromFloat(slippageBps),
		feeBps:         decimal.NewFromFloat(feeBps),
		log:            log,
		accounts:       make(map[string]*account),
		lastPrice:      make(map[string]decimal.Decimal),
	}
}

// SetFillHandler registers the callback for asynchronous limit fills. Must be
// set before any limit order is placed.
func (s *Simulator) SetFillHandler(h FillHandler) {
	s.mu.Lock()
	s.onFill = h
	s.mu.Unlock()
}

func (s *Simulator) accountFor(botID string) *account {
	acct, ok := s.accounts[botID]
	if !ok {
		acct = &account{initial: s.initialBalance, free: s.initialBalance}
		s.accounts[botID] = acct
	}
	return acct
}

// UpdatePrice records a new mark price for symbol and fills any resting limit
// orders the sample crosses. Fills are reported through the fill handler.
func (s *Simulator) UpdatePrice(symbol string, price float64) error {
	p := decimal.NewFromFloat(price)

	s.mu.Lock()
	s.lastPrice[symbol] = p

	var filled []*exchange.Order
	remaining := s.resting[:0]
	for _, order := range s.resting {
		if order.Symbol != symbol || !limitCrossed(order, p) {
			remaining = append(remaining, order)
			continue
		}
		if err := s.settle(order, order.LimitPrice); err != nil {
			s.mu.Unlock()
			return err
		}
		filled = append(filled, order)
	}
	s.resting = remaining
	handler := s.onFill
	s.mu.Unlock()

	if handler != nil {
		for _, order := range filled {
			handler(order)
		}
	}
	return nil
}

// limitCrossed reports whether price fills the resting order: buys fill at or
// below the limit, sells at or above.
func limitCrossed(order *exchange.Order, price decimal.Decimal) bool {
	if order.Side == exchange.SideBuy {
		return price.LessThanOrEqual(order.LimitPrice)
	}
	return price.GreaterThanOrEqual(order.LimitPrice)
}

// ExecuteOrder fills market orders synchronously at the last price for the
// symbol plus slippage; limit orders rest until a later price sample crosses
// them and come back with status pending.
func (s *Simulator) ExecuteOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientStore, component, "execute_order")
	}

	order := &exchange.Order{
		ID:         uuid.NewString(),
		BotID:      req.BotID,
		RunID:      req.RunID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Qty:        req.Qty,
		LimitPrice: req.LimitPrice,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Type == exchange.OrderLimit {
		order.Status = exchange.StatusPending
		s.resting = append(s.resting, order)
		return order, nil
	}

	mark, ok := s.lastPrice[req.Symbol]
	if !ok {
		return nil, enginerr.New(enginerr.KindTransientStore, component, "execute_order",
			"no mark price for %s yet", req.Symbol)
	}
	if err := s.settle(order, s.slip(mark, req.Side)); err != nil {
		return nil, err
	}
	return order, nil
}

// slip applies slippage against the taker: buys pay above the mark, sells
// receive below it.
func (s *Simulator) slip(mark decimal.Decimal, side exchange.Side) decimal.Decimal {
	adj := mark.Mul(s.slippageBps).Div(bpsDivisor)
	if side == exchange.SideBuy {
		return mark.Add(adj)
	}
	return mark.Sub(adj)
}

// settle marks the order filled at price, moves the bot's balance, and
// re-checks the balance law. Callers hold s.mu.
func (s *Simulator) settle(order *exchange.Order, price decimal.Decimal) error {
	acct := s.accountFor(order.BotID)

	notional := order.Qty.Mul(price)
	fee := notional.Mul(s.feeBps).Div(bpsDivisor)

	if order.Side == exchange.SideBuy {
		cost := notional.Add(fee)
		if acct.free.LessThan(cost) {
			return enginerr.New(enginerr.KindExchangeRejection, component, "settle",
				"insufficient paper balance for bot %s: need %s, have %s", order.BotID, cost, acct.free)
		}
		acct.free = acct.free.Sub(cost)
		acct.outflow = acct.outflow.Add(cost)
	} else {
		acct.free = acct.free.Add(notional).Sub(fee)
		acct.outflow = acct.outflow.Sub(notional.Sub(fee))
	}

	now := time.Now().UTC()
	order.Status = exchange.StatusFilled
	order.FillPrice = price
	order.Fees = fee
	order.FilledAt = &now

	if err := acct.check(order.BotID); err != nil {
		return err
	}

	s.log.Trade("PAPER %s %s %s @ %s fee %s (free %s)",
		order.Side, order.Qty, order.Symbol, price, fee, acct.free)
	return nil
}

// check enforces the balance law. A violation means the ledger and the
// balance have diverged; the run must abort.
func (a *account) check(botID string) error {
	if a.free.IsNegative() {
		return enginerr.New(enginerr.KindInvariantViolation, component, "balance_check",
			"bot %s free balance is negative: %s", botID, a.free)
	}
	if !a.initial.Sub(a.free).Equal(a.outflow) {
		return enginerr.New(enginerr.KindInvariantViolation, component, "balance_check",
			"bot %s balance law broken: initial %s - free %s != net outflow %s",
			botID, a.initial, a.free, a.outflow)
	}
	return nil
}

// CancelOrder removes a resting limit order. The symbol is part of the sink
// contract for live exchanges; the simulator keys orders by ID alone.
func (s *Simulator) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, order := range s.resting {
		if order.ID == orderID {
			order.Status = exchange.StatusCancelled
			s.resting = append(s.resting[:i], s.resting[i+1:]...)
			return nil
		}
	}
	return enginerr.New(enginerr.KindExchangeRejection, component, "cancel_order",
		"no resting order %s", orderID)
}

// AccountBalance reports the aggregate quote balance across all bots.
func (s *Simulator) AccountBalance(ctx context.Context) (map[string]types.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	locked := decimal.Zero
	for _, acct := range s.accounts {
		total = total.Add(acct.free)
		locked = locked.Add(acct.locked)
	}
	free, _ := total.Float64()
	lockedF, _ := locked.Float64()
	return map[string]types.Balance{
		"USDT": {Asset: "USDT", Free: free, Locked: lockedF},
	}, nil
}

// FreeBalance returns one bot's free balance.
func (s *Simulator) FreeBalance(botID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountFor(botID).free
}
