// Package exchange defines the order-execution capability bot executors
// write through. The paper-trading simulator and the signed Binance client
// both satisfy OrderExecutor; executors never know which sink is wired.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusError     OrderStatus = "error"
)

// OrderRequest is what an executor emits; the sink assigns the order ID and
// fill details. Money fields are decimal so balances never round silently.
type OrderRequest struct {
	BotID      string
	RunID      string
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal // zero for market orders
}

// Order is the persisted, append-only order row. Once filled, every field
// except Status is immutable.
type Order struct {
	ID         string          `json:"order_id"`
	BotID      string          `json:"bot_id"`
	RunID      string          `json:"run_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Type       OrderType       `json:"type"`
	Qty        decimal.Decimal `json:"qty"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	Fees       decimal.Decimal `json:"fees"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	FilledAt   *time.Time      `json:"filled_at,omitempty"`
}

// OrderExecutor is the synchronous place → fill-or-pending contract the
// executors rely on. Implementations handle authentication and signing.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	AccountBalance(ctx context.Context) (map[string]types.Balance, error)
}
