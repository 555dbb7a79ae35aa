// Package bot holds the bot lifecycle, the persisted bot/run/position rows,
// and the per-bot DCA executor state machine.
package bot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

const component = "bot"

// Bot statuses.
const (
	StatusInactive = "inactive"
	StatusRunning  = "running"
	StatusPaused   = "paused"
	StatusStopped  = "stopped"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunStopped   = "stopped"
	RunError     = "error"
)

// Bot is the persisted bot row. Config is the bot-type specific
// configuration; for DCA bots it decodes to DCAConfig. The snapshot is
// immutable for the duration of a run.
type Bot struct {
	ID        string          `json:"bot_id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"bot_type"`
	Status    string          `json:"status"`
	Symbol    string          `json:"symbol"`
	Interval  types.Timeframe `json:"interval"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}

// Run is one execution span of a bot. At most one run is `running` per bot
// at any instant.
type Run struct {
	ID        string     `json:"run_id"`
	BotID     string     `json:"bot_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	Stats     RunStats   `json:"stats"`
}

// RunStats accumulates over a run.
type RunStats struct {
	Orders      int             `json:"orders"`
	DCAFills    int             `json:"dca_fills"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Fees        decimal.Decimal `json:"fees"`
}

// Position is the per-bot, per-symbol position row. Positions with qty == 0
// are archived, not mutated further.
type Position struct {
	BotID          string          `json:"bot_id"`
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	DCAIndex       int             `json:"dca_index"`
	LastEntryPrice decimal.Decimal `json:"last_entry_price"`
	LastEntryAt    time.Time       `json:"last_entry_at"`
	OpenedAt       time.Time       `json:"opened_at"`
}

// TotalCost returns the position's invested quote amount at the average
// entry price.
func (p *Position) TotalCost() decimal.Decimal {
	return p.Qty.Mul(p.AvgEntryPrice)
}

// Store is the persistence the bot layer consumes. Implementations live in
// internal/store.
type Store interface {
	SaveBot(ctx context.Context, b *Bot) error
	GetBot(ctx context.Context, botID string) (*Bot, error)
	UpdateBotStatus(ctx context.Context, botID, status string) error
	DeleteBot(ctx context.Context, botID string) error
	ListBots(ctx context.Context) ([]Bot, error)

	InsertRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	ActiveRun(ctx context.Context, botID string) (*Run, error)
	RunsByBot(ctx context.Context, botID string) ([]Run, error)

	SavePosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, botID, symbol string) (*Position, error)
	PositionsByBot(ctx context.Context, botID string) ([]Position, error)

	InsertOrder(ctx context.Context, order *exchange.Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status exchange.OrderStatus) error
	OrdersByBot(ctx context.Context, botID string) ([]exchange.Order, error)
	OrdersByRun(ctx context.Context, runID string) ([]exchange.Order, error)
}
