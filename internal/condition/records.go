package condition

import (
	"encoding/json"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// TypePlaybook tags the wrapper record a playbook registers in addition to
// its item conditions.
const TypePlaybook = "playbook"

// Subscription statuses.
const (
	SubscriptionActive  = "active"
	SubscriptionPaused  = "paused"
	SubscriptionRevoked = "revoked"
)

// Record is the persisted row for a deduplicated condition.
// Invariant: LastTriggeredAt never exceeds LastEvaluatedAt.
type Record struct {
	Fingerprint     Fingerprint     `json:"fingerprint"`
	Type            string          `json:"type"`
	Symbol          string          `json:"symbol"`
	Timeframe       types.Timeframe `json:"timeframe"`
	Config          json.RawMessage `json:"config"`
	LastEvaluatedAt time.Time       `json:"last_evaluated_at"`
	LastTriggeredAt time.Time       `json:"last_triggered_at"`
	TriggerCount    int64           `json:"trigger_count"`
	EvaluationCount int64           `json:"evaluation_count"`
}

// Subscription links a bot to a condition fingerprint. A bot may hold many
// subscriptions; each points to exactly one fingerprint. Only active
// subscriptions make a fingerprint eligible for evaluation.
type Subscription struct {
	ID              string          `json:"subscription_id"`
	UserID          string          `json:"user_id"`
	BotID           string          `json:"bot_id"`
	BotType         string          `json:"bot_type"`
	Fingerprint     Fingerprint     `json:"fingerprint"`
	BotConfig       json.RawMessage `json:"bot_config_snapshot"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	LastTriggeredAt time.Time       `json:"last_triggered_at"`
}

// TriggerEvent is the wire format published on the event bus when a
// condition fires. Values carries the observed indicator snapshot. Events
// are monotonically ordered per fingerprint by TriggeredAt, with at most one
// event per (fingerprint, bar close time).
type TriggerEvent struct {
	EventID      string             `json:"event_id"`
	Fingerprint  Fingerprint        `json:"fingerprint"`
	Symbol       string             `json:"symbol"`
	Timeframe    types.Timeframe    `json:"timeframe"`
	TriggeredAt  time.Time          `json:"triggered_at"`
	BarCloseTime time.Time          `json:"bar_close_time"`
	Values       map[string]float64 `json:"values"`
}

// Topic returns the bus topic the event is published on.
func (e *TriggerEvent) Topic() string {
	return "condition." + e.Fingerprint.String()
}
