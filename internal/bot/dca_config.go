package bot

import (
	"encoding/json"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
)

// BotTypeDCA is the executor key DCA bots dispatch under.
const BotTypeDCA = "dca"

// DCA rules. Exactly one is active per bot.
const (
	RuleDownFromLastEntry    = "down_from_last_entry"
	RuleDownFromAveragePrice = "down_from_average_price"
	RuleLossByPercent        = "loss_by_percent"
	RuleLossByAmount         = "loss_by_amount"
	RuleCustomCondition      = "custom_condition"
)

// ProfitTarget is one partial take-profit level. Firing is one-shot per
// target per position.
type ProfitTarget struct {
	GainPct float64 `json:"gain_pct"`
	SizePct float64 `json:"size_pct"`
}

// DCAConfig is the DCA bot configuration snapshot. Amounts are quote-currency
// notionals.
type DCAConfig struct {
	BaseOrderSize float64 `json:"base_order_size"`
	DCAOrderSize  float64 `json:"dca_order_size"`

	Rule       string  `json:"rule"`
	RulePct    float64 `json:"rule_pct,omitempty"`
	RuleAmount float64 `json:"rule_amount,omitempty"`

	// Fingerprint of the referenced condition for rule custom_condition.
	CustomConditionFP string `json:"custom_condition_fingerprint,omitempty"`

	// Caps. Zero disables a cap except MaxDCAsPerPosition, which always
	// bounds the DCA index.
	MaxDCAsPerPosition       int     `json:"max_dcas_per_position"`
	MaxDCAsGlobal            int     `json:"max_dcas_global,omitempty"`
	MaxInvestmentPerPosition float64 `json:"max_investment_per_position,omitempty"`
	StopDCAOnLossPct         float64 `json:"stop_dca_on_loss_pct,omitempty"`

	CooldownBars    int `json:"cooldown_bars,omitempty"`
	CooldownMinutes int `json:"cooldown_minutes,omitempty"`

	// Dynamic sizing multipliers. Zero means the feature is disabled and the
	// multiplier defaults to 1.0. Each is clamped to [0.25, 4.0]; the product
	// to [0.1, 10.0].
	VolatilityMul float64 `json:"volatility_mul,omitempty"`
	SRMul         float64 `json:"sr_mul,omitempty"`
	SentimentMul  float64 `json:"sentiment_mul,omitempty"`

	// Profit taking.
	ProfitTargets []ProfitTarget `json:"profit_targets,omitempty"`
	TrailingArm   float64        `json:"trailing_arm_pct,omitempty"`
	TrailingTrail float64        `json:"trailing_trail_pct,omitempty"`
	MaxHoldDays   int            `json:"max_hold_days,omitempty"`
	MinExitPct    float64        `json:"min_exit_pct,omitempty"`
}

// ParseDCAConfig decodes and validates a bot config snapshot.
func ParseDCAConfig(raw json.RawMessage) (*DCAConfig, error) {
	var cfg DCAConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, enginerr.New(enginerr.KindBadCondition, component, "parse_config", "decode dca config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configs that could never trade safely.
func (c *DCAConfig) Validate() error {
	if c.BaseOrderSize <= 0 {
		return enginerr.New(enginerr.KindBadCondition, component, "validate", "base_order_size must be positive")
	}
	if c.DCAOrderSize <= 0 {
		c.DCAOrderSize = c.BaseOrderSize
	}
	switch c.Rule {
	case RuleDownFromLastEntry, RuleDownFromAveragePrice, RuleLossByPercent:
		if c.RulePct <= 0 {
			return enginerr.New(enginerr.KindBadCondition, component, "validate", "rule %q needs rule_pct > 0", c.Rule)
		}
	case RuleLossByAmount:
		if c.RuleAmount <= 0 {
			return enginerr.New(enginerr.KindBadCondition, component, "validate", "rule %q needs rule_amount > 0", c.Rule)
		}
	case RuleCustomCondition:
		if c.CustomConditionFP == "" {
			return enginerr.New(enginerr.KindBadCondition, component, "validate",
				"rule custom_condition needs a condition fingerprint")
		}
	case "":
		// No DCA rule: base order only.
	default:
		return enginerr.New(enginerr.KindBadCondition, component, "validate", "unknown dca rule %q", c.Rule)
	}
	if c.MaxDCAsPerPosition < 0 {
		return enginerr.New(enginerr.KindBadCondition, component, "validate", "max_dcas_per_position must be >= 0")
	}
	if c.CooldownBars > 0 && c.CooldownMinutes > 0 {
		return enginerr.New(enginerr.KindBadCondition, component, "validate",
			"set cooldown_bars or cooldown_minutes, not both")
	}
	for i, t := range c.ProfitTargets {
		if t.GainPct <= 0 || t.SizePct <= 0 || t.SizePct > 100 {
			return enginerr.New(enginerr.KindBadCondition, component, "validate",
				"profit target %d out of range", i)
		}
	}
	if (c.TrailingArm > 0) != (c.TrailingTrail > 0) {
		return enginerr.New(enginerr.KindBadCondition, component, "validate",
			"trailing stop needs both arm and trail percentages")
	}
	return nil
}

// clampMul clamps one sizing multiplier; zero means disabled.
func clampMul(v float64) float64 {
	if v == 0 {
		return 1.0
	}
	if v < 0.25 {
		return 0.25
	}
	if v > 4.0 {
		return 4.0
	}
	return v
}

// DCAAmount returns the dynamically sized DCA notional:
// base · volatility_mul · sr_mul · sentiment_mul with the product clamped to
// [0.1, 10.0] times base.
func (c *DCAConfig) DCAAmount() float64 {
	scale := clampMul(c.VolatilityMul) * clampMul(c.SRMul) * clampMul(c.SentimentMul)
	if scale < 0.1 {
		scale = 0.1
	}
	if scale > 10.0 {
		scale = 10.0
	}
	return c.DCAOrderSize * scale
}
