// Package condition defines the condition model, canonicalization rules,
// content-hash fingerprints, playbooks, and the registry that deduplicates
// conditions and tracks bot subscriptions.
package condition

import (
	"strings"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// Condition type tags.
const (
	TypeIndicator = "indicator"
	TypePrice     = "price"
	TypeVolume    = "volume"
	TypePattern   = "pattern"
)

// Canonical operators.
const (
	OpGT           = "gt"
	OpLT           = "lt"
	OpGE           = "ge"
	OpLE           = "le"
	OpEQ           = "eq"
	OpCrossesAbove = "crosses_above"
	OpCrossesBelow = "crosses_below"
	OpBetween      = "between"
	OpClosesAbove  = "closes_above"
	OpClosesBelow  = "closes_below"
)

// Compare modes.
const (
	CompareValue     = "value"
	CompareIndicator = "indicator"
)

// Compare is the right-hand side of a condition: a fixed value, a
// [lower, upper] band for between, or another indicator series.
type Compare struct {
	Mode      string             `json:"mode"`
	Value     float64            `json:"value,omitempty"`
	Lower     float64            `json:"lower,omitempty"`
	Upper     float64            `json:"upper,omitempty"`
	Indicator string             `json:"indicator,omitempty"`
	Component string             `json:"component,omitempty"`
	Settings  map[string]float64 `json:"settings,omitempty"`
}

// Condition is one atomic entry condition. After Canonicalize it is in
// canonical form: synonyms collapsed, defaults materialized, settings
// complete, symbol upper-cased.
type Condition struct {
	Type      string             `json:"type"`
	Indicator string             `json:"indicator,omitempty"`
	Component string             `json:"component,omitempty"`
	Settings  map[string]float64 `json:"settings,omitempty"`
	Operator  string             `json:"operator"`
	Compare   Compare            `json:"compare"`
	Symbol    string             `json:"symbol"`
	Timeframe types.Timeframe    `json:"timeframe"`
}

// operatorSynonyms maps accepted operator spellings to canonical ones.
var operatorSynonyms = map[string]string{
	">":                   OpGT,
	"<":                   OpLT,
	">=":                  OpGE,
	"<=":                  OpLE,
	"=":                   OpEQ,
	"==":                  OpEQ,
	"greater_than":        OpGT,
	"less_than":           OpLT,
	"greater_or_equal":    OpGE,
	"less_or_equal":       OpLE,
	"equals":              OpEQ,
	"above":               OpGT,
	"below":               OpLT,
	"crosses_above_level": OpCrossesAbove,
	"crosses_below_level": OpCrossesBelow,
	"in_range":            OpBetween,
}

var canonicalOperators = map[string]bool{
	OpGT: true, OpLT: true, OpGE: true, OpLE: true, OpEQ: true,
	OpCrossesAbove: true, OpCrossesBelow: true, OpBetween: true,
	OpClosesAbove: true, OpClosesBelow: true,
}

// Indicators the kernel computes natively.
var nativeIndicators = map[string]bool{
	"rsi": true, "mfi": true, "cci": true,
	"sma": true, "ema": true, "macd": true, "atr": true,
}

// fallbackIndicators are MA families the kernel serves via EMA fallback.
var fallbackIndicators = map[string]bool{
	"wma": true, "tema": true, "kama": true, "mama": true, "vwma": true, "hull": true,
}

// Patterns evaluated on the last one or two bars.
var knownPatterns = map[string]bool{
	"inside_bar": true, "outside_bar": true,
	"bullish_engulfing": true, "bearish_engulfing": true,
	"doji": true, "hammer": true,
	"gap_up": true, "gap_down": true,
	"higher_high": true, "higher_low": true,
	"lower_high": true, "lower_low": true,
}

// KnownIndicator reports whether name is computable (natively or via fallback).
func KnownIndicator(name string) bool {
	return nativeIndicators[name] || fallbackIndicators[name]
}

// IsFallbackIndicator reports whether name is served by the EMA fallback.
func IsFallbackIndicator(name string) bool {
	return fallbackIndicators[name]
}

// defaultSettings returns the materialized settings for an indicator.
func defaultSettings(indicator string) map[string]float64 {
	switch indicator {
	case "rsi", "mfi", "cci", "atr":
		return map[string]float64{"period": 14}
	case "sma", "ema", "wma", "tema", "kama", "mama", "vwma", "hull":
		return map[string]float64{"period": 20}
	case "macd":
		return map[string]float64{"fast": 12, "slow": 26, "signal": 9}
	default:
		return nil
	}
}

const component = "condition"

// Canonicalize validates the condition and rewrites it in place into
// canonical form. Two semantically equal conditions canonicalize to
// byte-identical forms and therefore equal fingerprints.
func (c *Condition) Canonicalize() error {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Symbol == "" {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "symbol is required")
	}
	if !c.Timeframe.IsValid() {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown timeframe %q", c.Timeframe)
	}

	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	switch c.Type {
	case TypeIndicator, TypePrice, TypeVolume, TypePattern:
	default:
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown condition type %q", c.Type)
	}

	if c.Type == TypePattern {
		return c.canonicalizePattern()
	}

	if c.Type == TypeIndicator {
		c.Indicator = strings.ToLower(strings.TrimSpace(c.Indicator))
		if !KnownIndicator(c.Indicator) {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown indicator %q", c.Indicator)
		}
		if err := c.canonicalizeSettings(); err != nil {
			return err
		}
		if err := c.canonicalizeComponent(); err != nil {
			return err
		}
	} else {
		// Price and volume conditions read the raw series; no indicator config.
		c.Indicator = ""
		c.Component = ""
		c.Settings = nil
	}

	if err := c.canonicalizeOperator(); err != nil {
		return err
	}
	return c.canonicalizeCompare()
}

func (c *Condition) canonicalizePattern() error {
	c.Indicator = strings.ToLower(strings.TrimSpace(c.Indicator))
	if !knownPatterns[c.Indicator] {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown pattern %q", c.Indicator)
	}
	// Patterns are self-contained booleans: no operator, settings, or compare.
	c.Component = ""
	c.Settings = nil
	c.Operator = OpEQ
	c.Compare = Compare{Mode: CompareValue, Value: 1}
	return nil
}

// canonicalizeSettings merges settings over indicator defaults and
// range-checks them.
func (c *Condition) canonicalizeSettings() error {
	defaults := defaultSettings(c.Indicator)
	merged := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range c.Settings {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, ok := defaults[key]; !ok {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
				"unknown setting %q for indicator %q", k, c.Indicator)
		}
		merged[key] = v
	}
	for k, v := range merged {
		if v < 1 || v > 500 || v != float64(int(v)) {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
				"setting %q=%v out of range for %q", k, v, c.Indicator)
		}
	}
	if c.Indicator == "macd" && merged["fast"] >= merged["slow"] {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
			"macd fast period must be below slow period")
	}
	c.Settings = merged
	return nil
}

func (c *Condition) canonicalizeComponent() error {
	c.Component = strings.ToLower(strings.TrimSpace(c.Component))
	if c.Indicator == "macd" {
		if c.Component == "" {
			c.Component = "macd"
		}
		switch c.Component {
		case "macd", "signal", "histogram":
		default:
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
				"unknown macd component %q", c.Component)
		}
		return nil
	}
	if c.Component != "" {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
			"indicator %q has no components", c.Indicator)
	}
	return nil
}

func (c *Condition) canonicalizeOperator() error {
	op := strings.ToLower(strings.TrimSpace(c.Operator))
	if canonical, ok := operatorSynonyms[op]; ok {
		// Level-suffixed cross operators force value compare mode.
		if strings.HasSuffix(op, "_level") {
			c.Compare.Mode = CompareValue
		}
		op = canonical
	}
	if !canonicalOperators[op] {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown operator %q", c.Operator)
	}
	c.Operator = op
	return nil
}

func (c *Condition) canonicalizeCompare() error {
	mode := strings.ToLower(strings.TrimSpace(c.Compare.Mode))
	if mode == "" {
		mode = CompareValue
	}
	switch mode {
	case CompareValue:
		c.Compare.Indicator = ""
		c.Compare.Component = ""
		c.Compare.Settings = nil
		if c.Operator == OpBetween {
			if c.Compare.Upper < c.Compare.Lower {
				return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
					"between requires upper >= lower (got %v..%v)", c.Compare.Lower, c.Compare.Upper)
			}
			c.Compare.Value = 0
		} else {
			c.Compare.Lower = 0
			c.Compare.Upper = 0
		}
	case CompareIndicator:
		if c.Operator == OpBetween {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
				"between requires a value band, not an indicator target")
		}
		ind := strings.ToLower(strings.TrimSpace(c.Compare.Indicator))
		if !KnownIndicator(ind) {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
				"unknown compare indicator %q", c.Compare.Indicator)
		}
		target := Condition{Type: TypeIndicator, Indicator: ind,
			Component: c.Compare.Component, Settings: c.Compare.Settings,
			Symbol: c.Symbol, Timeframe: c.Timeframe, Operator: OpGT}
		if err := target.canonicalizeSettings(); err != nil {
			return err
		}
		if err := target.canonicalizeComponent(); err != nil {
			return err
		}
		c.Compare.Indicator = target.Indicator
		c.Compare.Component = target.Component
		c.Compare.Settings = target.Settings
		c.Compare.Value = 0
		c.Compare.Lower = 0
		c.Compare.Upper = 0
	default:
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown compare mode %q", c.Compare.Mode)
	}
	c.Compare.Mode = mode
	return nil
}
