package condition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
)

// Gates combine per-item results into the playbook's final boolean.
const (
	GateAll = "ALL" // the AND/OR-chained result must be true
	GateAny = "ANY" // the chained result is true or any single item is true
)

// Evaluation orders.
const (
	OrderPriority   = "priority"   // sort items by priority ascending
	OrderSequential = "sequential" // preserve insertion order
)

// Connectors binding an item to the running chain result.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Item is one entry in a playbook: an atomic condition plus the chaining
// metadata that binds it to the items already consumed.
type Item struct {
	Condition Condition `json:"condition"`
	Priority  int       `json:"priority"`
	Logic     string    `json:"logic"`
	Enabled   bool      `json:"enabled"`

	// Validity window: once the atomic condition evaluates true it is held
	// true for this many bars (or wall-clock minutes) without re-evaluation.
	// At most one of the two is set.
	ValidityBars    int `json:"validity_bars,omitempty"`
	ValidityMinutes int `json:"validity_minutes,omitempty"`

	// fingerprint of the canonical atomic condition, set by Canonicalize.
	fingerprint Fingerprint
}

// ItemFingerprint returns the atomic condition's fingerprint. Valid only
// after the playbook has been canonicalized.
func (it *Item) ItemFingerprint() Fingerprint { return it.fingerprint }

// Playbook is an ordered list of condition items plus a gate. Bots subscribe
// to the playbook fingerprint; item fingerprints exist only for shared
// evaluation and are never subscribed to directly.
type Playbook struct {
	Gate  string `json:"gate"`
	Order string `json:"order"`
	Items []Item `json:"items"`
}

// Canonicalize validates the playbook, canonicalizes every item condition,
// and applies the evaluation order so that the item slice is in final
// evaluation sequence.
func (p *Playbook) Canonicalize() error {
	p.Gate = strings.ToUpper(strings.TrimSpace(p.Gate))
	if p.Gate == "" {
		p.Gate = GateAll
	}
	if p.Gate != GateAll && p.Gate != GateAny {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown gate %q", p.Gate)
	}

	p.Order = strings.ToLower(strings.TrimSpace(p.Order))
	if p.Order == "" {
		p.Order = OrderPriority
	}
	if p.Order != OrderPriority && p.Order != OrderSequential {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown evaluation order %q", p.Order)
	}

	if len(p.Items) == 0 {
		return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "playbook has no items")
	}

	for i := range p.Items {
		it := &p.Items[i]
		it.Logic = strings.ToUpper(strings.TrimSpace(it.Logic))
		if it.Logic == "" {
			it.Logic = LogicAnd
		}
		if it.Logic != LogicAnd && it.Logic != LogicOr {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "unknown item logic %q", it.Logic)
		}
		if it.ValidityBars < 0 || it.ValidityMinutes < 0 {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize", "negative validity window")
		}
		if it.ValidityBars > 0 && it.ValidityMinutes > 0 {
			return enginerr.New(enginerr.KindBadCondition, component, "canonicalize",
				"item may set validity_bars or validity_minutes, not both")
		}
		if err := it.Condition.Canonicalize(); err != nil {
			return err
		}
		fp, err := it.Condition.Fingerprint()
		if err != nil {
			return err
		}
		it.fingerprint = fp
	}

	// Ordering is applied before connector evaluation; a stable sort keeps
	// insertion order among equal priorities.
	if p.Order == OrderPriority {
		sort.SliceStable(p.Items, func(i, j int) bool {
			return p.Items[i].Priority < p.Items[j].Priority
		})
	}
	return nil
}

// Fingerprint computes the shallow wrapper fingerprint over
// (gate, order, item fingerprints, logic list, validity list). The playbook
// must already be canonicalized.
func (p *Playbook) Fingerprint() (Fingerprint, error) {
	type itemRef struct {
		Fingerprint     Fingerprint `json:"fingerprint"`
		Logic           string      `json:"logic"`
		Enabled         bool        `json:"enabled"`
		ValidityBars    int         `json:"validity_bars,omitempty"`
		ValidityMinutes int         `json:"validity_minutes,omitempty"`
	}
	wrapper := struct {
		Gate  string    `json:"gate"`
		Order string    `json:"order"`
		Items []itemRef `json:"items"`
	}{Gate: p.Gate, Order: p.Order, Items: make([]itemRef, 0, len(p.Items))}

	for i := range p.Items {
		it := &p.Items[i]
		if it.fingerprint == "" {
			return "", fmt.Errorf("playbook item %d not canonicalized", i)
		}
		wrapper.Items = append(wrapper.Items, itemRef{
			Fingerprint:     it.fingerprint,
			Logic:           it.Logic,
			Enabled:         it.Enabled,
			ValidityBars:    it.ValidityBars,
			ValidityMinutes: it.ValidityMinutes,
		})
	}

	payload, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("marshal playbook wrapper: %w", err)
	}
	return hashPayload(payload), nil
}

// Symbols returns the distinct (symbol, timeframe) pairs the playbook reads.
func (p *Playbook) Symbols() map[string][]Fingerprint {
	out := make(map[string][]Fingerprint)
	for i := range p.Items {
		it := &p.Items[i]
		key := it.Condition.Symbol + "/" + it.Condition.Timeframe.String()
		out[key] = append(out[key], it.fingerprint)
	}
	return out
}
