package evaluator

import (
	"context"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// playbookState holds the per-playbook validity windows. An item that
// evaluated true stays "held" until its window elapses; held items are not
// re-evaluated. Windows are keyed by item fingerprint and survive restarts
// by seeding from the item record's last_triggered_at.
type playbookState struct {
	heldUntil map[condition.Fingerprint]time.Time
	seeded    map[condition.Fingerprint]bool
}

func (e *Evaluator) stateFor(fp condition.Fingerprint) *playbookState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, found := e.playbooks[fp]
	if !found {
		st = &playbookState{
			heldUntil: make(map[condition.Fingerprint]time.Time),
			seeded:    make(map[condition.Fingerprint]bool),
		}
		e.playbooks[fp] = st
	}
	return st
}

// validityWindow converts an item's validity setting to a duration on its
// timeframe. Zero means no window: the item must hold on the current bar.
func validityWindow(it *condition.Item) time.Duration {
	if it.ValidityBars > 0 {
		return time.Duration(it.ValidityBars) * it.Condition.Timeframe.Duration()
	}
	if it.ValidityMinutes > 0 {
		return time.Duration(it.ValidityMinutes) * time.Minute
	}
	return 0
}

// evalPlaybook folds the ordered item results through the connector chain and
// applies the gate. Items are already in evaluation order from
// canonicalization.
func (e *Evaluator) evalPlaybook(ctx context.Context, fp condition.Fingerprint,
	p *condition.Playbook, fetched map[groupKey][]types.OHLCV) (bool, bool, map[string]float64) {

	st := e.stateFor(fp)

	var result *bool
	anyTrue := false
	indeterminate := false
	values := make(map[string]float64)

	for i := range p.Items {
		it := &p.Items[i]
		if !it.Enabled {
			continue
		}

		a, ind := e.evalItem(ctx, it, st, fetched, values)
		if ind {
			indeterminate = true
			a = false
		}
		if a {
			anyTrue = true
		}

		if result == nil {
			r := a
			result = &r
			continue
		}
		switch it.Logic {
		case condition.LogicOr:
			*result = *result || a
		default:
			*result = *result && a
		}
	}

	if result == nil {
		// Every item disabled.
		return false, true, nil
	}

	final := *result
	if p.Gate == condition.GateAny {
		final = final || anyTrue
	}
	return final, indeterminate && !final, values
}

// evalItem evaluates one playbook item, honoring its validity window.
func (e *Evaluator) evalItem(ctx context.Context, it *condition.Item, st *playbookState,
	fetched map[groupKey][]types.OHLCV, values map[string]float64) (bool, bool) {

	itemFP := it.ItemFingerprint()
	key := groupKey{symbol: it.Condition.Symbol, timeframe: it.Condition.Timeframe}
	bars, found := fetched[key]
	if !found || len(bars) == 0 {
		return false, true
	}
	barClose := bars[len(bars)-1].CloseTime
	window := validityWindow(it)

	if window > 0 {
		e.seedHeld(ctx, st, itemFP, window)
		if held, found := st.heldUntil[itemFP]; found && !barClose.After(held) {
			// Within the validity window: still true, no re-evaluation.
			return true, false
		}
	}

	res, itemValues := e.evalAtomic(&it.Condition, itemFP, bars)
	if res.Indeterminate {
		return false, true
	}
	for k, v := range itemValues {
		values[k] = v
	}

	now := time.Now().UTC()
	if err := e.registry.MarkEvaluated(ctx, itemFP, now, barClose, res.Ok); err != nil {
		e.log.LogWarning("Evaluator", "mark item %s evaluated: %v", itemFP, err)
	}
	if res.Ok && window > 0 {
		st.heldUntil[itemFP] = barClose.Add(window)
	}
	return res.Ok, false
}

// seedHeld restores an item's validity window from its persisted
// last_triggered_at after a restart. Runs once per item.
func (e *Evaluator) seedHeld(ctx context.Context, st *playbookState,
	itemFP condition.Fingerprint, window time.Duration) {

	if st.seeded[itemFP] {
		return
	}
	st.seeded[itemFP] = true

	rec, err := e.registry.Condition(ctx, itemFP)
	if err != nil || rec.LastTriggeredAt.IsZero() {
		return
	}
	held := rec.LastTriggeredAt.Add(window)
	if held.After(time.Now()) {
		st.heldUntil[itemFP] = held
	}
}
