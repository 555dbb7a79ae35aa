package bot

import (
	"time"

	"github.com/shopspring/decimal"
)

// exitDecision is the outcome of one profit-taking pass: how much to sell and
// whether the position closes fully.
type exitDecision struct {
	sellQty   decimal.Decimal
	fullClose bool
	reason    string
	targetIdx int // fired partial target, -1 otherwise
}

// profitState is the per-position profit-taking memory: one-shot target
// flags and the trailing-stop arm/peak. Reset on full close.
type profitState struct {
	firedTargets  map[int]bool
	trailingArmed bool
	peakPrice     decimal.Decimal
}

func newProfitState() *profitState {
	return &profitState{firedTargets: make(map[int]bool)}
}

// evalProfitTaking checks the three mechanisms in their fixed order: partial
// targets, trailing stop, time exit. The first that fires wins the tick.
func evalProfitTaking(cfg *DCAConfig, pos *Position, st *profitState,
	price decimal.Decimal, now time.Time) *exitDecision {

	if pos.Qty.IsZero() {
		return nil
	}
	pnlPct := unrealizedPnLPct(pos, price)

	// 1. Partial targets, one-shot each.
	for i, target := range cfg.ProfitTargets {
		if st.firedTargets[i] {
			continue
		}
		if pnlPct.GreaterThanOrEqual(decimal.NewFromFloat(target.GainPct)) {
			st.firedTargets[i] = true
			sellQty := pos.Qty.Mul(decimal.NewFromFloat(target.SizePct)).Div(decimal.NewFromInt(100))
			full := sellQty.GreaterThanOrEqual(pos.Qty)
			if full {
				sellQty = pos.Qty
			}
			return &exitDecision{sellQty: sellQty, fullClose: full, reason: "partial_target", targetIdx: i}
		}
	}

	// 2. Trailing stop: arm on the configured gain, track the peak, fire when
	// price falls trail_pct below it.
	if cfg.TrailingArm > 0 {
		if !st.trailingArmed && pnlPct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.TrailingArm)) {
			st.trailingArmed = true
			st.peakPrice = price
		}
		if st.trailingArmed {
			if price.GreaterThan(st.peakPrice) {
				st.peakPrice = price
			}
			trail := decimal.NewFromFloat(cfg.TrailingTrail).Div(decimal.NewFromInt(100))
			floor := st.peakPrice.Mul(decimal.NewFromInt(1).Sub(trail))
			if price.LessThanOrEqual(floor) {
				return &exitDecision{sellQty: pos.Qty, fullClose: true, reason: "trailing_stop", targetIdx: -1}
			}
		}
	}

	// 3. Time exit: held long enough and at least the minimum gain.
	if cfg.MaxHoldDays > 0 && !pos.OpenedAt.IsZero() {
		held := now.Sub(pos.OpenedAt)
		if held >= time.Duration(cfg.MaxHoldDays)*24*time.Hour &&
			pnlPct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MinExitPct)) {
			return &exitDecision{sellQty: pos.Qty, fullClose: true, reason: "time_exit", targetIdx: -1}
		}
	}

	return nil
}
