package bot

import (
	"time"

	"github.com/shopspring/decimal"
)

// dcaRuleMatches reports whether the configured DCA rule is satisfied at the
// given price. The custom_condition rule is driven by trigger events, not
// price ticks, and always reports false here.
func dcaRuleMatches(cfg *DCAConfig, pos *Position, price decimal.Decimal) bool {
	if pos.Qty.IsZero() {
		return false
	}
	pct := decimal.NewFromFloat(cfg.RulePct).Div(decimal.NewFromInt(100))

	switch cfg.Rule {
	case RuleDownFromLastEntry:
		threshold := pos.LastEntryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		return price.LessThanOrEqual(threshold)
	case RuleDownFromAveragePrice:
		threshold := pos.AvgEntryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		return price.LessThanOrEqual(threshold)
	case RuleLossByPercent:
		if pos.AvgEntryPrice.IsZero() {
			return false
		}
		loss := pos.AvgEntryPrice.Sub(price).Div(pos.AvgEntryPrice)
		return loss.GreaterThanOrEqual(pct)
	case RuleLossByAmount:
		loss := pos.AvgEntryPrice.Sub(price).Mul(pos.Qty)
		return loss.GreaterThanOrEqual(decimal.NewFromFloat(cfg.RuleAmount))
	default:
		return false
	}
}

// capBlocksDCA checks every configured cap before a DCA order. A blocked DCA
// is skipped silently: no order, no error, no state change.
func capBlocksDCA(cfg *DCAConfig, pos *Position, price decimal.Decimal, globalDCAs int, nextAmount float64) bool {
	if cfg.MaxDCAsPerPosition > 0 && pos.DCAIndex >= cfg.MaxDCAsPerPosition {
		return true
	}
	if cfg.MaxDCAsGlobal > 0 && globalDCAs >= cfg.MaxDCAsGlobal {
		return true
	}
	if cfg.MaxInvestmentPerPosition > 0 {
		invested := pos.TotalCost()
		if invested.Add(decimal.NewFromFloat(nextAmount)).
			GreaterThan(decimal.NewFromFloat(cfg.MaxInvestmentPerPosition)) {
			return true
		}
	}
	if cfg.StopDCAOnLossPct > 0 && !pos.AvgEntryPrice.IsZero() {
		lossPct := pos.AvgEntryPrice.Sub(price).Div(pos.AvgEntryPrice).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.StopDCAOnLossPct)) {
			return true
		}
	}
	return false
}

// inCooldown reports whether the DCA cooldown window since the last entry is
// still open.
func inCooldown(cfg *DCAConfig, pos *Position, now time.Time, barDuration time.Duration) bool {
	if pos.LastEntryAt.IsZero() {
		return false
	}
	var window time.Duration
	switch {
	case cfg.CooldownBars > 0:
		window = time.Duration(cfg.CooldownBars) * barDuration
	case cfg.CooldownMinutes > 0:
		window = time.Duration(cfg.CooldownMinutes) * time.Minute
	default:
		return false
	}
	return now.Sub(pos.LastEntryAt) < window
}

// unrealizedPnLPct returns the open position's unrealized gain in percent at
// the given price.
func unrealizedPnLPct(pos *Position, price decimal.Decimal) decimal.Decimal {
	if pos.Qty.IsZero() || pos.AvgEntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice).Mul(decimal.NewFromInt(100))
}
