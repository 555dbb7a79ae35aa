package evaluator

import (
	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/indicators"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// evalAtomic evaluates one canonical condition against its group's closed
// bars. The returned values map carries the observed snapshot published with
// a trigger.
func (e *Evaluator) evalAtomic(c *condition.Condition, fp condition.Fingerprint,
	bars []types.OHLCV) (indicators.TailResult, map[string]float64) {

	i := len(bars) - 1
	if i < 0 {
		return indicators.TailResult{Indeterminate: true}, nil
	}

	values := map[string]float64{"price": bars[i].Close}

	if c.Type == condition.TypePattern {
		res := indicators.EvalPattern(c.Indicator, bars, i)
		if res.Ok {
			values[c.Indicator] = 1
		} else if !res.Indeterminate {
			values[c.Indicator] = 0
		}
		return res, values
	}

	x, name, res := e.leftSeries(c, fp, bars)
	if res.Indeterminate {
		return res, nil
	}
	if i < len(x) && !isNaN(x[i]) {
		values[name] = x[i]
	}

	if c.Operator == condition.OpBetween {
		return indicators.EvalBetween(x, c.Compare.Lower, c.Compare.Upper, i), values
	}

	y, yName, res := e.rightSeries(c, fp, bars, len(x))
	if res.Indeterminate {
		return res, nil
	}
	if yName != "" && i < len(y) && !isNaN(y[i]) {
		values[yName] = y[i]
	}

	return indicators.EvalTail(c.Operator, x, y, i), values
}

// leftSeries resolves the condition's observed series: the configured
// indicator component, or the raw close/volume series.
func (e *Evaluator) leftSeries(c *condition.Condition, fp condition.Fingerprint,
	bars []types.OHLCV) ([]float64, string, indicators.TailResult) {

	switch c.Type {
	case condition.TypePrice:
		return indicators.Closes(bars), "price", indicators.TailResult{}
	case condition.TypeVolume:
		return indicators.Volumes(bars), "volume", indicators.TailResult{}
	}

	series, found := e.computeSeries(c.Indicator, c.Component, c.Settings, c.Symbol, c.Timeframe, fp, bars)
	if !found {
		return nil, "", indicators.TailResult{Indeterminate: true}
	}
	name := c.Indicator
	if c.Component != "" && c.Component != "value" {
		name = c.Indicator + "_" + c.Component
	}
	return series, name, indicators.TailResult{}
}

// rightSeries resolves the reference side: a constant level or another
// indicator over the same bars.
func (e *Evaluator) rightSeries(c *condition.Condition, fp condition.Fingerprint,
	bars []types.OHLCV, n int) ([]float64, string, indicators.TailResult) {

	if c.Compare.Mode == condition.CompareValue {
		return indicators.ConstSeries(c.Compare.Value, n), "", indicators.TailResult{}
	}

	series, found := e.computeSeries(c.Compare.Indicator, c.Compare.Component, c.Compare.Settings,
		c.Symbol, c.Timeframe, fp, bars)
	if !found {
		return nil, "", indicators.TailResult{Indeterminate: true}
	}
	name := c.Compare.Indicator
	if c.Compare.Component != "" && c.Compare.Component != "value" {
		name = c.Compare.Indicator + "_" + c.Compare.Component
	}
	return series, name, indicators.TailResult{}
}

// computeSeries runs an indicator through the per-bar cache and surfaces the
// EMA-fallback warning once per fingerprint.
func (e *Evaluator) computeSeries(name, comp string, settings map[string]float64,
	symbol string, tf types.Timeframe, fp condition.Fingerprint, bars []types.OHLCV) ([]float64, bool) {

	barClose := bars[len(bars)-1].CloseTime
	res, err := e.cache.getOrCompute(symbol, tf, name, settings, bars, barClose)
	if err != nil {
		e.log.LogError("Evaluator", "compute %s for %s/%s: %v", name, symbol, tf, err)
		return nil, false
	}

	if res.Fallback {
		e.mu.Lock()
		warned := e.fallbackWarned[fp]
		e.fallbackWarned[fp] = true
		e.mu.Unlock()
		if !warned {
			e.log.LogWarning("Evaluator", "indicator %q for %s is served by an EMA fallback (fingerprint %s)",
				name, symbol, fp)
		}
	}

	series, found := res.Series(comp)
	return series, found
}
