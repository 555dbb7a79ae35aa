// Package evaluator drives the shared evaluation loop. Each cycle snapshots
// the active fingerprints, fetches bars once per (symbol, timeframe) group,
// computes the indicator union through a per-bar cache, evaluates every
// condition tail, and publishes debounced trigger events on the bus.
package evaluator

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradebotlab/crypto-bot-engine/internal/bus"
	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/config"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
	"github.com/tradebotlab/crypto-bot-engine/internal/market"
	"github.com/tradebotlab/crypto-bot-engine/internal/monitoring"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

func isNaN(v float64) bool { return math.IsNaN(v) }

type groupKey struct {
	symbol    string
	timeframe types.Timeframe
}

// Evaluator runs evaluation cycles. Cycles never overlap: a new cycle starts
// only after the previous one completes.
type Evaluator struct {
	registry *condition.Registry
	market   market.DataClient
	bus      *bus.Bus
	log      *logger.Logger
	cfg      config.EvaluatorConfig

	cache *indicatorCache

	mu             sync.Mutex
	playbooks      map[condition.Fingerprint]*playbookState
	fallbackWarned map[condition.Fingerprint]bool

	cycleCount int64
	minTF      types.Timeframe
}

func New(registry *condition.Registry, dataClient market.DataClient, b *bus.Bus,
	cfg config.EvaluatorConfig, log *logger.Logger) *Evaluator {

	return &Evaluator{
		registry:       registry,
		market:         dataClient,
		bus:            b,
		log:            log,
		cfg:            cfg,
		cache:          newIndicatorCache(),
		playbooks:      make(map[condition.Fingerprint]*playbookState),
		fallbackWarned: make(map[condition.Fingerprint]bool),
	}
}

// Run executes cycles until the context is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	for {
		start := time.Now()
		if err := e.RunCycle(ctx); err != nil {
			e.log.LogError("Evaluator", "cycle %d: %v", e.cycleCount, err)
			monitoring.RecordError("evaluator_cycle")
		}
		monitoring.RecordCycle(time.Since(start).Seconds())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.sleepUntilNext(time.Now())):
		}
	}
}

// sleepUntilNext paces the loop: on timeframes shorter than the cycle period
// it aligns to the next bar close plus jitter so closed bars are evaluated
// promptly without herding on the exchange at the boundary.
func (e *Evaluator) sleepUntilNext(now time.Time) time.Duration {
	sleep := e.cfg.CyclePeriod
	if e.cfg.AlignToBars && e.minTF != "" && e.minTF.Duration() <= e.cfg.CyclePeriod {
		sleep = e.minTF.NextClose(now).Sub(now)
	}
	if e.cfg.JitterMax > 0 {
		sleep += time.Duration(rand.Int63n(int64(e.cfg.JitterMax)))
	}
	if sleep < time.Second {
		sleep = time.Second
	}
	return sleep
}

// work is one fingerprint to evaluate this cycle: either an atomic condition
// or a playbook.
type work struct {
	fp       condition.Fingerprint
	rec      *condition.Record
	cond     *condition.Condition
	playbook *condition.Playbook
}

// RunCycle performs one full evaluation cycle.
func (e *Evaluator) RunCycle(ctx context.Context) error {
	e.cycleCount++
	e.cache.prune(time.Now())

	fps, err := e.registry.ActiveFingerprints(ctx)
	if err != nil {
		return err
	}
	if len(fps) == 0 {
		return nil
	}
	// Deterministic publish order within the cycle.
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })

	items, groups := e.loadWork(ctx, fps)
	fetched := e.fetchGroups(ctx, groups)

	for _, w := range items {
		e.evaluate(ctx, w, fetched)
	}

	e.log.Debug("cycle %d: %d fingerprints, %d groups, cache %d entries",
		e.cycleCount, len(items), len(fetched), e.cache.size())
	return nil
}

// loadWork resolves fingerprints to their persisted records and collects the
// (symbol, timeframe) groups the cycle must fetch.
func (e *Evaluator) loadWork(ctx context.Context, fps []condition.Fingerprint) ([]work, map[groupKey]bool) {
	items := make([]work, 0, len(fps))
	groups := make(map[groupKey]bool)
	minTF := types.Timeframe("")

	for _, fp := range fps {
		rec, err := e.registry.Condition(ctx, fp)
		if err != nil {
			e.log.LogWarning("Evaluator", "load condition %s: %v", fp, err)
			continue
		}

		w := work{fp: fp, rec: rec}
		if rec.Type == condition.TypePlaybook {
			var p condition.Playbook
			if err := json.Unmarshal(rec.Config, &p); err != nil {
				e.log.LogError("Evaluator", "decode playbook %s: %v", fp, err)
				continue
			}
			// Restores item fingerprints lost in serialization; idempotent on
			// already-canonical input.
			if err := p.Canonicalize(); err != nil {
				e.log.LogError("Evaluator", "canonicalize playbook %s: %v", fp, err)
				continue
			}
			w.playbook = &p
			for i := range p.Items {
				c := &p.Items[i].Condition
				groups[groupKey{symbol: c.Symbol, timeframe: c.Timeframe}] = true
				minTF = lowerTimeframe(minTF, c.Timeframe)
			}
		} else {
			var c condition.Condition
			if err := json.Unmarshal(rec.Config, &c); err != nil {
				e.log.LogError("Evaluator", "decode condition %s: %v", fp, err)
				continue
			}
			w.cond = &c
			groups[groupKey{symbol: c.Symbol, timeframe: c.Timeframe}] = true
			minTF = lowerTimeframe(minTF, c.Timeframe)
		}
		items = append(items, w)
	}

	e.minTF = minTF
	return items, groups
}

func lowerTimeframe(a, b types.Timeframe) types.Timeframe {
	if a == "" || b.Duration() < a.Duration() {
		return b
	}
	return a
}

// fetchGroups fetches bars exactly once per group and trims the still-forming
// bar. A failed fetch skips the group for the cycle; its fingerprints are not
// counted as evaluated.
func (e *Evaluator) fetchGroups(ctx context.Context, groups map[groupKey]bool) map[groupKey][]types.OHLCV {
	fetched := make(map[groupKey][]types.OHLCV, len(groups))
	now := time.Now()

	for k := range groups {
		bars, err := e.market.GetKlines(ctx, k.symbol, k.timeframe, e.cfg.KlineLimit)
		if err != nil {
			e.log.LogWarning("Evaluator", "fetch %s/%s failed, skipping group: %v", k.symbol, k.timeframe, err)
			monitoring.RecordSkippedGroup()
			continue
		}
		if n := len(bars); n > 0 && bars[n-1].CloseTime.After(now) {
			bars = bars[:n-1]
		}
		fetched[k] = bars
	}
	return fetched
}

// evaluate runs one fingerprint against its fetched bars and publishes a
// debounced trigger when it holds.
func (e *Evaluator) evaluate(ctx context.Context, w work, fetched map[groupKey][]types.OHLCV) {
	key := groupKey{symbol: w.rec.Symbol, timeframe: w.rec.Timeframe}
	bars, found := fetched[key]
	if !found || len(bars) == 0 {
		return
	}
	barClose := bars[len(bars)-1].CloseTime

	var ok bool
	var indeterminate bool
	var values map[string]float64

	if w.playbook != nil {
		ok, indeterminate, values = e.evalPlaybook(ctx, w.fp, w.playbook, fetched)
	} else {
		res, v := e.evalAtomic(w.cond, w.fp, bars)
		ok, indeterminate, values = res.Ok, res.Indeterminate, v
	}
	if indeterminate {
		return
	}

	now := time.Now().UTC()
	monitoring.RecordEvaluation(w.rec.Symbol, w.rec.Timeframe.String())

	// At most one trigger per (fingerprint, bar close). The persisted
	// last_triggered_at keeps the debounce across restarts.
	triggered := ok && !w.rec.LastTriggeredAt.Equal(barClose)
	if triggered {
		evt := condition.TriggerEvent{
			EventID:      uuid.NewString(),
			Fingerprint:  w.fp,
			Symbol:       w.rec.Symbol,
			Timeframe:    w.rec.Timeframe,
			TriggeredAt:  now,
			BarCloseTime: barClose,
			Values:       values,
		}
		e.bus.Publish(evt.Topic(), evt)
		monitoring.RecordTrigger(w.rec.Symbol, w.rec.Timeframe.String())
		e.log.Info("trigger %s %s/%s at bar %s", w.fp, w.rec.Symbol, w.rec.Timeframe,
			barClose.Format(time.RFC3339))
	}

	if err := e.registry.MarkEvaluated(ctx, w.fp, now, barClose, triggered); err != nil {
		e.log.LogWarning("Evaluator", "mark %s evaluated: %v", w.fp, err)
	}
}

// Cycles returns the number of cycles started.
func (e *Evaluator) Cycles() int64 { return e.cycleCount }
