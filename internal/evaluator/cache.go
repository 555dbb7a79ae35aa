package evaluator

import (
	"sync"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/internal/indicators"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// indicatorCache memoizes computed series per
// (symbol, timeframe, indicator, settings, bar close). Entries expire one bar
// after the close they were computed for.
type indicatorCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result  *indicators.Result
	expires time.Time
}

func newIndicatorCache() *indicatorCache {
	return &indicatorCache{entries: make(map[string]cacheEntry)}
}

// getOrCompute returns the cached series for the key or computes and caches
// it. Computation runs at most once per key per bar.
func (c *indicatorCache) getOrCompute(symbol string, tf types.Timeframe, name string,
	settings map[string]float64, bars []types.OHLCV, barClose time.Time) (*indicators.Result, error) {

	key := indicators.CacheKey(symbol, tf, name, settings, barClose)

	c.mu.Lock()
	if e, found := c.entries[key]; found {
		c.mu.Unlock()
		return e.result, nil
	}
	c.mu.Unlock()

	res, err := indicators.Compute(name, settings, bars)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{result: res, expires: barClose.Add(tf.Duration())}
	c.mu.Unlock()
	return res, nil
}

// prune drops expired entries. Called once per cycle.
func (c *indicatorCache) prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
		}
	}
}

func (c *indicatorCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
