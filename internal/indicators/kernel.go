package indicators

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// Result is a computed indicator: one or more named component series plus
// whether the EMA fallback served the request.
type Result struct {
	// Components maps component name to its full series. Single-line
	// indicators use the "value" component.
	Components map[string][]float64

	// Fallback is set when an unsupported MA family was served by EMA.
	Fallback bool
}

// Series returns the requested component, defaulting to "value".
func (r *Result) Series(comp string) ([]float64, bool) {
	if comp == "" {
		comp = "value"
	}
	s, found := r.Components[comp]
	return s, found
}

// Compute runs the named indicator over bars. The kernel is pure and
// deterministic: identical inputs produce identical series. Unsupported MA
// families (wma, tema, kama, mama, vwma, hull) fall back to EMA of the
// requested period with Fallback set so callers can log the warning.
func Compute(name string, settings map[string]float64, bars []types.OHLCV) (*Result, error) {
	period := int(settings["period"])

	switch name {
	case "rsi":
		return single(RSI(Closes(bars), period)), nil
	case "mfi":
		return single(MFI(bars, period)), nil
	case "cci":
		return single(CCI(bars, period)), nil
	case "atr":
		return single(ATR(bars, period)), nil
	case "sma":
		return single(SMA(Closes(bars), period)), nil
	case "ema":
		return single(EMA(Closes(bars), period)), nil
	case "macd":
		res := MACD(Closes(bars), int(settings["fast"]), int(settings["slow"]), int(settings["signal"]))
		return &Result{Components: map[string][]float64{
			"macd":      res.MACD,
			"signal":    res.Signal,
			"histogram": res.Histogram,
		}}, nil
	case "wma", "tema", "kama", "mama", "vwma", "hull":
		r := single(EMA(Closes(bars), period))
		r.Fallback = true
		return r, nil
	default:
		return nil, fmt.Errorf("unknown indicator %q", name)
	}
}

func single(series []float64) *Result {
	return &Result{Components: map[string][]float64{"value": series}}
}

// CacheKey identifies a computed series for one bar: indicator results are
// cached by (symbol, timeframe, indicator, settings, bar close time) and
// expire after one bar of the timeframe.
func CacheKey(symbol string, tf types.Timeframe, name string, settings map[string]float64, barClose time.Time) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(symbol)
	b.WriteByte('|')
	b.WriteString(tf.String())
	b.WriteByte('|')
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(settings[k], 'g', -1, 64))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(barClose.Unix(), 10))
	return b.String()
}

// MinBars returns the bar count an indicator needs before its tail value is
// defined (period+1 covers the Wilder warm-up and the previous bar that
// cross operators read).
func MinBars(name string, settings map[string]float64) int {
	switch name {
	case "macd":
		return int(settings["slow"]) + int(settings["signal"]) + 1
	default:
		return int(settings["period"]) + 1
	}
}
