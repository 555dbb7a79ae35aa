package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

func flatBars(n int, price float64) []types.OHLCV {
	bars := make([]types.OHLCV, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars[i] = types.OHLCV{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return bars
}

func barsFromCloses(closes []float64) []types.OHLCV {
	bars := make([]types.OHLCV, len(closes))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = types.OHLCV{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return bars
}

func TestRSI_ConstantSeriesIsNeutral(t *testing.T) {
	series := RSI(Closes(flatBars(40, 100)), 14)
	for i := 14; i < len(series); i++ {
		assert.InDelta(t, 50.0, series[i], 1e-9, "bar %d", i)
	}
}

func TestRSI_WarmupIsIndeterminate(t *testing.T) {
	series := RSI(Closes(flatBars(40, 100)), 14)
	for i := 0; i < 14; i++ {
		assert.True(t, math.IsNaN(series[i]), "bar %d should be warm-up", i)
	}
}

func TestRSI_Bounds(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/3)
	}
	series := RSI(closes, 14)
	for i := 14; i < len(series); i++ {
		assert.GreaterOrEqual(t, series[i], 0.0)
		assert.LessOrEqual(t, series[i], 100.0)
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	series := RSI(Closes(flatBars(10, 100)), 14)
	for _, v := range series {
		assert.True(t, math.IsNaN(v))
	}
}

func TestATR_ConstantSeriesIsZero(t *testing.T) {
	series := ATR(flatBars(40, 100), 14)
	for i := 14; i < len(series); i++ {
		assert.InDelta(t, 0.0, series[i], 1e-9)
	}
}

func TestSMA_KnownValues(t *testing.T) {
	series := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(series[0]))
	assert.True(t, math.IsNaN(series[1]))
	assert.InDelta(t, 2.0, series[2], 1e-9)
	assert.InDelta(t, 3.0, series[3], 1e-9)
	assert.InDelta(t, 4.0, series[4], 1e-9)
}

func TestEMA_ConvergesTowardLevelShift(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		if i < 50 {
			closes[i] = 100
		} else {
			closes[i] = 200
		}
	}
	series := EMA(closes, 10)
	assert.InDelta(t, 100.0, series[49], 1e-6)
	assert.Greater(t, series[99], 195.0)
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	res := MACD(Closes(flatBars(80, 100)), 12, 26, 9)
	last := len(res.MACD) - 1
	assert.InDelta(t, 0.0, res.MACD[last], 1e-9)
	assert.InDelta(t, 0.0, res.Signal[last], 1e-9)
	assert.InDelta(t, 0.0, res.Histogram[last], 1e-9)
}

func TestCCI_FlatWindowIsZero(t *testing.T) {
	series := CCI(flatBars(40, 100), 20)
	assert.InDelta(t, 0.0, series[len(series)-1], 1e-9)
}

func TestMFI_AllRisingIsMax(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	series := MFI(barsFromCloses(closes), 14)
	assert.InDelta(t, 100.0, series[len(series)-1], 1e-9)
}

func TestCrossOperators_MutuallyExclusive(t *testing.T) {
	x := []float64{1, 2, 3, 2, 1, 2}
	y := ConstSeries(2, len(x))
	for i := 1; i < len(x); i++ {
		above := EvalTail("crosses_above", x, y, i)
		below := EvalTail("crosses_below", x, y, i)
		if above.Ok {
			assert.False(t, below.Ok, "bar %d", i)
		}
		if below.Ok {
			assert.False(t, above.Ok, "bar %d", i)
		}
	}
}

func TestCrossesAbove_RequiresPriorBarAtOrBelow(t *testing.T) {
	x := []float64{1, 3}
	y := ConstSeries(2, 2)
	res := EvalTail("crosses_above", x, y, 1)
	require.False(t, res.Indeterminate)
	assert.True(t, res.Ok)

	// Already above on the prior bar: no cross.
	x = []float64{3, 4}
	res = EvalTail("crosses_above", x, y, 1)
	assert.False(t, res.Ok)
}

func TestBetween_EqualsGeAndLe(t *testing.T) {
	values := []float64{24, 25, 27, 35, 36, 30}
	lower, upper := 25.0, 35.0
	for i := range values {
		between := EvalBetween(values, lower, upper, i)
		ge := EvalTail("ge", values, ConstSeries(lower, len(values)), i)
		le := EvalTail("le", values, ConstSeries(upper, len(values)), i)
		assert.Equal(t, ge.Ok && le.Ok, between.Ok, "index %d", i)
	}
}

func TestEvalTail_NaNIsIndeterminate(t *testing.T) {
	x := []float64{math.NaN(), 1}
	y := ConstSeries(0, 2)
	assert.True(t, EvalTail("gt", x, y, 0).Indeterminate)
	assert.True(t, EvalTail("crosses_above", x, y, 1).Indeterminate)
}

func TestEvalPattern_InsideAndOutsideBar(t *testing.T) {
	bars := []types.OHLCV{
		{Open: 100, High: 110, Low: 90, Close: 105},
		{Open: 102, High: 108, Low: 95, Close: 100},
	}
	assert.True(t, EvalPattern("inside_bar", bars, 1).Ok)
	assert.False(t, EvalPattern("outside_bar", bars, 1).Ok)
}

func TestEvalPattern_BullishEngulfing(t *testing.T) {
	bars := []types.OHLCV{
		{Open: 105, High: 106, Low: 99, Close: 100},  // red
		{Open: 99, High: 108, Low: 98, Close: 107},   // green engulfing
	}
	assert.True(t, EvalPattern("bullish_engulfing", bars, 1).Ok)
	assert.False(t, EvalPattern("bearish_engulfing", bars, 1).Ok)
}

func TestEvalPattern_Doji(t *testing.T) {
	bars := []types.OHLCV{
		{Open: 100, High: 110, Low: 90, Close: 105},
		{Open: 100, High: 105, Low: 95, Close: 100.5},
	}
	assert.True(t, EvalPattern("doji", bars, 1).Ok)
}

func TestEvalPattern_GapUp(t *testing.T) {
	bars := []types.OHLCV{
		{Open: 100, High: 104, Low: 98, Close: 103},
		{Open: 105, High: 109, Low: 104, Close: 108},
	}
	assert.True(t, EvalPattern("gap_up", bars, 1).Ok)
	assert.False(t, EvalPattern("gap_down", bars, 1).Ok)
}

func TestEvalPattern_SingleBarIsIndeterminate(t *testing.T) {
	bars := []types.OHLCV{{Open: 1, High: 2, Low: 0.5, Close: 1.5}}
	assert.True(t, EvalPattern("doji", bars, 0).Indeterminate)
}

func TestCompute_FallbackFamilies(t *testing.T) {
	bars := flatBars(40, 100)
	for _, name := range []string{"wma", "tema", "kama", "mama", "vwma", "hull"} {
		res, err := Compute(name, map[string]float64{"period": 20}, bars)
		require.NoError(t, err, name)
		assert.True(t, res.Fallback, name)
		ema, errEMA := Compute("ema", map[string]float64{"period": 20}, bars)
		require.NoError(t, errEMA)
		want, _ := ema.Series("")
		got, _ := res.Series("")
		require.Equal(t, len(want), len(got), name)
		for i := range want {
			if math.IsNaN(want[i]) {
				assert.True(t, math.IsNaN(got[i]), name)
			} else {
				assert.Equal(t, want[i], got[i], name)
			}
		}
	}
}

func TestCompute_UnknownIndicator(t *testing.T) {
	_, err := Compute("vwap", nil, flatBars(10, 100))
	assert.Error(t, err)
}

func TestCacheKey_SettingsOrderIndependent(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := CacheKey("BTCUSDT", types.Timeframe1h, "macd", map[string]float64{"fast": 12, "slow": 26, "signal": 9}, at)
	b := CacheKey("BTCUSDT", types.Timeframe1h, "macd", map[string]float64{"signal": 9, "fast": 12, "slow": 26}, at)
	assert.Equal(t, a, b)

	c := CacheKey("BTCUSDT", types.Timeframe1h, "macd", map[string]float64{"fast": 12, "slow": 26, "signal": 10}, at)
	assert.NotEqual(t, a, c)
}
