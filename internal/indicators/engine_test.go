package indicators

import (
	"testing"

	"trailbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bars(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Time:   int64(i * 60),
			Open:   c,
			High:   c * 1.001,
			Low:    c * 0.999,
			Close:  c,
			Volume: 100,
		}
	}
	return out
}

func rampCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)*0.5
	}
	return out
}

func TestCompute_MinimumBars(t *testing.T) {
	// 10 bars: EMA9 present, everything heavier absent
	snap := Compute(bars(rampCloses(10)...))
	assert.NotNil(t, snap.EMA9)
	assert.Nil(t, snap.EMA20)
	assert.Nil(t, snap.BBMiddle)
	assert.Nil(t, snap.RSI14)
	assert.Nil(t, snap.MACDLine)

	// 20 bars: EMA20 and bands appear, MACD still absent
	snap = Compute(bars(rampCloses(20)...))
	assert.NotNil(t, snap.EMA20)
	assert.NotNil(t, snap.BBUpper)
	assert.NotNil(t, snap.RSI14)
	assert.Nil(t, snap.MACDLine)

	// 26 bars: MACD appears
	snap = Compute(bars(rampCloses(26)...))
	require.NotNil(t, snap.MACDLine)
	require.NotNil(t, snap.MACDSignal)
	require.NotNil(t, snap.MACDHist)
}

func TestCompute_EmptyWindow(t *testing.T) {
	snap := Compute(nil)
	assert.Nil(t, snap.EMA9)
	assert.Nil(t, snap.VWAP)
	assert.Zero(t, snap.LastClose)
}

func TestEMA_Recursion(t *testing.T) {
	// k=0.5 for period 3; seeded with the first value
	got := emaLast([]float64{2, 4, 6}, 3)
	// ema = 2 -> 2*0.5+4*0.5=3 -> 3*0.5+6*0.5=4.5
	assert.InDelta(t, 4.5, got, 1e-9)
}

func TestRSI_Directionality(t *testing.T) {
	up, ok := rsiLast(rampCloses(30), 14)
	require.True(t, ok)
	assert.Greater(t, up, 70.0, "monotonic rise should read overbought")

	down := rampCloses(30)
	for i, j := 0, len(down)-1; i < j; i, j = i+1, j-1 {
		down[i], down[j] = down[j], down[i]
	}
	d, ok := rsiLast(down, 14)
	require.True(t, ok)
	assert.Less(t, d, 30.0, "monotonic fall should read oversold")
}

func TestBollinger_Bounds(t *testing.T) {
	closes := rampCloses(20)
	upper, middle, lower := bollinger(closes, 20, 2.0)
	assert.Greater(t, upper, middle)
	assert.Less(t, lower, middle)
	assert.InDelta(t, mean(closes), middle, 1e-9)
}

func TestVWAP(t *testing.T) {
	slice := []models.Candle{
		{High: 11, Low: 9, Close: 10, Volume: 100}, // typical 10
		{High: 22, Low: 18, Close: 20, Volume: 300}, // typical 20
	}
	// (10*100 + 20*300) / 400 = 17.5
	assert.InDelta(t, 17.5, VWAP(slice), 1e-9)
}

func TestVWAP_ZeroVolume(t *testing.T) {
	slice := []models.Candle{{High: 11, Low: 9, Close: 10, Volume: 0}}
	assert.Equal(t, 0.0, VWAP(slice))
}

func TestCompute_FlatSeriesDoesNotDegenerate(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 50
	}
	snap := Compute(bars(flat...))
	require.NotNil(t, snap.RSI14)
	require.NotNil(t, snap.BBMiddle)
	assert.InDelta(t, 50, *snap.BBMiddle, 1e-3)
	// the nudge keeps values finite, nothing NaN
	require.NotNil(t, snap.MACDHist)
	assert.False(t, *snap.MACDHist != *snap.MACDHist, "histogram must not be NaN")
}

func TestMACD_HistPrevTracksSlope(t *testing.T) {
	closes := rampCloses(40)
	_, _, hist, histPrev := macd(closes)
	// steady uptrend: histogram stabilizes, both values finite
	assert.True(t, hist == hist && histPrev == histPrev)
}
