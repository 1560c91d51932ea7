package scoring

import (
	"math"
	"testing"

	"trailbot/internal/indicators"
	"trailbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

// oversoldSnap builds a snapshot where every technical and bonus branch
// fires.
func oversoldSnap(price float64) indicators.Snapshot {
	return indicators.Snapshot{
		RSI14:        fptr(18),
		MACDLine:     fptr(0.5),
		MACDSignal:   fptr(0.1),
		MACDHist:     fptr(0.4),
		MACDHistPrev: fptr(0.1),
		EMA9:         fptr(price * 1.02),
		EMA20:        fptr(price * 1.03),
		EMA50:        fptr(price * 1.05),
		BBUpper:      fptr(price * 1.06),
		BBMiddle:     fptr(price * 1.03),
		BBLower:      fptr(price * 1.01), // price below lower band
		VWAP:         fptr(price * 0.99), // price above VWAP
		AvgVolume:    fptr(100),
		LastClose:    price,
		LastVolume:   130,
	}
}

func deepDipWindow(price float64) []models.Candle {
	// recent high 4% above current price
	return []models.Candle{{High: price * 1.04, Low: price, Close: price, Volume: 100}}
}

func hourlyAtLow(price float64) []models.Candle {
	// price sits on the 24h average low, far below the high
	out := make([]models.Candle, 24)
	for i := range out {
		out[i] = models.Candle{High: price * 1.05, Low: price, Close: price * 1.01}
	}
	return out
}

func TestEvaluate_BoundedComponents(t *testing.T) {
	price := 100.0
	b := Evaluate(price, oversoldSnap(price), deepDipWindow(price), hourlyAtLow(price))

	assert.LessOrEqual(t, b.Technical, 8.0)
	assert.LessOrEqual(t, b.Dip, 5.0)
	assert.LessOrEqual(t, b.Bonus, 4.0)
	assert.LessOrEqual(t, b.Extremes, 4.0)
	assert.GreaterOrEqual(t, b.Total, 0.0)
	assert.LessOrEqual(t, b.Total, MaxScore)
	assert.NotEmpty(t, b.Reasons)
}

func TestEvaluate_MaxedOutQualifies(t *testing.T) {
	price := 100.0
	b := Evaluate(price, oversoldSnap(price), deepDipWindow(price), hourlyAtLow(price))
	require.GreaterOrEqual(t, b.Total, NewSignalThreshold)
	assert.True(t, IsBuySignal(b))
	assert.True(t, QualifiesReconfirm(b))
}

func TestEvaluate_JustBelowThresholdFails(t *testing.T) {
	b := models.ScoreBreakdown{Total: 11.99}
	assert.False(t, IsBuySignal(b))
	// 11.99 still clears the easier re-confirmation bar
	assert.True(t, QualifiesReconfirm(b))
}

func TestThresholdAsymmetry(t *testing.T) {
	// the two thresholds are intentionally different constants
	assert.Greater(t, NewSignalThreshold, ReconfirmThreshold)
	assert.InDelta(t, math.Ceil(MaxScore*0.57), NewSignalThreshold, 1e-9)
}

func TestEvaluate_NilIndicatorsDegradeToZero(t *testing.T) {
	// empty snapshot: no technical, no bonus, nothing crashes
	b := Evaluate(100, indicators.Snapshot{LastClose: 100}, nil, nil)
	assert.Equal(t, 0.0, b.Technical)
	assert.Equal(t, 0.0, b.Bonus)
	assert.Equal(t, 0.0, b.Dip)
	assert.Equal(t, 0.0, b.Extremes)
	assert.Equal(t, 0.0, b.Total)
	assert.False(t, IsBuySignal(b))
}

func TestEvaluate_AdversarialInputs(t *testing.T) {
	snap := indicators.Snapshot{
		RSI14:    fptr(math.NaN()),
		MACDLine: fptr(math.Inf(1)),
		VWAP:     fptr(0),
	}
	b := Evaluate(100, snap, deepDipWindow(100), nil)
	assert.False(t, math.IsNaN(b.Total))
	assert.GreaterOrEqual(t, b.Total, 0.0)
	assert.LessOrEqual(t, b.Total, MaxScore)

	// invalid price short-circuits
	b = Evaluate(math.NaN(), oversoldSnap(100), nil, nil)
	assert.Equal(t, 0.0, b.Total)
}

func TestDipScore_StepTable(t *testing.T) {
	cases := []struct {
		dropPct float64
		want    float64
	}{
		{4.0, 5}, {3.5, 5}, {2.7, 4}, {2.1, 3}, {1.6, 2}, {1.2, 1}, {0.5, 0},
	}
	for _, tc := range cases {
		high := 1000.0
		price := high - tc.dropPct*10
		window := []models.Candle{{High: high}}
		b := models.ScoreBreakdown{}
		got := dipScore(&b, price, window)
		assert.InDelta(t, tc.want, got, 1e-9, "drop %.1f%%", tc.dropPct)
	}
}

func TestExtremesScore_Blend(t *testing.T) {
	price := 100.0
	b := models.ScoreBreakdown{}
	// sitting on the average low, 5% under the high: both subs max out
	got := extremesScore(&b, price, hourlyAtLow(price))
	assert.InDelta(t, 4.0, got, 0.01)

	// at the 24h high: below-high sub is 0, only the 30% low-distance
	// weight can contribute
	b = models.ScoreBreakdown{}
	atHigh := []models.Candle{{High: price, Low: price * 0.96}}
	got = extremesScore(&b, price, atHigh)
	assert.Less(t, got, 1.0)
}
