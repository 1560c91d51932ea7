package indicators

import (
	"math"

	"trailbot/internal/models"
)

// Minimum bars before an indicator is reported at all. Below these the
// field stays nil — no estimating from short windows.
const (
	minRSI       = 15
	minMA        = 20
	minMACD      = 26
	vwapWindow   = 30
	volumeWindow = 20
)

// Snapshot — last-value indicator scalars for one evaluation cycle.
// Derived, ephemeral, recomputed every cycle; nil means "not enough data".
type Snapshot struct {
	EMA9  *float64
	EMA20 *float64
	EMA50 *float64

	RSI14 *float64

	MACDLine     *float64
	MACDSignal   *float64
	MACDHist     *float64
	MACDHistPrev *float64

	BBUpper  *float64
	BBMiddle *float64
	BBLower  *float64

	VWAP      *float64
	AvgVolume *float64

	LastClose  float64
	LastVolume float64
}

// Compute derives a Snapshot from a candle window, oldest first.
func Compute(window []models.Candle) Snapshot {
	snap := Snapshot{}
	if len(window) == 0 {
		return snap
	}

	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	closes = nudgeFlat(closes)

	snap.LastClose = closes[len(closes)-1]
	snap.LastVolume = volumes[len(volumes)-1]

	if len(closes) >= 9 {
		snap.EMA9 = ptr(emaLast(closes, 9))
	}
	if len(closes) >= minMA {
		snap.EMA20 = ptr(emaLast(closes, 20))

		upper, middle, lower := bollinger(closes, minMA, 2.0)
		snap.BBUpper, snap.BBMiddle, snap.BBLower = ptr(upper), ptr(middle), ptr(lower)
	}
	if len(closes) >= 50 {
		snap.EMA50 = ptr(emaLast(closes, 50))
	}

	if len(closes) >= minRSI {
		if rsi, ok := rsiLast(closes, 14); ok {
			snap.RSI14 = ptr(rsi)
		}
	}

	if len(closes) >= minMACD {
		line, signal, hist, histPrev := macd(closes)
		snap.MACDLine, snap.MACDSignal = ptr(line), ptr(signal)
		snap.MACDHist, snap.MACDHistPrev = ptr(hist), ptr(histPrev)
	}

	vwapSlice := window
	if len(vwapSlice) > vwapWindow {
		vwapSlice = vwapSlice[len(vwapSlice)-vwapWindow:]
	}
	snap.VWAP = ptr(VWAP(vwapSlice))

	volSlice := volumes
	if len(volSlice) > volumeWindow {
		volSlice = volSlice[len(volSlice)-volumeWindow:]
	}
	snap.AvgVolume = ptr(mean(volSlice))

	return snap
}

// VWAP over an explicit candle slice: Σ(typical·volume)/Σvolume.
// Zero cumulative volume yields 0, not NaN.
func VWAP(slice []models.Candle) float64 {
	var pv, vol float64
	for _, c := range slice {
		pv += c.TypicalPrice() * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// emaSeries — standard exponential recursion, k=2/(period+1), seeded
// with the first value.
func emaSeries(values []float64, period int) []float64 {
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

func emaLast(values []float64, period int) float64 {
	s := emaSeries(values, period)
	return s[len(s)-1]
}

// rsiLast — Wilder smoothing over the full window, last value.
func rsiLast(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta >= 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta >= 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// macd — EMA12-EMA26 line, EMA9 signal over the line series, histogram
// plus the previous histogram value for slope checks.
func macd(closes []float64) (line, signal, hist, histPrev float64) {
	fast := emaSeries(closes, 12)
	slow := emaSeries(closes, 26)

	macdSeries := make([]float64, 0, len(closes)-minMACD+1)
	for i := minMACD - 1; i < len(closes); i++ {
		macdSeries = append(macdSeries, fast[i]-slow[i])
	}

	signalSeries := emaSeries(macdSeries, 9)

	line = macdSeries[len(macdSeries)-1]
	signal = signalSeries[len(signalSeries)-1]
	hist = line - signal
	if len(macdSeries) > 1 {
		histPrev = macdSeries[len(macdSeries)-2] - signalSeries[len(signalSeries)-2]
	} else {
		histPrev = hist
	}
	return line, signal, hist, histPrev
}

func bollinger(closes []float64, window int, mult float64) (upper, middle, lower float64) {
	recent := closes[len(closes)-window:]
	middle = mean(recent)
	var sum float64
	for _, v := range recent {
		d := v - middle
		sum += d * d
	}
	sd := math.Sqrt(sum / float64(window))
	return middle + mult*sd, middle, middle - mult*sd
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// nudgeFlat adds a vanishing per-index offset when every price is
// identical, so the EMA/stddev recursions don't degenerate.
func nudgeFlat(closes []float64) []float64 {
	if len(closes) < 2 {
		return closes
	}
	first := closes[0]
	for _, v := range closes[1:] {
		if v != first {
			return closes
		}
	}
	out := make([]float64, len(closes))
	for i, v := range closes {
		out[i] = v + float64(i)*1e-9
	}
	return out
}

func ptr(v float64) *float64 { return &v }
