package scoring

import (
	"fmt"

	"trailbot/internal/helper"
	"trailbot/internal/indicators"
	"trailbot/internal/models"
)

// Score contract. The caps and thresholds are part of the signal
// definition — changing them redefines what a "signal" is, so they are
// constants, not config.
const (
	MaxScore = 21.0

	// MinScore — absolute floor below which a cycle is never a candidate.
	MinScore = 5.0

	// NewSignalThreshold opens a fresh signal (~57% of max).
	// ReconfirmThreshold keeps an already-open one alive (~47%).
	// Reconfirming is deliberately easier than initiating; the two are
	// kept as distinct constants on purpose.
	NewSignalThreshold = 12.0
	ReconfirmThreshold = 10.0

	technicalCap = 8.0
	dipCap       = 5.0
	bonusCap     = 4.0
	extremesCap  = 4.0
)

// Evaluate folds indicators and price-level metrics into the bounded
// composite score. Nil indicator inputs zero their own component and
// never break the sum.
func Evaluate(price float64, snap indicators.Snapshot, short, hourly []models.Candle) models.ScoreBreakdown {
	b := models.ScoreBreakdown{}
	if price <= 0 || !helper.IsFinite(price) {
		b.Reasons = append(b.Reasons, "invalid price, zero score")
		return b
	}

	b.Technical = technicalScore(&b, price, snap)
	b.Dip = dipScore(&b, price, short)
	b.Bonus = bonusScore(&b, price, snap)
	b.Extremes = extremesScore(&b, price, hourly)

	b.Total = helper.Clamp(b.Technical+b.Dip+b.Bonus+b.Extremes, 0, MaxScore)
	return b
}

// IsBuySignal — does this evaluation qualify to open a new signal.
func IsBuySignal(b models.ScoreBreakdown) bool {
	return b.Total >= NewSignalThreshold && b.Total >= MinScore
}

// QualifiesReconfirm — does this evaluation keep an active signal alive.
func QualifiesReconfirm(b models.ScoreBreakdown) bool {
	return b.Total >= ReconfirmThreshold
}

func technicalScore(b *models.ScoreBreakdown, price float64, snap indicators.Snapshot) float64 {
	score := 0.0

	if snap.RSI14 != nil {
		rsi := *snap.RSI14
		switch {
		case rsi < 20:
			score += 3
			b.Reasons = append(b.Reasons, fmt.Sprintf("RSI %.1f deeply oversold +3", rsi))
		case rsi < 25:
			score += 2.5
			b.Reasons = append(b.Reasons, fmt.Sprintf("RSI %.1f oversold +2.5", rsi))
		case rsi < 30:
			score += 2
			b.Reasons = append(b.Reasons, fmt.Sprintf("RSI %.1f oversold +2", rsi))
		case rsi < 35:
			score += 1
			b.Reasons = append(b.Reasons, fmt.Sprintf("RSI %.1f approaching oversold +1", rsi))
		}
	}

	if snap.MACDLine != nil && snap.MACDSignal != nil && *snap.MACDLine > *snap.MACDSignal {
		score += 1.5
		b.Reasons = append(b.Reasons, "MACD above signal +1.5")
	}

	if snap.EMA9 != nil && price < *snap.EMA9 {
		score += 0.5
		b.Reasons = append(b.Reasons, "price below EMA9 +0.5")
	}
	if snap.EMA20 != nil && price < *snap.EMA20 {
		score += 0.5
		b.Reasons = append(b.Reasons, "price below EMA20 +0.5")
	}
	if snap.EMA50 != nil && price < *snap.EMA50 {
		score += 0.5
		b.Reasons = append(b.Reasons, "price below EMA50 +0.5")
	}

	if snap.BBLower != nil && snap.BBMiddle != nil {
		switch {
		case price <= *snap.BBLower:
			score += 2
			b.Reasons = append(b.Reasons, "price at/below lower band +2")
		case price <= *snap.BBLower*1.01:
			score += 1
			b.Reasons = append(b.Reasons, "price within 1% of lower band +1")
		}
	}

	return helper.Clamp(score, 0, technicalCap)
}

// dipScore maps the drop from the recent 60-bar high through a monotonic
// step table.
func dipScore(b *models.ScoreBreakdown, price float64, short []models.Candle) float64 {
	if len(short) == 0 {
		return 0
	}
	high := short[0].High
	for _, c := range short[1:] {
		if c.High > high {
			high = c.High
		}
	}
	if high <= 0 {
		return 0
	}
	dropPct := (high - price) / high * 100

	var score float64
	switch {
	case dropPct >= 3.5:
		score = 5
	case dropPct >= 2.5:
		score = 4
	case dropPct >= 2.0:
		score = 3
	case dropPct >= 1.5:
		score = 2
	case dropPct >= 1.0:
		score = 1
	default:
		score = 0
	}
	if score > 0 {
		b.Reasons = append(b.Reasons, fmt.Sprintf("%.2f%% below recent high +%.0f", dropPct, score))
	}
	return helper.Clamp(score, 0, dipCap)
}

func bonusScore(b *models.ScoreBreakdown, price float64, snap indicators.Snapshot) float64 {
	score := 0.0

	if snap.RSI14 != nil && *snap.RSI14 >= 25 && *snap.RSI14 <= 45 {
		score++
		b.Reasons = append(b.Reasons, "RSI in buy range +1")
	}
	if snap.MACDHist != nil && snap.MACDHistPrev != nil && *snap.MACDHist > *snap.MACDHistPrev {
		score++
		b.Reasons = append(b.Reasons, "MACD histogram improving +1")
	}
	if snap.VWAP != nil && *snap.VWAP > 0 && price > *snap.VWAP {
		score++
		b.Reasons = append(b.Reasons, "price above VWAP +1")
	}
	if snap.AvgVolume != nil && *snap.AvgVolume > 0 && snap.LastVolume >= *snap.AvgVolume*1.2 {
		score++
		b.Reasons = append(b.Reasons, "volume 20%+ above average +1")
	}

	return helper.Clamp(score, 0, bonusCap)
}

// extremesScore blends proximity to the 24h high and the 24h average low:
// 30% weight to distance above the average low, 70% to distance below the
// high. Each sub-score is bounded [0,10] before rescaling into the cap.
func extremesScore(b *models.ScoreBreakdown, price float64, hourly []models.Candle) float64 {
	if len(hourly) == 0 {
		return 0
	}

	high := hourly[0].High
	var lowSum float64
	for _, c := range hourly {
		if c.High > high {
			high = c.High
		}
		lowSum += c.Low
	}
	avgLow := lowSum / float64(len(hourly))
	if high <= 0 || avgLow <= 0 {
		return 0
	}

	// nearer the 24h average low scores higher
	pctAboveLow := (price - avgLow) / avgLow * 100
	subLow := helper.Clamp(10-pctAboveLow*2.5, 0, 10)

	// further below the 24h high scores higher
	pctBelowHigh := (high - price) / high * 100
	subHigh := helper.Clamp(pctBelowHigh*2.5, 0, 10)

	blended := 0.3*subLow + 0.7*subHigh
	score := blended / 10 * extremesCap
	if score > 0.5 {
		b.Reasons = append(b.Reasons, fmt.Sprintf("24h position: %.1f%% off high, %.1f%% above avg low +%.1f",
			pctBelowHigh, pctAboveLow, score))
	}
	return helper.Clamp(score, 0, extremesCap)
}
