package trailing

import (
	"fmt"
	"time"

	"trailbot/internal/indicators"
	"trailbot/internal/models"
	"trailbot/internal/modules/config"
)

// Decision — the outcome of one trailing evaluation. At most one of
// StartTrail / MoveStop / Close is set.
type Decision struct {
	StartTrail bool
	MoveStop   bool
	NewStop    float64
	Close      bool
	Reason     string
}

// decide is pure: it looks at the position, the resting stop order and
// the market and says what to do. All exchange effects live in the
// engine.
func decide(
	cfg *config.Config,
	pos models.Position,
	restingPrice float64,
	price float64,
	snap *indicators.Snapshot,
	now time.Time,
) Decision {
	switch pos.Status {
	case models.PositionActive:
		if pos.EntryPrice <= 0 {
			return Decision{}
		}
		if now.Sub(pos.OpenedAt) < cfg.Trailing.MinHold {
			return Decision{}
		}
		gate := pos.EntryPrice * (1 + cfg.Trailing.InitialTargetPct/100)
		if price >= gate {
			return Decision{StartTrail: true, Reason: fmt.Sprintf("price %.2f above target %.2f", price, gate)}
		}
		return Decision{}

	case models.PositionTrailing:
		// exits first, a dying trail must not keep trailing
		if pos.TrailHighPrice > 0 {
			dd := (pos.TrailHighPrice - price) / pos.TrailHighPrice * 100
			if dd >= cfg.Trailing.MaxDrawdownPct {
				return Decision{Close: true, Reason: fmt.Sprintf("drawdown %.2f%% from trail high", dd)}
			}
		}
		if cfg.Trailing.MaxTrailDuration > 0 && now.Sub(pos.TrailStartTime) > cfg.Trailing.MaxTrailDuration {
			return Decision{Close: true, Reason: "trail duration exceeded"}
		}
		if cfg.Trailing.DownTickLimit > 0 && pos.ConsecutiveDownMoves >= cfg.Trailing.DownTickLimit {
			return Decision{Close: true, Reason: fmt.Sprintf("%d consecutive down moves", pos.ConsecutiveDownMoves)}
		}
		if cfg.Trailing.VolumeFloorFrac > 0 && pos.TrailStartVolume > 0 && snap != nil &&
			snap.LastVolume > 0 && snap.LastVolume < cfg.Trailing.VolumeFloorFrac*pos.TrailStartVolume {
			return Decision{Close: true, Reason: "volume dried up"}
		}

		if snap == nil {
			// indicators not warmed up yet, hold the line
			return Decision{}
		}
		m := Momentum(snap, price, pos.TrailHighPrice)
		if m < cfg.Trailing.MomentumExit {
			return Decision{Close: true, Reason: fmt.Sprintf("momentum %.2f below exit floor", m)}
		}

		// gates for moving the stop
		if m < cfg.Trailing.MomentumThreshold {
			return Decision{}
		}
		if cfg.Trailing.MoveCooldown > 0 && !pos.LastStopMove.IsZero() &&
			now.Sub(pos.LastStopMove) < cfg.Trailing.MoveCooldown {
			return Decision{}
		}
		if cfg.Trailing.MaxConsecutiveMoves > 0 && pos.StopMoves >= cfg.Trailing.MaxConsecutiveMoves {
			return Decision{}
		}

		cand := clampStop(cfg, pos.EntryPrice, price*(1-cfg.Trailing.TrailStepPct/100))
		// monotonic: the stop only ratchets up, and only above the resting order
		if cand <= pos.CurrentStopPrice || cand <= restingPrice {
			return Decision{}
		}
		return Decision{MoveStop: true, NewStop: cand, Reason: fmt.Sprintf("momentum %.2f, stop -> %.2f", m, cand)}
	}

	return Decision{}
}

// clampStop pins the candidate stop between the minimum-profit floor
// and the runaway ceiling relative to entry.
func clampStop(cfg *config.Config, entry, cand float64) float64 {
	floor := entry * (1 + cfg.Trailing.MinProfitPct/100)
	if cand < floor {
		cand = floor
	}
	if cfg.Trailing.MaxStopMultiplier > 0 {
		if ceil := entry * cfg.Trailing.MaxStopMultiplier; cand > ceil {
			cand = ceil
		}
	}
	return cand
}

// Momentum folds the indicator snapshot into [0,1]. Weights favour
// MACD expansion; a nil or empty snapshot scores zero.
func Momentum(snap *indicators.Snapshot, price, trailHigh float64) float64 {
	if snap == nil {
		return 0
	}
	var m float64
	if snap.MACDHist != nil && snap.MACDHistPrev != nil && *snap.MACDHist > *snap.MACDHistPrev {
		m += 0.3
	}
	if snap.RSI14 != nil && *snap.RSI14 >= 50 && *snap.RSI14 <= 75 {
		m += 0.2
	}
	if snap.BBMiddle != nil && price > *snap.BBMiddle {
		m += 0.2
	}
	if snap.AvgVolume != nil && *snap.AvgVolume > 0 && snap.LastVolume >= 1.2*(*snap.AvgVolume) {
		m += 0.15
	}
	if trailHigh > 0 && price > trailHigh {
		m += 0.15
	}
	return m
}
