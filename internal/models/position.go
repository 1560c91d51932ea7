package models

import "time"

type PositionStatus string

const (
	PositionInactive PositionStatus = "inactive"
	PositionActive   PositionStatus = "active"
	PositionTrailing PositionStatus = "trailing"
	PositionClosed   PositionStatus = "closed"
)

// Position — trailing-stop side of a filled entry. Owned exclusively by the
// trailing engine; everything else reads snapshots.
type Position struct {
	Status     PositionStatus
	EntryPrice float64
	Size       float64
	OpenedAt   time.Time

	HighestPrice float64

	TrailStartPrice float64
	TrailStartTime  time.Time
	TrailHighPrice  float64
	TrailHighTime   time.Time

	TrailStartVolume float64

	LastStopMove         time.Time
	StopMoves            int
	ConsecutiveDownMoves int
	MaxDrawdownPct       float64
	CurrentStopPrice     float64
}

// TrackedOrder — one live exchange order we are responsible for.
type TrackedOrder struct {
	OrderID   string
	Side      string // "BUY"/"SELL"
	Price     float64
	Size      float64
	CreatedAt time.Time
}
