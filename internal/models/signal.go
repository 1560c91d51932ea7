package models

import "time"

// ScoreBreakdown — composite score with its capped components.
// Reasons carries the human-readable explanation of every point awarded,
// so a signal can be reconstructed from the notification alone.
type ScoreBreakdown struct {
	Total     float64
	Technical float64
	Dip       float64
	Bonus     float64
	Extremes  float64
	Reasons   []string
}

// PendingSignal — one qualifying evaluation waiting for a confirming cycle.
type PendingSignal struct {
	ID        string
	Price     float64
	Timestamp time.Time
	Score     float64
	Breakdown ScoreBreakdown
}

// ActiveBuySignal — the single in-flight buy signal per trading pair.
// TotalInvested/TotalQuantity accumulate across fills; AveragePrice is
// always invested/quantity.
type ActiveBuySignal struct {
	IsActive             bool
	SignalPrice          float64
	SignalTime           time.Time
	Confirmations        int
	LastConfirmationTime time.Time
	TotalInvested        float64
	TotalQuantity        float64
	AveragePrice         float64
	BuyCount             int
	OrderIDs             []string
}
