package models

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderUnknown   OrderStatus = "UNKNOWN"
)

type Order struct {
	OrderID    string
	ProductID  string
	Side       Side
	Type       string // "limit"/"market"
	Price      float64
	Size       float64
	FilledSize float64
	Status     OrderStatus
	PostOnly   bool
	CreatedAt  time.Time
}

// OrderRequest — what the executor hands to the exchange binding.
type OrderRequest struct {
	ProductID string
	Side      Side
	Type      string
	Size      float64
	Price     float64 // limit orders only
	PostOnly  bool
}
