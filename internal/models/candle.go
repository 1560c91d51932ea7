package models

import "time"

// Candle — one closed OHLCV bar. Time is unix seconds of the bar open.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (c Candle) Start() time.Time { return time.Unix(c.Time, 0).UTC() }

// TypicalPrice — (H+L+C)/3, the per-bar price used for VWAP.
func (c Candle) TypicalPrice() float64 { return (c.High + c.Low + c.Close) / 3 }

type Ticker struct {
	Price  float64
	Bid    float64
	Ask    float64
	Volume float64
	At     time.Time
}

type Balance struct {
	Available float64
	Hold      float64
}
