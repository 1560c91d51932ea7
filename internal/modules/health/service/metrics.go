package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trailbot_cycles_total",
		Help: "Evaluation cycles completed.",
	})
	CycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trailbot_cycle_errors_total",
		Help: "Evaluation cycles that failed.",
	})
	SignalScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trailbot_signal_score",
		Help: "Composite score from the latest cycle.",
	})
	LastPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trailbot_last_price",
		Help: "Ticker price from the latest cycle.",
	})
	BuysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trailbot_buys_total",
		Help: "Entry orders filled.",
	})
	SellsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trailbot_sells_total",
		Help: "Positions closed.",
	})
	StopMovesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trailbot_stop_moves_total",
		Help: "Trailing stop replacements.",
	})
)
