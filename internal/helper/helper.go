package helper

import (
	"math"

	"github.com/shopspring/decimal"
)

// QuantizeDown snaps v down to the nearest multiple of step. The
// exchange rejects prices and sizes off its precision grid.
func QuantizeDown(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	q, _ := d.Div(s).Floor().Mul(s).Float64()
	return q
}

// QuantizeUp snaps v up to the nearest multiple of step.
func QuantizeUp(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	q, _ := d.Div(s).Ceil().Mul(s).Float64()
	return q
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PctChange — relative change from a to b in percent. Zero base yields 0.
func PctChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / a * 100
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
