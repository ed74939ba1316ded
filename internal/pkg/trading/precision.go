// Package trading holds exchange-agnostic order math: precision
// normalization, stop and target checks, and margin.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

const maxNormalizePasses = 16

// FloorQuantity rounds qty down to a multiple of step and truncates it to
// decimals places. It never rounds up. When step and decimals disagree the two
// steps are repeated until the value is stable, so the result is always both a
// step multiple and representable in decimals places.
func FloorQuantity(qty, step float64, decimals int) decimal.Decimal {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return decimal.Zero
	}
	v := decimal.NewFromFloat(qty)
	for i := 0; i < maxNormalizePasses; i++ {
		next := truncate(floorToStep(v, step), decimals)
		if next.Equal(v) {
			return v
		}
		v = next
	}
	return decimal.Zero
}

// FormatQuantity is FloorQuantity rendered as a float.
func FormatQuantity(qty, step float64, decimals int) float64 {
	f, _ := FloorQuantity(qty, step, decimals).Float64()
	return f
}

// QuantityString renders a normalized quantity for the exchange API.
func QuantityString(q decimal.Decimal, decimals int) string {
	if decimals < 0 {
		return q.String()
	}
	return q.StringFixed(int32(decimals))
}

// RoundPrice rounds price to the nearest tick and then to decimals places.
func RoundPrice(price, tick float64, decimals int) decimal.Decimal {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return decimal.Zero
	}
	p := decimal.NewFromFloat(price)
	if tick > 0 {
		t := decimal.NewFromFloat(tick)
		p = p.Div(t).Round(0).Mul(t)
	}
	if decimals >= 0 {
		p = p.Round(int32(decimals))
	}
	return p
}

// PriceString renders a rounded price for the exchange API.
func PriceString(price, tick float64, decimals int) string {
	p := RoundPrice(price, tick, decimals)
	if decimals < 0 {
		return p.String()
	}
	return p.StringFixed(int32(decimals))
}

// OffsetPrice returns base×(1+pct) for long targets and base×(1−pct) for short
// ones; pct is a fraction.
func OffsetPrice(base, pct float64, long bool) float64 {
	if base <= 0 {
		return 0
	}
	b := decimal.NewFromFloat(base)
	p := decimal.NewFromFloat(pct)
	factor := decimal.NewFromInt(1).Add(p)
	if !long {
		factor = decimal.NewFromInt(1).Sub(p)
	}
	f, _ := b.Mul(factor).Float64()
	return f
}

// Notional is quantity × price.
func Notional(qty, price float64) float64 {
	f, _ := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).Float64()
	return f
}

func floorToStep(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Floor().Mul(s)
}

func truncate(v decimal.Decimal, decimals int) decimal.Decimal {
	if decimals < 0 {
		return v
	}
	return v.Truncate(int32(decimals))
}
