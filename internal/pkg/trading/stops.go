package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

var stopEps = decimal.NewFromFloat(1e-8)

func dec(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// StopHit reports whether price has breached stop: at or below for longs,
// at or above for shorts.
func StopHit(long bool, price, stop float64) bool {
	if price <= 0 || stop <= 0 {
		return false
	}
	c := dec(price).Cmp(dec(stop))
	if long {
		return c <= 0
	}
	return c >= 0
}

// TargetHit reports whether price has reached a profit target.
func TargetHit(long bool, price, target float64) bool {
	if price <= 0 || target <= 0 {
		return false
	}
	c := dec(price).Cmp(dec(target))
	if long {
		return c >= 0
	}
	return c <= 0
}

// TrailingStopFor places a stop pct (fraction) behind anchor.
func TrailingStopFor(long bool, anchor, pct float64) float64 {
	if anchor <= 0 || pct <= 0 {
		return 0
	}
	factor := decimal.NewFromInt(1).Sub(dec(pct))
	if !long {
		factor = decimal.NewFromInt(1).Add(dec(pct))
	}
	f, _ := dec(anchor).Mul(factor).Float64()
	return f
}

// Tightens reports whether candidate is strictly better than current. A
// stop only ever moves toward price.
func Tightens(long bool, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand, curr := dec(candidate), dec(current)
	if long {
		return cand.Cmp(curr.Add(stopEps)) > 0
	}
	return cand.Cmp(curr.Sub(stopEps)) < 0
}
