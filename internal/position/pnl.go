package position

import (
	"github.com/shopspring/decimal"

	"oitrader/internal/types"
)

// PnL is price difference × quantity × leverage, negated for shorts.
func PnL(side types.Direction, entry, price, qty float64, leverage int) float64 {
	if entry <= 0 || price <= 0 || qty <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(entry))
	if side == types.DirectionShort {
		diff = diff.Neg()
	}
	v, _ := diff.Mul(decimal.NewFromFloat(qty)).Mul(decimal.NewFromInt(int64(leverage))).Float64()
	return v
}

// PnLPercent is pnl relative to entry notional, in percent.
func PnLPercent(pnl, entry, qty float64) float64 {
	notional := entry * qty
	if notional <= 0 {
		return 0
	}
	return pnl / notional * 100
}
