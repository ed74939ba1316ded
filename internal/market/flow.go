package market

import (
	"github.com/shopspring/decimal"

	"oitrader/internal/gateway/exchange"
)

const flowMomentumBars = 6

// Flow summarizes taker aggression over a run of klines.
type Flow struct {
	Delta      decimal.Decimal // cumulative taker buy minus taker sell volume
	Momentum   decimal.Decimal // delta change over the last six bars
	BuyVolume  decimal.Decimal
	SellVolume decimal.Decimal
	Divergence string // bullish, bearish or neutral against price
}

// Ratio is taker buy volume over taker sell volume, 0 when there was no
// selling to divide by.
func (f Flow) Ratio() float64 {
	if !f.SellVolume.IsPositive() {
		return 0
	}
	return f.BuyVolume.Div(f.SellVolume).InexactFloat64()
}

// TakerFlow derives cumulative volume delta from klines that carry taker
// buy volume. ok is false when none of them do.
func TakerFlow(klines []exchange.Kline) (Flow, bool) {
	var (
		cum    = decimal.Zero
		buys   = decimal.Zero
		sells  = decimal.Zero
		deltas = make([]decimal.Decimal, 0, len(klines))
		closes = make([]float64, 0, len(klines))
	)
	for _, k := range klines {
		if k.Volume <= 0 || k.TakerBuyVolume < 0 || k.TakerBuyVolume > k.Volume {
			continue
		}
		buy := decimal.NewFromFloat(k.TakerBuyVolume)
		sell := decimal.NewFromFloat(k.Volume).Sub(buy)
		buys = buys.Add(buy)
		sells = sells.Add(sell)
		cum = cum.Add(buy.Sub(sell))
		deltas = append(deltas, cum)
		closes = append(closes, k.Close)
	}
	if len(deltas) == 0 || !buys.IsPositive() {
		return Flow{}, false
	}

	last := deltas[len(deltas)-1]
	prevDelta, prevClose := deltas[0], closes[0]
	if len(deltas) > flowMomentumBars {
		prevDelta = deltas[len(deltas)-flowMomentumBars]
		prevClose = closes[len(closes)-flowMomentumBars]
	}
	nowClose := closes[len(closes)-1]

	divergence := "neutral"
	switch {
	case nowClose > prevClose && last.LessThan(prevDelta):
		divergence = "bearish"
	case nowClose < prevClose && last.GreaterThan(prevDelta):
		divergence = "bullish"
	}
	return Flow{
		Delta:      last,
		Momentum:   last.Sub(prevDelta),
		BuyVolume:  buys,
		SellVolume: sells,
		Divergence: divergence,
	}, true
}
