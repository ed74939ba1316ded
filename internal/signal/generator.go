// Package signal turns open-interest anomalies into scored, directional
// trading signals.
package signal

import (
	"math"
	"time"

	"oitrader/internal/config"
	"oitrader/internal/logger"
	"oitrader/internal/pkg/idgen"
	"oitrader/internal/types"
)

const (
	maxOIChangePercent    = 20.0
	maxPriceChangePercent = 15.0
	divergenceOIPercent   = 8.0
	divergencePricePct    = 1.0
	directionOIPercent    = 3.0
	directionPricePercent = 0.5
)

// Rejection categories.
const (
	CategoryLateEuphoria  = "late_euphoria"
	CategoryPriceExtended = "price_extended"
	CategoryDivergence    = "oi_price_divergence"
	CategoryTraderAgainst = "top_trader_against"
	CategoryChaseHigh     = "chase_high"
	CategoryLowScore      = "low_score"
	CategoryNeutral       = "neutral_direction"
	CategoryInvalid       = "invalid_anomaly"
)

// Generator scores anomalies. It holds no mutable state and is safe for
// concurrent use.
type Generator struct {
	chaseHigh float64
	minScore  float64
	ids       idgen.Generator
	now       func() time.Time
}

func NewGenerator(cfg config.StrategyConfig, ids idgen.Generator) *Generator {
	if ids == nil {
		ids = idgen.UUID{}
	}
	g := &Generator{
		chaseHigh: cfg.ChaseHighThreshold,
		minScore:  cfg.GeneratorMinScore,
		ids:       ids,
		now:       time.Now,
	}
	if g.chaseHigh <= 0 {
		g.chaseHigh = 10
	}
	if g.minScore <= 0 {
		g.minScore = 4
	}
	return g
}

// Generate returns either a signal or the reason none was produced.
func (g *Generator) Generate(ev types.AnomalyEvent) (*types.TradingSignal, *types.Rejection) {
	if ev.Symbol == "" || ev.EntryPrice() <= 0 {
		return nil, types.Reject(types.StageSignal, CategoryInvalid, "anomaly missing symbol or price")
	}
	if rej := g.checkChase(ev); rej != nil {
		logger.Debugf("[signal] %s gated: %s", ev.Symbol, rej.Reason)
		return nil, rej
	}

	breakdown := Score(ev)
	score := round(breakdown.Total(), 2)
	if score < g.minScore {
		return nil, types.Reject(types.StageSignal, CategoryLowScore,
			"score %.2f below minimum %.2f", score, g.minScore)
	}

	dir := Direction(ev)
	if dir == types.DirectionNeutral {
		return nil, types.Reject(types.StageDirection, CategoryNeutral,
			"no direction: oi %.2f%% price %.2f%%", ev.OIChangePercent, ev.PriceChangePercent())
	}

	strength := StrengthFor(score)
	entry := ev.EntryPrice()
	stop, target := SuggestedStops(entry, dir, strength)
	sig := &types.TradingSignal{
		ID:         g.ids.NewID(),
		Symbol:     ev.Symbol,
		Direction:  dir,
		Strength:   strength,
		Score:      score,
		Breakdown:  breakdown,
		Confidence: Confidence(ev, score),
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Anomaly:    ev,
		CreatedAt:  g.now(),
	}
	return sig, nil
}

// checkChase vetoes moves that are already extended. It runs before scoring.
func (g *Generator) checkChase(ev types.AnomalyEvent) *types.Rejection {
	oi := ev.OIChangePercent
	pc := ev.PriceChangePercent()
	oiAbs, pcAbs := math.Abs(oi), math.Abs(pc)

	if oiAbs > maxOIChangePercent {
		return types.Reject(types.StageSignal, CategoryLateEuphoria,
			"oi change %.2f%% exceeds %.0f%%", oi, maxOIChangePercent)
	}
	if pcAbs > maxPriceChangePercent {
		return types.Reject(types.StageSignal, CategoryPriceExtended,
			"price change %.2f%% exceeds %.0f%%", pc, maxPriceChangePercent)
	}
	if oiAbs > divergenceOIPercent && pcAbs < divergencePricePct {
		return types.Reject(types.StageSignal, CategoryDivergence,
			"oi %.2f%% without price confirmation (%.2f%%)", oi, pc)
	}

	implied := impliedDirection(oi)
	if ev.TopTraderRatio != nil && implied != types.DirectionNeutral {
		r := *ev.TopTraderRatio
		if implied == types.DirectionLong && r < 1.0 {
			return types.Reject(types.StageSignal, CategoryTraderAgainst,
				"top trader ratio %.2f against long oi build-up", r)
		}
		if implied == types.DirectionShort && r > 1.0 {
			return types.Reject(types.StageSignal, CategoryTraderAgainst,
				"top trader ratio %.2f against short oi build-up", r)
		}
	}

	if dist, ok := extensionDistance(ev, implied); ok && dist > g.chaseHigh {
		return types.Reject(types.StageSignal, CategoryChaseHigh,
			"price already %.2f%% from recent extreme (limit %.2f%%)", dist, g.chaseHigh)
	}
	return nil
}

// extensionDistance picks the distance from the recent low (longs) or high
// (shorts), preferring the 2h window over the intraday one.
func extensionDistance(ev types.AnomalyEvent, dir types.Direction) (float64, bool) {
	var primary, fallback *float64
	switch dir {
	case types.DirectionLong:
		primary, fallback = ev.DistanceFromLow2h, ev.DistanceFromLowDay
	case types.DirectionShort:
		primary, fallback = ev.DistanceFromHigh2h, ev.DistanceFromHighDay
	default:
		return 0, false
	}
	if primary != nil {
		return math.Abs(*primary), true
	}
	if fallback != nil {
		return math.Abs(*fallback), true
	}
	return 0, false
}

func impliedDirection(oiChange float64) types.Direction {
	switch {
	case oiChange > 0:
		return types.DirectionLong
	case oiChange < 0:
		return types.DirectionShort
	default:
		return types.DirectionNeutral
	}
}

// Direction requires a material OI change and price move of the same sign.
func Direction(ev types.AnomalyEvent) types.Direction {
	oi := ev.OIChangePercent
	pc := ev.PriceChangePercent()
	if math.Abs(oi) < directionOIPercent || math.Abs(pc) < directionPricePercent {
		return types.DirectionNeutral
	}
	if oi > 0 && pc > 0 {
		return types.DirectionLong
	}
	if oi < 0 && pc < 0 {
		return types.DirectionShort
	}
	return types.DirectionNeutral
}

func StrengthFor(score float64) types.Strength {
	switch {
	case score >= 7:
		return types.StrengthStrong
	case score >= 5.5:
		return types.StrengthMedium
	default:
		return types.StrengthWeak
	}
}

// SuggestedStops widens for weak signals and tightens for strong ones.
func SuggestedStops(entry float64, dir types.Direction, s types.Strength) (stop, target float64) {
	slPct, tpPct := 0.03, 0.06
	switch s {
	case types.StrengthStrong:
		slPct, tpPct = 0.015, 0.03
	case types.StrengthMedium:
		slPct, tpPct = 0.02, 0.04
	}
	if dir == types.DirectionShort {
		return entry * (1 + slPct), entry * (1 - tpPct)
	}
	return entry * (1 - slPct), entry * (1 + tpPct)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
