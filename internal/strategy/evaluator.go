// Package strategy filters generated signals through configurable
// thresholds and one of four rule sets.
package strategy

import (
	"math"

	"oitrader/internal/config"
	"oitrader/internal/types"
)

type Type string

const (
	TypeTrendFollowing Type = "trend_following"
	TypeMeanReversion  Type = "mean_reversion"
	TypeSentiment      Type = "sentiment"
	TypeBreakout       Type = "breakout"
)

// Rejection categories, in evaluation order.
const (
	CategoryDisabled   = "disabled"
	CategoryScore      = "score"
	CategoryConfidence = "confidence"
	CategoryOIChange   = "oi_change"
	CategoryAlignment  = "alignment"
	CategorySentiment  = "sentiment_filter"
	CategoryRuleSet    = "rule_set"
)

const (
	trendMinPriceMove      = 1.0
	meanReversionMinRatio  = 2.0
	sentimentMinIndicators = 2
	breakoutMinConfidence  = 0.70
)

// Evaluator is a pure function of its configuration.
type Evaluator struct {
	cfg config.StrategyConfig
}

func NewEvaluator(cfg config.StrategyConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

func (e *Evaluator) Type() Type { return Type(e.cfg.Type) }

// Evaluate returns nil when sig passes every check, otherwise the first
// failure.
func (e *Evaluator) Evaluate(sig *types.TradingSignal) *types.Rejection {
	cfg := e.cfg
	if !cfg.Enabled {
		return reject(CategoryDisabled, "strategy disabled")
	}
	if sig.Score < cfg.MinSignalScore {
		return reject(CategoryScore, "score %.2f < %.2f", sig.Score, cfg.MinSignalScore)
	}
	if sig.Confidence < cfg.MinConfidence {
		return reject(CategoryConfidence, "confidence %.3f < %.3f", sig.Confidence, cfg.MinConfidence)
	}

	oi := sig.Anomaly.OIChangePercent
	pc := sig.Anomaly.PriceChangePercent()
	if math.Abs(oi) < cfg.MinOIChangePercent {
		return reject(CategoryOIChange, "|oi change| %.2f%% < %.2f%%", math.Abs(oi), cfg.MinOIChangePercent)
	}

	if cfg.RequirePriceOIAlignment {
		if oi*pc <= 0 {
			return reject(CategoryAlignment, "oi %.2f%% and price %.2f%% not aligned", oi, pc)
		}
		if gap := math.Abs(oi - pc); gap > cfg.DivergenceThreshold {
			return reject(CategoryAlignment, "oi/price gap %.2f%% > %.2f%%", gap, cfg.DivergenceThreshold)
		}
	}

	if cfg.UseSentimentFilter && sig.Anomaly.TopTraderRatio != nil && cfg.MinTraderRatio > 0 {
		r := *sig.Anomaly.TopTraderRatio
		switch sig.Direction {
		case types.DirectionLong:
			if r < cfg.MinTraderRatio {
				return reject(CategorySentiment, "top trader ratio %.2f < %.2f", r, cfg.MinTraderRatio)
			}
		case types.DirectionShort:
			if limit := 1 / cfg.MinTraderRatio; r > limit {
				return reject(CategorySentiment, "top trader ratio %.2f > %.2f", r, limit)
			}
		}
	}

	return e.ruleSet(sig, oi, pc)
}

func (e *Evaluator) ruleSet(sig *types.TradingSignal, oi, pc float64) *types.Rejection {
	switch e.Type() {
	case TypeTrendFollowing:
		if !sig.Strength.AtLeastMedium() {
			return reject(CategoryRuleSet, "trend following needs MEDIUM+ strength, got %s", sig.Strength)
		}
		if math.Abs(pc) < trendMinPriceMove {
			return reject(CategoryRuleSet, "trend following needs >= %.1f%% price move, got %.2f%%", trendMinPriceMove, pc)
		}
	case TypeMeanReversion:
		if pc != 0 {
			if ratio := math.Abs(oi) / math.Abs(pc); ratio < meanReversionMinRatio {
				return reject(CategoryRuleSet, "mean reversion needs oi/price ratio >= %.1f, got %.2f", meanReversionMinRatio, ratio)
			}
		}
	case TypeSentiment:
		if n := sig.Anomaly.SentimentCount(); n < sentimentMinIndicators {
			return reject(CategoryRuleSet, "sentiment strategy needs %d indicators, got %d", sentimentMinIndicators, n)
		}
	case TypeBreakout:
		if !sig.Strength.AtLeastMedium() {
			return reject(CategoryRuleSet, "breakout needs MEDIUM+ strength, got %s", sig.Strength)
		}
		if sig.Confidence < breakoutMinConfidence {
			return reject(CategoryRuleSet, "breakout needs confidence >= %.2f, got %.3f", breakoutMinConfidence, sig.Confidence)
		}
	default:
		return reject(CategoryRuleSet, "unknown strategy type %q", e.cfg.Type)
	}
	return nil
}

func reject(category, format string, args ...any) *types.Rejection {
	return types.Reject(types.StageStrategy, category, format, args...)
}
