package signal

import (
	"math"

	"oitrader/internal/types"
)

const (
	maxOIScore        = 3.0
	maxPriceScore     = 2.0
	maxSentimentScore = 3.0
	maxFundingScore   = 2.0
	neutralSentiment  = 1.0
	neutralFunding    = 1.0
)

// Sentiment weights. The global ratio is read contrarian.
const (
	weightTopTrader  = 0.4
	weightTaker      = 0.3
	weightTopAccount = 0.2
	weightGlobal     = 0.1
)

// Score computes the four bounded sub-scores for ev.
func Score(ev types.AnomalyEvent) types.ScoreBreakdown {
	dir := impliedDirection(ev.OIChangePercent)
	return types.ScoreBreakdown{
		OI:        oiScore(ev.OIChangePercent, ev.Severity),
		Price:     priceScore(ev.OIChangePercent, ev.PriceChangePercent()),
		Sentiment: sentimentScore(ev, dir),
		Funding:   fundingScore(ev.FundingRate, dir),
	}
}

// oiScore peaks for early 3–5% build-ups.
func oiScore(change float64, sev types.Severity) float64 {
	a := math.Abs(change)
	var s float64
	switch {
	case a < 1:
		s = 0.5
	case a < 2:
		s = 1.0
	case a < 3:
		s = 2.0
	case a <= 5:
		s = 3.0
	case a <= 8:
		s = 2.5
	case a <= 12:
		s = 2.0
	case a <= 20:
		s = 1.5
	default:
		s = 1.0
	}
	switch sev {
	case types.SeverityHigh:
		s += 0.3
	case types.SeverityMedium:
		s += 0.2
	}
	return math.Min(s, maxOIScore)
}

func priceScore(oiChange, priceChange float64) float64 {
	if oiChange*priceChange < 0 {
		return 0
	}
	a := math.Abs(priceChange)
	oiAbs := math.Abs(oiChange)
	switch {
	case a < 0.5:
		return 0.3
	case a < 1.5:
		return 1.0
	case a <= 3:
		return maxPriceScore
	case a <= 6:
		return 1.5
	case a <= 10:
		// early OI with a strong move is a confirmed breakout
		if oiAbs >= 3 && oiAbs <= 5 {
			return maxPriceScore
		}
		return 1.0
	default:
		return 0.5
	}
}

type weighted struct {
	ratio      *float64
	weight     float64
	contrarian bool
}

func sentimentScore(ev types.AnomalyEvent, dir types.Direction) float64 {
	inputs := []weighted{
		{ratio: ev.TopTraderRatio, weight: weightTopTrader},
		{ratio: ev.TakerBuySellRatio, weight: weightTaker},
		{ratio: ev.TopAccountRatio, weight: weightTopAccount},
		{ratio: ev.GlobalRatio, weight: weightGlobal, contrarian: true},
	}
	var sum, weights float64
	for _, in := range inputs {
		if in.ratio == nil || *in.ratio <= 0 {
			continue
		}
		long := dir != types.DirectionShort
		if in.contrarian {
			long = !long
		}
		sum += in.weight * ratioBucket(*in.ratio, long)
		weights += in.weight
	}
	if weights == 0 {
		return neutralSentiment
	}
	return math.Min(sum/weights, maxSentimentScore)
}

// ratioBucket grades a long/short ratio; for the short side the reciprocal
// is graded so that a crowd leaning short scores high.
func ratioBucket(ratio float64, long bool) float64 {
	x := ratio
	if !long {
		x = 1 / ratio
	}
	switch {
	case x >= 2.0:
		return 3.0
	case x >= 1.5:
		return 2.5
	case x >= 1.2:
		return 2.0
	case x >= 1.0:
		return 1.5
	case x >= 0.8:
		return 1.0
	default:
		return 0.5
	}
}

// fundingScore rewards carry in the signal's favour.
func fundingScore(rate *float64, dir types.Direction) float64 {
	if rate == nil {
		return neutralFunding
	}
	r := *rate
	if dir == types.DirectionShort {
		r = -r
	}
	switch {
	case r <= -0.0005:
		return maxFundingScore
	case r < 0:
		return 1.5
	case r <= 0.0001:
		return 1.0
	case r <= 0.0005:
		return 0.5
	default:
		return 0
	}
}

var severityConfidence = map[types.Severity]float64{
	types.SeverityHigh:   1.0,
	types.SeverityMedium: 0.75,
	types.SeverityLow:    0.5,
}

// Confidence blends score, data completeness and severity into [0,1].
func Confidence(ev types.AnomalyEvent, score float64) float64 {
	optional := []*float64{ev.TopTraderRatio, ev.TopAccountRatio, ev.GlobalRatio, ev.TakerBuySellRatio, ev.FundingRate}
	present := 0
	for _, v := range optional {
		if v != nil {
			present++
		}
	}
	completeness := float64(present) / float64(len(optional))
	sev, ok := severityConfidence[ev.Severity]
	if !ok {
		sev = severityConfidence[types.SeverityLow]
	}
	c := 0.4*(score/10) + 0.3*completeness + 0.3*sev
	return round(math.Max(0, math.Min(1, c)), 3)
}
