package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oitrader/internal/config"
	"oitrader/internal/pkg/convert"
	"oitrader/internal/pkg/idgen"
	"oitrader/internal/types"
)

func newTestGenerator() *Generator {
	g := NewGenerator(config.StrategyConfig{ChaseHighThreshold: 10, GeneratorMinScore: 4}, idgen.NewSequence("sig"))
	g.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return g
}

func anomaly(oi, pricePct float64) types.AnomalyEvent {
	return types.AnomalyEvent{
		Symbol:          "BTCUSDT",
		OIChangePercent: oi,
		PriceBefore:     100,
		PriceAfter:      100 * (1 + pricePct/100),
		Severity:        types.SeverityHigh,
	}
}

func TestGenerateStrongLongScenario(t *testing.T) {
	g := newTestGenerator()
	ev := anomaly(4, 2)
	ev.TopTraderRatio = convert.FloatPtr(1.6)

	sig, rej := g.Generate(ev)
	require.Nil(t, rej)
	require.NotNil(t, sig)

	assert.Equal(t, types.DirectionLong, sig.Direction)
	assert.Equal(t, types.StrengthStrong, sig.Strength)
	assert.GreaterOrEqual(t, sig.Score, 7.0)
	assert.GreaterOrEqual(t, sig.Confidence, 0.70)
	assert.Equal(t, "sig-1", sig.ID)
	assert.InDelta(t, 102*0.985, sig.StopLoss, 1e-9)
	assert.InDelta(t, 102*1.03, sig.TakeProfit, 1e-9)
}

func TestGenerateRejectsLateEuphoria(t *testing.T) {
	g := newTestGenerator()
	for _, oi := range []float64{20.01, 25, 40, -25} {
		for _, pc := range []float64{0.2, 2, 5, -3} {
			ev := anomaly(oi, pc)
			ev.TopTraderRatio = convert.FloatPtr(2.5)
			ev.TakerBuySellRatio = convert.FloatPtr(2.5)
			ev.FundingRate = convert.FloatPtr(-0.001)
			sig, rej := g.Generate(ev)
			assert.Nil(t, sig)
			require.NotNil(t, rej, "oi=%v pc=%v", oi, pc)
			assert.Equal(t, CategoryLateEuphoria, rej.Category)
		}
	}
}

func TestChaseGate(t *testing.T) {
	g := newTestGenerator()

	t.Run("price extended", func(t *testing.T) {
		_, rej := g.Generate(anomaly(4, 16))
		require.NotNil(t, rej)
		assert.Equal(t, CategoryPriceExtended, rej.Category)
	})
	t.Run("oi without price", func(t *testing.T) {
		_, rej := g.Generate(anomaly(9, 0.5))
		require.NotNil(t, rej)
		assert.Equal(t, CategoryDivergence, rej.Category)
	})
	t.Run("top trader against long", func(t *testing.T) {
		ev := anomaly(4, 2)
		ev.TopTraderRatio = convert.FloatPtr(0.8)
		_, rej := g.Generate(ev)
		require.NotNil(t, rej)
		assert.Equal(t, CategoryTraderAgainst, rej.Category)
	})
	t.Run("top trader against short", func(t *testing.T) {
		ev := anomaly(-4, -2)
		ev.TopTraderRatio = convert.FloatPtr(1.3)
		_, rej := g.Generate(ev)
		require.NotNil(t, rej)
		assert.Equal(t, CategoryTraderAgainst, rej.Category)
	})
	t.Run("distance prefers 2h", func(t *testing.T) {
		ev := anomaly(4, 2)
		ev.DistanceFromLow2h = convert.FloatPtr(12)
		ev.DistanceFromLowDay = convert.FloatPtr(3)
		_, rej := g.Generate(ev)
		require.NotNil(t, rej)
		assert.Equal(t, CategoryChaseHigh, rej.Category)

		ev.DistanceFromLow2h = convert.FloatPtr(4)
		ev.DistanceFromLowDay = convert.FloatPtr(30)
		_, rej = g.Generate(ev)
		assert.Nil(t, rej)
	})
	t.Run("distance falls back to intraday", func(t *testing.T) {
		ev := anomaly(-4, -2)
		ev.DistanceFromHighDay = convert.FloatPtr(-11)
		_, rej := g.Generate(ev)
		require.NotNil(t, rej)
		assert.Equal(t, CategoryChaseHigh, rej.Category)
	})
}

func TestGenerateLowScoreAndNeutral(t *testing.T) {
	g := newTestGenerator()

	ev := anomaly(0.5, 0.1)
	ev.Severity = types.SeverityLow
	_, rej := g.Generate(ev)
	require.NotNil(t, rej)
	assert.Equal(t, CategoryLowScore, rej.Category)

	// enough score but OI below the direction threshold
	ev = anomaly(2.5, 2)
	ev.TopTraderRatio = convert.FloatPtr(2.2)
	ev.FundingRate = convert.FloatPtr(-0.001)
	_, rej = g.Generate(ev)
	require.NotNil(t, rej)
	assert.Equal(t, types.StageDirection, rej.Stage)
	assert.Equal(t, CategoryNeutral, rej.Category)
}

func TestGenerateShortSignal(t *testing.T) {
	g := newTestGenerator()
	ev := anomaly(-5, -2)
	ev.TopTraderRatio = convert.FloatPtr(0.6)
	ev.FundingRate = convert.FloatPtr(0.0008)

	sig, rej := g.Generate(ev)
	require.Nil(t, rej)
	assert.Equal(t, types.DirectionShort, sig.Direction)
	assert.Equal(t, 2.0, sig.Breakdown.Funding)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
}

func TestSubScoresStayInBounds(t *testing.T) {
	ratios := []*float64{nil, convert.FloatPtr(0.1), convert.FloatPtr(0.9), convert.FloatPtr(1.3), convert.FloatPtr(5)}
	fundings := []*float64{nil, convert.FloatPtr(-0.01), convert.FloatPtr(0), convert.FloatPtr(0.0003), convert.FloatPtr(0.01)}
	severities := []types.Severity{types.SeverityLow, types.SeverityMedium, types.SeverityHigh, ""}

	for _, oi := range []float64{-30, -12, -4, -0.5, 0, 0.5, 1.5, 2.5, 4, 6, 10, 15, 25} {
		for _, pc := range []float64{-20, -8, -2, -0.2, 0, 0.3, 1, 2, 4, 8, 12, 18} {
			for _, r := range ratios {
				for _, f := range fundings {
					for _, sev := range severities {
						ev := anomaly(oi, pc)
						ev.Severity = sev
						ev.TopTraderRatio = r
						ev.GlobalRatio = r
						ev.TakerBuySellRatio = r
						ev.FundingRate = f
						b := Score(ev)
						assert.True(t, b.OI >= 0 && b.OI <= 3, "oi %v", b.OI)
						assert.True(t, b.Price >= 0 && b.Price <= 2, "price %v", b.Price)
						assert.True(t, b.Sentiment >= 0 && b.Sentiment <= 3, "sentiment %v", b.Sentiment)
						assert.True(t, b.Funding >= 0 && b.Funding <= 2, "funding %v", b.Funding)
						c := Confidence(ev, b.Total())
						assert.True(t, c >= 0 && c <= 1, "confidence %v", c)
					}
				}
			}
		}
	}
}

func TestPriceScoreBreakoutException(t *testing.T) {
	assert.Equal(t, 2.0, priceScore(4, 8))
	assert.Equal(t, 1.0, priceScore(7, 8))
	assert.Equal(t, 0.0, priceScore(4, -2))
	assert.Equal(t, 2.0, priceScore(4, 2))
}

func TestOIScoreSeverityBonusCapped(t *testing.T) {
	assert.Equal(t, 3.0, oiScore(4, types.SeverityHigh))
	assert.InDelta(t, 2.7, oiScore(6, types.SeverityMedium), 1e-9)
	assert.Equal(t, 1.0, oiScore(25, types.SeverityLow))
}

func TestSentimentDefaultsToNeutral(t *testing.T) {
	ev := anomaly(4, 2)
	assert.Equal(t, 1.0, sentimentScore(ev, types.DirectionLong))

	ev.GlobalRatio = convert.FloatPtr(2.5)
	assert.Equal(t, 0.5, sentimentScore(ev, types.DirectionLong), "crowded global longs are contrarian")
	assert.Equal(t, 3.0, sentimentScore(ev, types.DirectionShort))
}

func TestStrengthThresholds(t *testing.T) {
	assert.Equal(t, types.StrengthStrong, StrengthFor(7))
	assert.Equal(t, types.StrengthMedium, StrengthFor(5.5))
	assert.Equal(t, types.StrengthWeak, StrengthFor(5.49))
}
