// Package market fills the optional market context of an anomaly from the
// exchange before it is scored.
package market

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/logger"
	"oitrader/internal/types"
)

const (
	defaultRatioPeriod = "5m"
	defaultTimeout     = 5 * time.Second

	// 24 five-minute candles cover the 2h window, 24 hourly candles the day.
	shortWindowInterval = "5m"
	shortWindowBars     = 24
	dayWindowInterval   = "1h"
	dayWindowBars       = 24
)

// Enricher fetches long/short ratios, funding, taker flow and recent range for
// anomalies that arrive without them. Lookups are best effort: a failed read
// leaves the field nil and the scorer treats it as absent.
type Enricher struct {
	data    exchange.MarketData
	period  string
	timeout time.Duration
}

func NewEnricher(data exchange.MarketData, period string) *Enricher {
	if period == "" {
		period = defaultRatioPeriod
	}
	return &Enricher{data: data, period: period, timeout: defaultTimeout}
}

// Enrich returns a copy of ev with every absent field it could fetch filled
// in. Fields already present are never overwritten.
func (e *Enricher) Enrich(ctx context.Context, ev types.AnomalyEvent) types.AnomalyEvent {
	if e == nil || e.data == nil || ev.Symbol == "" {
		return ev
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out := ev
	var mu sync.Mutex
	set := func(dst **float64, v float64) {
		mu.Lock()
		*dst = &v
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	fetchRatio := func(dst **float64, name string, fn func(context.Context, string, string) (float64, error)) {
		if *dst != nil {
			return
		}
		g.Go(func() error {
			v, err := fn(gctx, ev.Symbol, e.period)
			if err != nil {
				logger.Debugf("[market] %s %s unavailable: %v", ev.Symbol, name, err)
				return nil
			}
			if v > 0 {
				set(dst, v)
			}
			return nil
		})
	}
	fetchRatio(&out.TopTraderRatio, "top trader ratio", e.data.TopTraderPositionRatio)
	fetchRatio(&out.TopAccountRatio, "top account ratio", e.data.TopTraderAccountRatio)
	fetchRatio(&out.GlobalRatio, "global ratio", e.data.GlobalAccountRatio)

	if out.FundingRate == nil {
		g.Go(func() error {
			v, err := e.data.FundingRate(gctx, ev.Symbol)
			if err != nil {
				logger.Debugf("[market] %s funding unavailable: %v", ev.Symbol, err)
				return nil
			}
			set(&out.FundingRate, v)
			return nil
		})
	}

	price := ev.EntryPrice()
	// flowDst, when set, is filled with the taker buy/sell ratio of the
	// same klines
	fetchWindow := func(lowDst, highDst, flowDst **float64, interval string, bars int) {
		needRange := price > 0 && (*lowDst == nil || *highDst == nil)
		needFlow := flowDst != nil && *flowDst == nil
		if !needRange && !needFlow {
			return
		}
		g.Go(func() error {
			klines, err := e.data.Klines(gctx, ev.Symbol, interval, bars)
			if err != nil {
				logger.Debugf("[market] %s %s klines unavailable: %v", ev.Symbol, interval, err)
				return nil
			}
			if needRange {
				if low, high, ok := Range(klines); ok {
					fromLow, fromHigh := Distances(price, low, high)
					mu.Lock()
					if *lowDst == nil {
						*lowDst = &fromLow
					}
					if *highDst == nil {
						*highDst = &fromHigh
					}
					mu.Unlock()
				}
			}
			if needFlow {
				if flow, ok := TakerFlow(klines); ok && flow.Ratio() > 0 {
					logger.Debugf("[market] %s taker flow delta=%s divergence=%s", ev.Symbol, flow.Delta.StringFixed(2), flow.Divergence)
					set(flowDst, flow.Ratio())
				}
			}
			return nil
		})
	}
	fetchWindow(&out.DistanceFromLow2h, &out.DistanceFromHigh2h, &out.TakerBuySellRatio, shortWindowInterval, shortWindowBars)
	fetchWindow(&out.DistanceFromLowDay, &out.DistanceFromHighDay, nil, dayWindowInterval, dayWindowBars)

	_ = g.Wait()
	return out
}

// Range returns the lowest low and highest high of klines.
func Range(klines []exchange.Kline) (low, high float64, ok bool) {
	for _, k := range klines {
		if k.Low <= 0 || k.High <= 0 {
			continue
		}
		if !ok || k.Low < low {
			low = k.Low
		}
		if !ok || k.High > high {
			high = k.High
		}
		ok = true
	}
	return low, high, ok
}

// Distances is how far price sits above low and below high, in percent.
func Distances(price, low, high float64) (fromLow, fromHigh float64) {
	if low > 0 {
		fromLow = (price - low) / low * 100
	}
	if high > 0 {
		fromHigh = (high - price) / high * 100
	}
	return fromLow, fromHigh
}
