package binance

import (
	"context"
	"fmt"
	"strings"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/pkg/convert"
	"oitrader/internal/pkg/symbol"
)

const maxKlineLimit = 1500

func ratioArgs(sym, period string) (string, string, error) {
	binanceSymbol := symbol.Normalize(sym)
	period = strings.ToLower(strings.TrimSpace(period))
	if binanceSymbol == "" || period == "" {
		return "", "", fmt.Errorf("symbol and period are required")
	}
	return binanceSymbol, period, nil
}

// TopTraderPositionRatio returns the latest top-trader long/short position ratio.
func (c *Client) TopTraderPositionRatio(ctx context.Context, sym, period string) (float64, error) {
	binanceSymbol, period, err := ratioArgs(sym, period)
	if err != nil {
		return 0, err
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	raw, err := c.api.NewTopLongShortPositionRatioService().
		Symbol(binanceSymbol).
		Period(period).
		Limit(uint32(1)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("top position ratio %s: %w", binanceSymbol, err)
	}
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] != nil {
			return convert.ParseFloat(raw[i].LongShortRatio), nil
		}
	}
	return 0, fmt.Errorf("top position ratio %s: empty response", binanceSymbol)
}

// TopTraderAccountRatio returns the latest top-trader long/short account ratio.
func (c *Client) TopTraderAccountRatio(ctx context.Context, sym, period string) (float64, error) {
	binanceSymbol, period, err := ratioArgs(sym, period)
	if err != nil {
		return 0, err
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	raw, err := c.api.NewTopLongShortAccountRatioService().
		Symbol(binanceSymbol).
		Period(period).
		Limit(uint32(1)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("top account ratio %s: %w", binanceSymbol, err)
	}
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] != nil {
			return convert.ParseFloat(raw[i].LongShortRatio), nil
		}
	}
	return 0, fmt.Errorf("top account ratio %s: empty response", binanceSymbol)
}

// GlobalAccountRatio returns the latest all-accounts long/short ratio.
func (c *Client) GlobalAccountRatio(ctx context.Context, sym, period string) (float64, error) {
	binanceSymbol, period, err := ratioArgs(sym, period)
	if err != nil {
		return 0, err
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	raw, err := c.api.NewLongShortRatioService().
		Symbol(binanceSymbol).
		Period(period).
		Limit(1).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("global ratio %s: %w", binanceSymbol, err)
	}
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] != nil {
			return convert.ParseFloat(raw[i].LongShortRatio), nil
		}
	}
	return 0, fmt.Errorf("global ratio %s: empty response", binanceSymbol)
}

// FundingRate returns the last funding rate, e.g. 0.0001 for 0.01%.
func (c *Client) FundingRate(ctx context.Context, sym string) (float64, error) {
	binanceSymbol := symbol.Normalize(sym)
	if binanceSymbol == "" {
		return 0, fmt.Errorf("invalid symbol: %s", sym)
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.api.NewPremiumIndexService().Symbol(binanceSymbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("premium index %s: %w", binanceSymbol, err)
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, binanceSymbol) {
			return convert.ParseFloat(entry.LastFundingRate), nil
		}
	}
	return 0, fmt.Errorf("funding rate not available for %s", binanceSymbol)
}

func (c *Client) Klines(ctx context.Context, sym, interval string, limit int) ([]exchange.Kline, error) {
	binanceSymbol := symbol.Normalize(sym)
	interval = strings.ToLower(strings.TrimSpace(interval))
	if binanceSymbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	kls, err := c.api.NewKlinesService().Symbol(binanceSymbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", binanceSymbol, interval, err)
	}
	out := make([]exchange.Kline, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, exchange.Kline{
			OpenTime:       msTime(kl.OpenTime),
			Open:           convert.ParseFloat(kl.Open),
			High:           convert.ParseFloat(kl.High),
			Low:            convert.ParseFloat(kl.Low),
			Close:          convert.ParseFloat(kl.Close),
			Volume:         convert.ParseFloat(kl.Volume),
			TakerBuyVolume: convert.ParseFloat(kl.TakerBuyBaseAssetVolume),
		})
	}
	return out, nil
}
