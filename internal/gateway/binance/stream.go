package binance

import (
	"context"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/pkg/convert"
	"oitrader/internal/logger"
)

// StreamStats counts websocket churn for the health endpoint.
type StreamStats struct {
	Reconnects      int    `json:"reconnects"`
	SubscribeErrors int    `json:"subscribe_errors"`
	LastError       string `json:"last_error,omitempty"`
	LastEventAt     int64  `json:"last_event_at,omitempty"`
}

// SubscribeMarkPrices streams mark prices for every symbol at 1s cadence and
// reconnects with exponential backoff until ctx is done.
func (c *Client) SubscribeMarkPrices(ctx context.Context, handler func(exchange.MarkPrice)) error {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var errMu sync.Mutex
		var lastErr error
		onEvent := func(event futures.WsAllMarkPriceEvent) {
			for _, ev := range event {
				if mp, ok := convertMarkPrice(ev); ok {
					handler(mp)
				}
			}
			c.recordEvent()
		}
		onErr := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := futures.WsAllMarkPriceServe(onEvent, onErr)
		if err != nil {
			c.recordSubscribeError(err)
			logger.Warnf("[binance] mark price subscribe failed: %v", err)
			if !sleepWithContext(ctx, delay) {
				return ctx.Err()
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		logger.Infof("[binance] mark price stream connected")
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return ctx.Err()
		case <-doneC:
		}
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		c.recordReconnect(errCopy)
		logger.Warnf("[binance] mark price stream dropped: %v", errCopy)
		if !sleepWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay = nextDelay(delay)
	}
}

func (c *Client) Stats() StreamStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func convertMarkPrice(ev *futures.WsMarkPriceEvent) (exchange.MarkPrice, bool) {
	if ev == nil {
		return exchange.MarkPrice{}, false
	}
	price := convert.ParseFloat(ev.MarkPrice)
	if price <= 0 || ev.Symbol == "" {
		return exchange.MarkPrice{}, false
	}
	return exchange.MarkPrice{
		Symbol:      ev.Symbol,
		Price:       price,
		FundingRate: convert.ParseFloat(ev.FundingRate),
		Time:        msTime(ev.Time),
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (c *Client) recordEvent() {
	c.statsMu.Lock()
	c.stats.LastEventAt = time.Now().UnixMilli()
	c.statsMu.Unlock()
}

func (c *Client) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	c.statsMu.Lock()
	c.stats.SubscribeErrors++
	c.stats.LastError = err.Error()
	c.statsMu.Unlock()
}

func (c *Client) recordReconnect(err error) {
	c.statsMu.Lock()
	c.stats.Reconnects++
	if err != nil && err.Error() != "" {
		c.stats.LastError = err.Error()
	}
	c.statsMu.Unlock()
}
