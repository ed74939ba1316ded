// Package binance implements the exchange boundary on Binance USDT-M
// futures through go-binance.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/pkg/symbol"
)

// codeNoNeedToChangeMarginType is returned when the margin type is already set.
const codeNoNeedToChangeMarginType = -4046

// Client talks to the futures REST API with request pacing and to the
// mark-price websocket with automatic reconnect.
type Client struct {
	cfg     Config
	api     *futures.Client
	limiter *rate.Limiter

	statsMu sync.Mutex
	stats   StreamStats
}

var (
	_ exchange.Client          = (*Client)(nil)
	_ exchange.MarkPriceStream = (*Client)(nil)
	_ exchange.MarketData      = (*Client)(nil)
)

var testnetOnce sync.Once

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.Testnet {
		testnetOnce.Do(func() { futures.UseTestnet = true })
	}
	api := futures.NewClient(final.APIKey, final.APISecret)
	if final.RESTBaseURL != "" {
		api.BaseURL = final.RESTBaseURL
	}
	api.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Client{
		cfg:     final,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(final.RequestsPerSecond), final.Burst),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("binance rate limiter: %w", err)
	}
	return nil
}

func (c *Client) recvWindow() futures.RequestOption {
	return futures.WithRecvWindow(c.cfg.RecvWindow)
}

func (c *Client) SetMarginType(ctx context.Context, sym string, mt exchange.MarginType) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	marginType := futures.MarginTypeIsolated
	if mt == exchange.MarginCrossed {
		marginType = futures.MarginTypeCrossed
	}
	err := c.api.NewChangeMarginTypeService().
		Symbol(symbol.Normalize(sym)).
		MarginType(marginType).
		Do(ctx, c.recvWindow())
	if isAPICode(err, codeNoNeedToChangeMarginType) {
		return exchange.ErrMarginTypeUnchanged
	}
	if err != nil {
		return wrapErr(fmt.Sprintf("set margin type %s", sym), err)
	}
	return nil
}

func (c *Client) SetLeverage(ctx context.Context, sym string, leverage int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.NewChangeLeverageService().
		Symbol(symbol.Normalize(sym)).
		Leverage(leverage).
		Do(ctx, c.recvWindow())
	if err != nil {
		return wrapErr(fmt.Sprintf("set leverage %s x%d", sym, leverage), err)
	}
	return nil
}

func isAPICode(err error, code int64) bool {
	if err == nil {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsAPIError reports whether err is a venue rejection rather than a
// transport failure.
func IsAPIError(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr)
}

// wrapErr tags venue rejections with exchange.ErrRejected so callers can
// tell them from network failures without importing go-binance.
func wrapErr(op string, err error) error {
	if IsAPIError(err) {
		return fmt.Errorf("%s: %w: %w", op, exchange.ErrRejected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
