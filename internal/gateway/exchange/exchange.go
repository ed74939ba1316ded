// Package exchange defines the typed boundary between the trading engine and
// a perpetual-futures venue. Adapters translate venue responses into these
// types so nothing past this package sees raw payloads.
package exchange

import (
	"context"
	"errors"
)

// ErrMarginTypeUnchanged is returned by SetMarginType when the symbol
// already uses the requested margin type.
var ErrMarginTypeUnchanged = errors.New("margin type unchanged")

// ErrRejected marks an error the venue returned for a well-formed request
// (precision, notional, margin). Anything else is a transport failure.
var ErrRejected = errors.New("rejected by exchange")

// Client is the account-level surface the engine trades through.
type Client interface {
	SetMarginType(ctx context.Context, symbol string, mt MarginType) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderInfo, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	ListOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error)
	Positions(ctx context.Context) ([]PositionInfo, error)
	Balance(ctx context.Context) (Balance, error)
	Trades(ctx context.Context, q TradeQuery) ([]Trade, error)
	Income(ctx context.Context, q IncomeQuery) ([]Income, error)
	SymbolPrecision(ctx context.Context, symbol string) (SymbolPrecision, error)
}

// MarkPriceStream pushes mark prices until ctx is cancelled.
type MarkPriceStream interface {
	SubscribeMarkPrices(ctx context.Context, handler func(MarkPrice)) error
}

// MarketData serves the public market reads used to enrich anomalies.
type MarketData interface {
	TopTraderPositionRatio(ctx context.Context, symbol, period string) (float64, error)
	TopTraderAccountRatio(ctx context.Context, symbol, period string) (float64, error)
	GlobalAccountRatio(ctx context.Context, symbol, period string) (float64, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}
