package exchange

import (
	"time"

	"oitrader/internal/types"
)

type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// PositionSide is the venue's hedge-mode side. BOTH means one-way mode.
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Direction maps a hedge-mode side to a direction; BOTH yields NEUTRAL.
func (s PositionSide) Direction() types.Direction {
	switch s {
	case PositionSideLong:
		return types.DirectionLong
	case PositionSideShort:
		return types.DirectionShort
	default:
		return types.DirectionNeutral
	}
}

// OrderRequest carries already-normalized decimal strings.
type OrderRequest struct {
	Symbol          string
	Side            types.OrderSide
	PositionSide    PositionSide
	Type            types.OrderType
	Quantity        string
	StopPrice       string
	ActivationPrice string
	CallbackRate    string
	ReduceOnly      bool
	ClientOrderID   string
}

// OrderInfo is an order as reported by the venue.
type OrderInfo struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Type          types.OrderType
	Side          types.OrderSide
	PositionSide  PositionSide
	Status        string
	OrigQty       float64
	ExecutedQty   float64
	AvgPrice      float64
	StopPrice     float64
	ReduceOnly    bool
	ClosePosition bool
	UpdateTime    time.Time
}

// IsProtectiveStop reports whether o is a reduce-only stop market order.
func (o OrderInfo) IsProtectiveStop() bool {
	return o.Type == types.OrderTypeStopMarket && (o.ReduceOnly || o.ClosePosition)
}

// PositionInfo is one open exchange position. Side is always LONG or SHORT;
// one-way positions are resolved from the sign of the amount.
type PositionInfo struct {
	Symbol         string
	Side           types.Direction
	RawSide        PositionSide
	Amount         float64
	EntryPrice     float64
	MarkPrice      float64
	Leverage       int
	UnrealizedPnL  float64
	IsolatedWallet float64
	UpdateTime     time.Time
}

// Trade is one account fill.
type Trade struct {
	ID           int64
	OrderID      string
	Symbol       string
	Side         types.OrderSide
	PositionSide PositionSide
	Price        float64
	Quantity     float64
	QuoteQty     float64
	RealizedPnL  float64
	Commission   float64
	Time         time.Time
}

// TradeQuery selects account fills. Zero times are open bounds.
type TradeQuery struct {
	Symbol    string
	StartTime time.Time
	EndTime   time.Time
	FromID    int64
	Limit     int
}

// Income is a realized-PnL or fee record.
type Income struct {
	Symbol  string
	Type    string
	Amount  float64
	Asset   string
	TradeID string
	Time    time.Time
}

const IncomeRealizedPnL = "REALIZED_PNL"

type IncomeQuery struct {
	Symbol    string
	Type      string
	StartTime time.Time
	EndTime   time.Time
}

// SymbolPrecision is the trading filter set for a symbol.
type SymbolPrecision struct {
	Symbol            string
	QuantityPrecision int
	PricePrecision    int
	StepSize          float64
	TickSize          float64
	MinQty            float64
	MinNotional       float64
}

type Balance struct {
	Asset     string
	Total     float64
	Available float64
	UpdatedAt time.Time
}

type MarkPrice struct {
	Symbol      string
	Price       float64
	FundingRate float64
	Time        time.Time
}

type Kline struct {
	OpenTime       time.Time
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	TakerBuyVolume float64
}
