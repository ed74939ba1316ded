package types

import "time"

type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeStopMarket   OrderType = "STOP_MARKET"
	OrderTypeTakeProfit   OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP_MARKET"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// EntrySide is the order side that opens a position in direction d.
func EntrySide(d Direction) OrderSide {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the order side that reduces a position in direction d.
func ExitSide(d Direction) OrderSide {
	if d == DirectionShort {
		return SideBuy
	}
	return SideSell
}

// Order is an exchange order as seen by the engine. It is not part of the
// ledger; the order repository keeps the durable copy.
type Order struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Type          OrderType `json:"type"`
	Side          OrderSide `json:"side"`
	PositionSide  Direction `json:"position_side"`
	RequestedQty  float64   `json:"requested_qty"`
	FilledQty     float64   `json:"filled_qty"`
	AvgPrice      float64   `json:"avg_price"`
	StopPrice     float64   `json:"stop_price,omitempty"`
	CallbackRate  float64   `json:"callback_rate,omitempty"`
	Status        string    `json:"status"`
	Commission    float64   `json:"commission"`
	ReduceOnly    bool      `json:"reduce_only"`
	CreatedAt     time.Time `json:"created_at"`
}
