package types

import "time"

// TakeProfitExecution records one partial close of a position.
type TakeProfitExecution struct {
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	OrderIDs   []string  `json:"order_ids,omitempty"`
	TradeIDs   []int64   `json:"trade_ids,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// PositionSource tells whether the engine opened a position or adopted it
// from the exchange during reconciliation.
type PositionSource string

const (
	SourceSignal PositionSource = "signal"
	SourceSync   PositionSource = "sync"
)

// Position is one trade lifecycle. ID keys the local ledger; PositionID
// correlates every persisted order of the lifecycle.
type Position struct {
	ID                   string                `json:"id"`
	PositionID           string                `json:"position_id"`
	Symbol               string                `json:"symbol"`
	Side                 Direction             `json:"side"`
	EntryPrice           float64               `json:"entry_price"`
	CurrentPrice         float64               `json:"current_price"`
	Quantity             float64               `json:"quantity"`
	InitialQuantity      float64               `json:"initial_quantity"`
	Leverage             int                   `json:"leverage"`
	Margin               float64               `json:"margin"`
	StopLoss             float64               `json:"stop_loss"`
	TakeProfit           float64               `json:"take_profit"`
	IsOpen               bool                  `json:"is_open"`
	RealizedPnL          float64               `json:"realized_pnl"`
	UnrealizedPnL        float64               `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64               `json:"unrealized_pnl_percent"`
	BreakevenSLPlaced    bool                  `json:"breakeven_sl_placed"`
	TakeProfitExecutions []TakeProfitExecution `json:"take_profit_executions,omitempty"`
	Commission           float64               `json:"commission"`
	EntryOrderID         string                `json:"entry_order_id,omitempty"`
	SignalID             string                `json:"signal_id,omitempty"`
	Source               PositionSource        `json:"source"`
	OpenedAt             time.Time             `json:"opened_at"`
	ClosedAt             *time.Time            `json:"closed_at,omitempty"`
	ClosePrice           float64               `json:"close_price,omitempty"`
	CloseReason          string                `json:"close_reason,omitempty"`
}

// Clone returns a deep copy safe to hand outside the ledger.
func (p Position) Clone() Position {
	out := p
	if len(p.TakeProfitExecutions) > 0 {
		out.TakeProfitExecutions = make([]TakeProfitExecution, len(p.TakeProfitExecutions))
		for i, exec := range p.TakeProfitExecutions {
			exec.OrderIDs = append([]string(nil), exec.OrderIDs...)
			exec.TradeIDs = append([]int64(nil), exec.TradeIDs...)
			out.TakeProfitExecutions[i] = exec
		}
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// Notional is quantity × entry price.
func (p Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// HoldingDuration is the time since open, or the full lifetime once closed.
func (p Position) HoldingDuration(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() {
		return 0
	}
	if p.ClosedAt != nil {
		return p.ClosedAt.Sub(p.OpenedAt)
	}
	return now.Sub(p.OpenedAt)
}
