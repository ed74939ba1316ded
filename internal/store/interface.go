// Package store defines the persistence boundary for orders. Every order of
// a position lifecycle carries that position's PositionID.
package store

import (
	"context"
	"time"
)

// Order purposes.
const (
	PurposeEntry         = "entry"
	PurposeTakeProfit    = "take_profit"
	PurposeBreakevenStop = "breakeven_stop"
	PurposeClose         = "close"
	PurposePartialClose  = "partial_close"
	PurposeSyncClose     = "sync_close"
)

// ClosingPurposes are the purposes whose realized PnL counts toward
// statistics.
var ClosingPurposes = []string{PurposeClose, PurposePartialClose, PurposeSyncClose}

// OrderRecord is one persisted order.
type OrderRecord struct {
	OrderID       string
	ClientOrderID string
	PositionID    string
	SignalID      string
	Mode          string
	Symbol        string
	Side          string
	PositionSide  string
	Type          string
	Purpose       string
	Status        string
	Quantity      float64
	Price         float64
	StopPrice     float64
	Commission    float64
	RealizedPnL   float64
	ReduceOnly    bool
	Meta          map[string]any
	CreatedAt     time.Time
}

// Statistics aggregates closed trades; a trade is all closing orders of one
// position.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	Commission    float64 `json:"commission"`
	NetPnL        float64 `json:"net_pnl"`
}

// OrderRepository persists orders.
type OrderRepository interface {
	CreateOrder(ctx context.Context, rec OrderRecord) error
	// FindExistingOrderIDs returns the subset of ids already stored.
	FindExistingOrderIDs(ctx context.Context, ids []string) (map[string]bool, error)
	UpdatePositionID(ctx context.Context, orderID, positionID string) error
	GetStatistics(ctx context.Context, mode string, since time.Time) (Statistics, error)
}
