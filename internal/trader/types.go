package trader

import (
	"context"
	"time"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/risk"
	"oitrader/internal/store/auditlog"
	"oitrader/internal/types"
)

// Action is the result of processing one anomaly.
type Action string

const (
	ActionNoSignal       Action = "NO_SIGNAL"
	ActionSignalRejected Action = "SIGNAL_REJECTED"
	ActionRiskRejected   Action = "RISK_REJECTED"
	ActionOrderFailed    Action = "ORDER_FAILED"
	ActionPositionOpened Action = "POSITION_OPENED"
)

// Lifecycle actions written to the audit log next to the pipeline outcomes.
const (
	auditPositionClosed  = "POSITION_CLOSED"
	auditPartialClose    = "PARTIAL_CLOSE"
	auditPositionAdopted = "POSITION_ADOPTED"
	auditBreakeven       = "BREAKEVEN_PLACED"
	auditCancelFailed    = "CANCEL_FAILED"
)

// Outcome reports what ProcessAnomaly did with an event.
type Outcome struct {
	Action    Action               `json:"action"`
	Reason    string               `json:"reason,omitempty"`
	Rejection *types.Rejection     `json:"rejection,omitempty"`
	Signal    *types.TradingSignal `json:"signal,omitempty"`
	Position  *types.Position      `json:"position,omitempty"`
}

// SyncResult counts the ledger changes made by one reconciliation pass.
type SyncResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Updated int `json:"updated"`
}

func (r SyncResult) Changed() bool { return r.Added+r.Removed+r.Updated > 0 }

// Status is the read-only view published after every actor event.
type Status struct {
	Mode          string      `json:"mode"`
	Running       bool        `json:"running"`
	OpenPositions int         `json:"open_positions"`
	Balance       float64     `json:"balance"`
	Processed     int64       `json:"processed"`
	LastAnomalyAt *time.Time  `json:"last_anomaly_at,omitempty"`
	LastSyncAt    *time.Time  `json:"last_sync_at,omitempty"`
	LastSync      SyncResult  `json:"last_sync"`
	LastSyncError string      `json:"last_sync_error,omitempty"`
	Risk          risk.Status `json:"risk"`
	PendingPrices int         `json:"pending_prices"`
	DroppedPrices int64       `json:"dropped_prices"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// AuditLog receives one entry per pipeline decision and lifecycle change.
type AuditLog interface {
	Append(ctx context.Context, e auditlog.Entry) (int64, error)
}

// EventType names what the actor loop is asked to do.
type EventType string

const (
	EvtAnomaly   EventType = "ANOMALY"
	EvtMarkPrice EventType = "MARK_PRICE"
	EvtSync      EventType = "SYNC"
	EvtClose     EventType = "CLOSE"
)

// EventEnvelope is one unit of work for the actor loop. ReplyCh, when set,
// receives the handler error and is closed.
type EventEnvelope struct {
	Type       EventType
	Anomaly    types.AnomalyEvent
	Price      exchange.MarkPrice
	PositionID string
	Reason     string
	CreatedAt  time.Time

	ReplyCh chan error `json:"-"`
}
