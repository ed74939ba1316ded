// Package trader wires signal generation, strategy and risk filtering, order
// execution and the position ledger into one trading system, and keeps the
// ledger reconciled with the exchange.
//
// All ledger writes happen on the goroutine that calls Run. ProcessAnomaly,
// SyncPositions, CheckBreakeven, CheckTimeouts and ClosePosition may also be
// called directly when no loop is running (tests, one-shot tools).
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"oitrader/internal/config"
	"oitrader/internal/executor"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/logger"
	"oitrader/internal/market"
	"oitrader/internal/metrics"
	"oitrader/internal/pkg/symbol"
	"oitrader/internal/position"
	"oitrader/internal/risk"
	"oitrader/internal/signal"
	"oitrader/internal/store"
	"oitrader/internal/strategy"
	"oitrader/internal/types"
)

const (
	defaultSyncInterval = 15 * time.Second
	priceQueueSize      = 512
	requestQueueSize    = 16
)

// Deps are the collaborators of a TradingSystem. Client is required outside
// paper mode; Enricher, Orders, Audit and Metrics are optional.
type Deps struct {
	Config    config.Config
	Generator *signal.Generator
	Evaluator *strategy.Evaluator
	Risk      *risk.Manager
	Executor  *executor.Executor
	Tracker   *position.Tracker
	Client    exchange.Client
	Enricher  *market.Enricher
	Orders    store.OrderRepository
	Audit     AuditLog
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type TradingSystem struct {
	cfg       config.Config
	mode      config.Mode
	generator *signal.Generator
	evaluator *strategy.Evaluator
	risk      *risk.Manager
	executor  *executor.Executor
	tracker   *position.Tracker
	client    exchange.Client
	enricher  *market.Enricher
	orders    store.OrderRepository
	audit     AuditLog
	metrics   *metrics.Metrics
	now       func() time.Time

	// paperEquity is initial balance plus closed PnL minus fees; only the
	// actor goroutine touches it.
	paperEquity float64

	prices   chan exchange.MarkPrice
	requests chan EventEnvelope
	done     chan struct{}
	doneOnce sync.Once
	running  atomic.Bool

	processed     atomic.Int64
	droppedPrices atomic.Int64
	lastAnomalyAt time.Time
	lastSyncAt    time.Time
	lastSync      SyncResult
	lastSyncErr   error
	lastBalance   float64

	snapshot atomic.Value
}

func New(d Deps) (*TradingSystem, error) {
	if d.Generator == nil || d.Evaluator == nil || d.Risk == nil || d.Executor == nil || d.Tracker == nil {
		return nil, errors.New("trader: generator, evaluator, risk, executor and tracker are required")
	}
	mode := d.Executor.Mode()
	if mode != config.ModePaper && d.Client == nil {
		return nil, fmt.Errorf("trader: %s mode requires an exchange client", mode)
	}
	if mode != config.ModePaper && d.Config.Risk.MaxPositionsPerSymbol > 1 {
		return nil, fmt.Errorf("trader: %s mode cannot stack positions per symbol", mode)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	s := &TradingSystem{
		cfg:         d.Config,
		mode:        mode,
		generator:   d.Generator,
		evaluator:   d.Evaluator,
		risk:        d.Risk,
		executor:    d.Executor,
		tracker:     d.Tracker,
		client:      d.Client,
		enricher:    d.Enricher,
		orders:      d.Orders,
		audit:       d.Audit,
		metrics:     d.Metrics,
		now:         now,
		paperEquity: d.Config.Trading.InitialBalance,
		prices:      make(chan exchange.MarkPrice, priceQueueSize),
		requests:    make(chan EventEnvelope, requestQueueSize),
		done:        make(chan struct{}),
	}
	s.lastBalance = s.paperEquity
	s.refreshSnapshot()
	return s, nil
}

func (s *TradingSystem) Mode() config.Mode { return s.mode }

func (s *TradingSystem) paper() bool { return s.mode == config.ModePaper }

// Tracker exposes the ledger for read-only snapshots.
func (s *TradingSystem) Tracker() *position.Tracker { return s.tracker }

// ProcessAnomaly runs one anomaly through enrichment, signal generation, the
// direction allow-list, strategy filters and risk sizing, and opens a
// position when every stage passes. Rejections are outcomes, not errors.
func (s *TradingSystem) ProcessAnomaly(ctx context.Context, ev types.AnomalyEvent) Outcome {
	ev.Symbol = symbol.Normalize(ev.Symbol)
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = s.now().UTC()
	}
	ev = s.enricher.Enrich(ctx, ev)

	sig, rej := s.generator.Generate(ev)
	if rej != nil {
		return s.finish(ctx, ev, Outcome{Action: ActionNoSignal, Rejection: rej, Reason: rej.String()})
	}
	if !s.cfg.Trading.DirectionAllowed(string(sig.Direction)) {
		rej := types.Reject(types.StageDirection, "direction_not_allowed",
			"%s not in allowed directions %v", sig.Direction, s.cfg.Trading.AllowedDirections)
		return s.finish(ctx, ev, Outcome{Action: ActionSignalRejected, Rejection: rej, Reason: rej.String(), Signal: sig})
	}
	if rej := s.evaluator.Evaluate(sig); rej != nil {
		return s.finish(ctx, ev, Outcome{Action: ActionSignalRejected, Rejection: rej, Reason: rej.String(), Signal: sig})
	}

	balance, err := s.availableBalance(ctx)
	if err != nil {
		logger.Errorf("[trader] %s balance lookup failed: %v", sig.Symbol, err)
		return s.finish(ctx, ev, Outcome{Action: ActionOrderFailed, Reason: err.Error(), Signal: sig})
	}
	decision := s.risk.CanOpenPosition(sig, s.tracker.OpenPositions(), balance)
	if !decision.Allowed {
		rej := decision.Rejection()
		return s.finish(ctx, ev, Outcome{Action: ActionRiskRejected, Rejection: rej, Reason: rej.String(), Signal: sig})
	}

	fill, err := s.executor.ExecuteEntryWithTakeProfit(ctx, sig, decision.Size, decision.Leverage)
	if err != nil {
		if errors.Is(err, executor.ErrOrderFailed) {
			logger.Warnf("[trader] %s entry refused: %v", sig.Symbol, err)
		} else {
			logger.Errorf("[trader] %s entry failed: %v", sig.Symbol, err)
		}
		return s.finish(ctx, ev, Outcome{Action: ActionOrderFailed, Reason: err.Error(), Signal: sig})
	}

	stop, target := s.risk.CalculateStopLossTakeProfit(sig)
	pos, err := s.tracker.Open(position.OpenParams{
		SignalID:     sig.ID,
		Symbol:       sig.Symbol,
		Side:         sig.Direction,
		EntryPrice:   fill.Price,
		Quantity:     fill.Quantity,
		Leverage:     decision.Leverage,
		StopLoss:     stop,
		TakeProfit:   target,
		Commission:   fill.Commission,
		EntryOrderID: fill.Order.OrderID,
		OpenedAt:     fill.Order.CreatedAt,
	})
	if err != nil {
		// The exchange holds the position now; the next sync adopts it.
		logger.Errorf("[trader] %s filled order %s but ledger open failed: %v", sig.Symbol, fill.Order.OrderID, err)
		return s.finish(ctx, ev, Outcome{Action: ActionOrderFailed, Reason: err.Error(), Signal: sig})
	}
	if s.paper() {
		s.paperEquity -= fill.Commission
	}

	s.saveOrder(ctx, orderRecord(fill.Order, pos, store.PurposeEntry, s.mode))
	for _, tp := range fill.TakeProfits {
		s.saveOrder(ctx, orderRecord(tp, pos, store.PurposeTakeProfit, s.mode))
	}
	logger.Infof("[trader] opened %s %s id=%s qty=%v @ %v x%d margin=%.2f sl=%v tp=%v (score=%.2f conf=%.2f)",
		pos.Symbol, pos.Side, pos.PositionID, pos.Quantity, pos.EntryPrice, pos.Leverage, pos.Margin,
		pos.StopLoss, pos.TakeProfit, sig.Score, sig.Confidence)
	return s.finish(ctx, ev, Outcome{Action: ActionPositionOpened, Signal: sig, Position: &pos})
}

func (s *TradingSystem) finish(ctx context.Context, ev types.AnomalyEvent, out Outcome) Outcome {
	s.processed.Add(1)
	s.lastAnomalyAt = s.now().UTC()
	s.metrics.Anomaly(string(out.Action))
	if out.Rejection != nil {
		s.metrics.Rejection(string(out.Rejection.Stage), out.Rejection.Category)
		logger.Debugf("[trader] %s %s: %s", ev.Symbol, out.Action, out.Rejection)
	}
	s.metrics.SetOpenPositions(s.tracker.CountOpen())
	s.auditOutcome(ctx, ev, out)
	return out
}

// availableBalance is the exchange's available USDT, or in paper mode the
// simulated equity less the margin locked in open positions.
func (s *TradingSystem) availableBalance(ctx context.Context) (float64, error) {
	if s.paper() {
		avail := s.paperEquity
		for _, p := range s.tracker.OpenPositions() {
			avail -= p.Margin
		}
		s.lastBalance = avail
		s.metrics.SetBalance(avail)
		return avail, nil
	}
	bal, err := s.client.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	s.lastBalance = bal.Available
	s.metrics.SetBalance(bal.Available)
	return bal.Available, nil
}

// recordClose feeds a finished position into the risk counters, paper equity
// and metrics.
func (s *TradingSystem) recordClose(pos types.Position, legPnL, legFee float64) {
	s.risk.RecordTradeResult(pos.RealizedPnL, pos.RealizedPnL > 0)
	if s.paper() {
		s.paperEquity += legPnL - legFee
	}
	s.metrics.PositionClosed(pos.CloseReason, pos.RealizedPnL)
	s.metrics.SetOpenPositions(s.tracker.CountOpen())
}
