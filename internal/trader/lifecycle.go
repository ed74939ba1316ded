package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"oitrader/internal/executor"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/logger"
	"oitrader/internal/pkg/symbol"
	"oitrader/internal/pkg/trading"
	"oitrader/internal/position"
	"oitrader/internal/store"
	"oitrader/internal/types"
)

const (
	defaultBreakevenTrigger = 5.0
	defaultBreakevenBuffer  = 0.0015
)

// CheckBreakeven marks the position to price and, once its unrealized PnL
// reaches the trigger percent, moves the stop to entry plus the round-trip
// fee buffer. It reports whether a stop is now in place. An existing
// protective stop on the exchange counts as placed.
func (s *TradingSystem) CheckBreakeven(ctx context.Context, id string, price float64) (bool, error) {
	pos, ok := s.tracker.Get(id)
	if !ok || !pos.IsOpen {
		return false, nil
	}
	if pos.BreakevenSLPlaced {
		return true, nil
	}
	if price > 0 {
		updated, err := s.tracker.Update(id, price)
		if err != nil {
			return false, err
		}
		pos = updated
	}
	trigger := s.cfg.Risk.BreakevenTriggerPercent
	if trigger <= 0 {
		trigger = defaultBreakevenTrigger
	}
	if pos.UnrealizedPnLPercent < trigger {
		return false, nil
	}
	buffer := s.cfg.Risk.BreakevenFeeBuffer
	if buffer <= 0 {
		buffer = defaultBreakevenBuffer
	}
	stop := trading.OffsetPrice(pos.EntryPrice, buffer, pos.Side.IsLong())

	order, existing, err := s.executor.PlaceBreakevenStop(ctx, pos, stop)
	if err != nil {
		return false, fmt.Errorf("breakeven %s: %w", pos.Symbol, err)
	}
	if existing && order.StopPrice > 0 {
		stop = order.StopPrice
	}
	local := stop
	if s.paper() && tighterStop(pos.Side, pos.StopLoss, stop) {
		// a trailing stop already sits past breakeven
		local = pos.StopLoss
	}
	marked, err := s.tracker.MarkBreakevenPlaced(id, local)
	if err != nil {
		return false, err
	}
	if !existing {
		s.saveOrder(ctx, orderRecord(order, marked, store.PurposeBreakevenStop, s.mode))
	}
	logger.Infof("[trader] %s %s breakeven stop at %v (pnl %.2f%%, existing=%v)",
		marked.Symbol, marked.Side, stop, pos.UnrealizedPnLPercent, existing)
	s.auditPosition(ctx, auditBreakeven, marked, fmt.Sprintf("unrealized %.2f%% >= %.2f%%", pos.UnrealizedPnLPercent, trigger),
		map[string]any{"stop": stop, "existing": existing})
	return true, nil
}

// CheckTimeouts force-closes positions held longer than the configured
// maximum and returns how many it closed.
func (s *TradingSystem) CheckTimeouts(ctx context.Context) int {
	limit := s.cfg.Trading.MaxHoldingTimeMinutes
	if limit <= 0 {
		return 0
	}
	now := s.now()
	closed := 0
	for _, pos := range s.tracker.OpenPositions() {
		held := pos.HoldingDuration(now)
		if held.Minutes() < float64(limit) {
			continue
		}
		logger.Warnf("[trader] %s %s held %s, limit %dm, closing", pos.Symbol, pos.Side, held.Round(time.Second), limit)
		if err := s.closePosition(ctx, pos, position.ReasonTimeout); err != nil {
			logger.Errorf("[trader] timeout close %s failed: %v", pos.Symbol, err)
			continue
		}
		closed++
	}
	return closed
}

// ClosePosition closes an open position at market. Open orders on the
// symbol are cancelled first.
func (s *TradingSystem) ClosePosition(ctx context.Context, id, reason string) error {
	pos, ok := s.tracker.Get(id)
	if !ok {
		return fmt.Errorf("close %s: %w", id, position.ErrNotFound)
	}
	if !pos.IsOpen {
		return fmt.Errorf("close %s: %w", id, position.ErrPositionClosed)
	}
	if reason == "" {
		reason = position.ReasonManual
	}
	return s.closePosition(ctx, pos, reason)
}

// closePosition is the one path every engine-initiated close takes:
// cancel open orders, close at market, settle the ledger. A failed cancel is
// escalated by the executor and the close still goes ahead.
func (s *TradingSystem) closePosition(ctx context.Context, pos types.Position, reason string) error {
	if err := s.executor.CancelAllOpenOrders(ctx, pos.Symbol, s.cfg.Trading.CancelMaxRetries); err != nil {
		var cerr *executor.CancellationError
		if !errors.As(err, &cerr) {
			logger.Errorf("[trader] %s cancel before close: %v", pos.Symbol, err)
		}
		s.auditPosition(ctx, auditCancelFailed, pos, err.Error(), map[string]any{"close_reason": reason})
	}

	fill, err := s.executor.ClosePositionMarket(ctx, pos, 0)
	if err != nil {
		return fmt.Errorf("close %s %s: %w", pos.Symbol, pos.Side, err)
	}
	pnl := position.PnL(pos.Side, pos.EntryPrice, fill.Price, pos.Quantity, pos.Leverage)
	closed, err := s.tracker.MarkClosed(pos.ID, position.Settlement{
		Price:      fill.Price,
		PnL:        pnl,
		Commission: fill.Commission,
		At:         fill.Order.CreatedAt,
	}, reason)
	if err != nil {
		return err
	}
	logger.Infof("[trader] closed %s %s (%s) @ %v pnl=%.4f total=%.4f id=%s",
		closed.Symbol, closed.Side, reason, fill.Price, pnl, closed.RealizedPnL, closed.PositionID)
	s.recordClose(closed, pnl, fill.Commission)

	rec := orderRecord(fill.Order, closed, store.PurposeClose, s.mode)
	rec.RealizedPnL = pnl
	s.saveOrder(ctx, rec)
	s.auditPosition(ctx, auditPositionClosed, closed, reason, map[string]any{"close_price": fill.Price})
	return nil
}

// onMarkPrice handles one mark price for a symbol with open positions:
// revalue, tighten trailing stops (paper), insert breakeven stops and fire
// local stop and target triggers.
func (s *TradingSystem) onMarkPrice(ctx context.Context, mp exchange.MarkPrice) {
	sym := symbol.Normalize(mp.Symbol)
	updated := s.tracker.UpdateSymbol(sym, mp.Price)
	if len(updated) == 0 {
		return
	}
	for _, pos := range updated {
		if s.paper() {
			if stop, ok := s.risk.UpdateTrailingStop(pos, mp.Price); ok {
				if _, err := s.tracker.SetStopLoss(pos.ID, stop); err == nil {
					logger.Debugf("[trader] %s trailing stop -> %v", pos.Symbol, stop)
				}
			}
		}
		if !pos.BreakevenSLPlaced {
			if _, err := s.CheckBreakeven(ctx, pos.ID, mp.Price); err != nil {
				logger.Warnf("[trader] %s breakeven check failed: %v", pos.Symbol, err)
			}
		}
	}
	for _, trig := range s.tracker.CheckStopTriggers() {
		if trig.Symbol != sym {
			continue
		}
		// Live take-profits rest on the exchange; only the stop is local.
		if !s.paper() && trig.Reason != position.ReasonStopLoss {
			continue
		}
		if err := s.ClosePosition(ctx, trig.ID, trig.Reason); err != nil {
			logger.Errorf("[trader] %s %s trigger close failed: %v", trig.Symbol, trig.Reason, err)
		}
	}
}

func tighterStop(side types.Direction, current, candidate float64) bool {
	if current <= 0 {
		return false
	}
	if side.IsLong() {
		return current > candidate
	}
	return current < candidate
}
