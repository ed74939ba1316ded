package trader

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/logger"
	"oitrader/internal/position"
	"oitrader/internal/store"
	"oitrader/internal/types"
)

const (
	entryPriceTolerance = 0.05
	qtyEpsilon          = 1e-9
	historyLookback     = 7 * 24 * time.Hour
	tradePageLimit      = 1000
	maxTradePages       = 10
)

type positionKey struct {
	symbol string
	side   types.Direction
}

// SyncPositions reconciles the ledger with the exchange: it adopts exchange
// positions the ledger does not know, records partial closes where the
// exchange quantity shrank, and settles local positions the exchange no
// longer reports. Paper mode has nothing to reconcile.
func (s *TradingSystem) SyncPositions(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if s.paper() {
		return res, nil
	}
	remote, err := s.client.Positions(ctx)
	if err != nil {
		return res, fmt.Errorf("sync positions: %w", err)
	}

	seen := make(map[positionKey]bool, len(remote))
	for _, rp := range remote {
		qty := math.Abs(rp.Amount)
		if qty <= qtyEpsilon || rp.Side == types.DirectionNeutral {
			continue
		}
		key := positionKey{symbol: rp.Symbol, side: rp.Side}
		seen[key] = true

		local, ok := s.tracker.FindOpen(rp.Symbol, rp.Side)
		if !ok {
			if s.adopt(ctx, rp) {
				res.Added++
			}
			continue
		}
		if rp.MarkPrice > 0 {
			if _, err := s.tracker.Update(local.ID, rp.MarkPrice); err != nil {
				logger.Warnf("[trader] sync mark %s failed: %v", local.Symbol, err)
			}
		}
		switch {
		case qty < local.Quantity-qtyEpsilon:
			if s.applyPartialClose(ctx, local, qty, rp.MarkPrice) {
				res.Updated++
			}
		case qty > local.Quantity+qtyEpsilon:
			logger.Warnf("[trader] %s %s exchange quantity %v above ledger %v, ledger left unchanged",
				local.Symbol, local.Side, qty, local.Quantity)
		}
	}

	for _, local := range s.tracker.OpenPositions() {
		if seen[positionKey{symbol: local.Symbol, side: local.Side}] {
			continue
		}
		if s.settleMissing(ctx, local) {
			res.Removed++
		}
	}

	s.metrics.SyncChanges(res.Added, res.Removed, res.Updated)
	s.metrics.SetOpenPositions(s.tracker.CountOpen())
	if res.Changed() {
		logger.Infof("[trader] sync: added=%d removed=%d updated=%d", res.Added, res.Removed, res.Updated)
	}
	return res, nil
}

// adopt starts tracking an exchange position opened outside the engine or
// lost across a restart.
func (s *TradingSystem) adopt(ctx context.Context, rp exchange.PositionInfo) bool {
	qty := math.Abs(rp.Amount)
	opened := rp.UpdateTime
	trades, err := s.fetchTrades(ctx, rp.Symbol, s.now().Add(-historyLookback))
	if err != nil {
		logger.Warnf("[trader] %s trade history unavailable, using update time as entry: %v", rp.Symbol, err)
	} else if at, ok := BacktrackEntryTime(trades, rp.Side, qty, rp.EntryPrice); ok {
		opened = at
	} else {
		logger.Warnf("[trader] %s %s entry not found in trade history, using update time %s",
			rp.Symbol, rp.Side, rp.UpdateTime.Format(time.RFC3339))
	}

	pos, err := s.tracker.AddSynced(types.Position{
		Symbol:       rp.Symbol,
		Side:         rp.Side,
		EntryPrice:   rp.EntryPrice,
		CurrentPrice: rp.MarkPrice,
		Quantity:     qty,
		Leverage:     rp.Leverage,
		OpenedAt:     opened,
	})
	if err != nil {
		logger.Warnf("[trader] adopt %s %s failed: %v", rp.Symbol, rp.Side, err)
		return false
	}
	logger.Infof("[trader] adopted %s %s qty=%v @ %v x%d opened=%s id=%s",
		pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.Leverage, pos.OpenedAt.Format(time.RFC3339), pos.PositionID)

	if len(trades) > 0 {
		entrySide := types.EntrySide(pos.Side)
		var fills []exchange.Trade
		for _, t := range trades {
			if t.Side == entrySide && !t.Time.Before(pos.OpenedAt) && sidesCompatible(t.PositionSide, pos.Side) {
				fills = append(fills, t)
			}
		}
		s.saveNewOrders(ctx, fillRecords(fills, pos, store.PurposeEntry, s.mode))
	}
	s.auditPosition(ctx, auditPositionAdopted, pos, "untracked exchange position", nil)
	return true
}

// applyPartialClose shrinks local to remoteQty and attributes the delta to
// the latest closing fills. Any stop sized for the old quantity is
// cancelled and the breakeven stop re-placed at the new size when the
// position still qualifies.
func (s *TradingSystem) applyPartialClose(ctx context.Context, local types.Position, remoteQty, mark float64) bool {
	delta := local.Quantity - remoteQty
	price := mark
	if price <= 0 {
		price = local.CurrentPrice
	}
	exec := types.TakeProfitExecution{
		Quantity: delta,
		Price:    price,
		PnL:      position.PnL(local.Side, local.EntryPrice, price, delta, local.Leverage),
	}

	var block ClosingBlock
	trades, err := s.fetchTrades(ctx, local.Symbol, local.OpenedAt.Add(-time.Minute))
	if err != nil {
		logger.Warnf("[trader] %s partial close: trade history unavailable, valuing at %v: %v", local.Symbol, price, err)
	} else if b, ok := FindClosingBlock(trades, local.Side, local.OpenedAt, appliedTradeIDs(local)); ok {
		block = b
		exec.Price = b.AvgPrice()
		exec.PnL = b.RealizedPnL
		exec.Commission = b.Commission
		if b.Quantity > delta+qtyEpsilon {
			share := delta / b.Quantity
			exec.PnL *= share
			exec.Commission *= share
		}
		exec.OrderIDs = b.OrderIDs
		exec.TradeIDs = b.TradeIDs
		exec.ExecutedAt = b.LastAt
	}

	updated, err := s.tracker.ApplyPartialClose(local.ID, exec)
	if err != nil {
		logger.Warnf("[trader] %s partial close of %v rejected: %v", local.Symbol, delta, err)
		return false
	}
	logger.Infof("[trader] %s %s partial close %v @ %v pnl=%.4f, %v left, margin %.2f",
		updated.Symbol, updated.Side, exec.Quantity, exec.Price, exec.PnL, updated.Quantity, updated.Margin)
	if s.paper() {
		s.paperEquity += exec.PnL - exec.Commission
	}
	s.saveNewOrders(ctx, fillRecords(block.Fills, updated, store.PurposePartialClose, s.mode))
	s.auditPosition(ctx, auditPartialClose, updated, "exchange quantity decreased", map[string]any{
		"closed_quantity": exec.Quantity,
		"close_price":     exec.Price,
		"pnl":             exec.PnL,
	})

	if updated.BreakevenSLPlaced {
		if n, err := s.executor.CancelStopOrders(ctx, updated.Symbol); err != nil {
			logger.Errorf("[trader] %s cancel resized stop failed: %v", updated.Symbol, err)
		} else if n > 0 {
			logger.Infof("[trader] %s cancelled %d stop(s) sized for the old quantity", updated.Symbol, n)
		}
		if _, err := s.tracker.ResetBreakeven(updated.ID); err != nil {
			logger.Warnf("[trader] %s reset breakeven failed: %v", updated.Symbol, err)
		}
	}
	if _, err := s.CheckBreakeven(ctx, updated.ID, price); err != nil {
		logger.Warnf("[trader] %s breakeven re-place failed: %v", updated.Symbol, err)
	}
	return true
}

// settleMissing closes a ledger position the exchange no longer reports.
// Remaining open orders are cancelled before the ledger records the close.
func (s *TradingSystem) settleMissing(ctx context.Context, local types.Position) bool {
	if err := s.executor.CancelAllOpenOrders(ctx, local.Symbol, s.cfg.Trading.CancelMaxRetries); err != nil {
		s.auditPosition(ctx, auditCancelFailed, local, err.Error(), nil)
	}

	settle := position.Settlement{At: s.now().UTC()}
	price := local.CurrentPrice
	if price <= 0 {
		price = local.EntryPrice
	}
	settle.Price = price
	settle.PnL = position.PnL(local.Side, local.EntryPrice, price, local.Quantity, local.Leverage)
	source := "mark"

	var block ClosingBlock
	trades, err := s.fetchTrades(ctx, local.Symbol, local.OpenedAt.Add(-time.Minute))
	if err != nil {
		logger.Warnf("[trader] %s close: trade history unavailable: %v", local.Symbol, err)
	}
	if b, ok := FindClosingBlock(trades, local.Side, local.OpenedAt, appliedTradeIDs(local)); ok {
		block = b
		settle.Price = b.AvgPrice()
		settle.PnL = b.RealizedPnL
		settle.Commission = b.Commission
		settle.At = b.LastAt
		source = "trades"
	} else if pnl, ok := s.incomePnL(ctx, local); ok {
		settle.PnL = pnl
		source = "income"
	}

	closed, err := s.tracker.MarkClosed(local.ID, settle, position.ReasonExchangeSync)
	if err != nil {
		logger.Warnf("[trader] %s mark closed failed: %v", local.Symbol, err)
		return false
	}
	logger.Infof("[trader] %s %s closed on exchange @ %v pnl=%.4f (from %s) id=%s",
		closed.Symbol, closed.Side, settle.Price, closed.RealizedPnL, source, closed.PositionID)
	s.recordClose(closed, settle.PnL, settle.Commission)

	recs := fillRecords(block.Fills, closed, store.PurposeSyncClose, s.mode)
	if len(recs) == 0 {
		recs = []store.OrderRecord{{
			OrderID:      "sync-close-" + closed.PositionID,
			PositionID:   closed.PositionID,
			SignalID:     closed.SignalID,
			Mode:         string(s.mode),
			Symbol:       closed.Symbol,
			Side:         string(types.ExitSide(closed.Side)),
			PositionSide: string(closed.Side),
			Type:         string(types.OrderTypeMarket),
			Purpose:      store.PurposeSyncClose,
			Status:       "FILLED",
			Quantity:     local.Quantity,
			Price:        settle.Price,
			RealizedPnL:  settle.PnL,
			ReduceOnly:   true,
			Meta:         map[string]any{"source": source},
			CreatedAt:    settle.At,
		}}
	}
	s.saveNewOrders(ctx, recs)
	s.auditPosition(ctx, auditPositionClosed, closed, position.ReasonExchangeSync, map[string]any{
		"close_price": settle.Price,
		"source":      source,
	})
	return true
}

// incomePnL sums realized-PnL income since the position opened, less what
// partial closes already booked.
func (s *TradingSystem) incomePnL(ctx context.Context, pos types.Position) (float64, bool) {
	incomes, err := s.client.Income(ctx, exchange.IncomeQuery{
		Symbol:    pos.Symbol,
		Type:      exchange.IncomeRealizedPnL,
		StartTime: pos.OpenedAt,
	})
	if err != nil {
		logger.Warnf("[trader] %s income history unavailable: %v", pos.Symbol, err)
		return 0, false
	}
	if len(incomes) == 0 {
		return 0, false
	}
	total := 0.0
	for _, in := range incomes {
		if in.Type == "" || in.Type == exchange.IncomeRealizedPnL {
			total += in.Amount
		}
	}
	for _, exec := range pos.TakeProfitExecutions {
		total -= exec.PnL
	}
	return total, true
}

// fetchTrades pages through account fills from since, oldest first.
func (s *TradingSystem) fetchTrades(ctx context.Context, sym string, since time.Time) ([]exchange.Trade, error) {
	q := exchange.TradeQuery{Symbol: sym, StartTime: since, Limit: tradePageLimit}
	var out []exchange.Trade
	for page := 0; page < maxTradePages; page++ {
		batch, err := s.client.Trades(ctx, q)
		if err != nil {
			return out, err
		}
		out = append(out, batch...)
		if len(batch) < tradePageLimit {
			break
		}
		q = exchange.TradeQuery{Symbol: sym, FromID: batch[len(batch)-1].ID + 1, Limit: tradePageLimit}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out, nil
}

// BacktrackEntryTime finds when the current position was opened. It walks
// trades from newest to oldest undoing each fill from qty until the history
// is flat again. Of the opening fills undone on the way, the one whose price
// is closest to entryPrice, and within 5% of it, is the entry; the newer one
// wins a tie. ok is false when the history never gets back to zero or no
// opening fill matches.
func BacktrackEntryTime(trades []exchange.Trade, side types.Direction, qty, entryPrice float64) (time.Time, bool) {
	if qty <= 0 || entryPrice <= 0 || len(trades) == 0 {
		return time.Time{}, false
	}
	sorted := sortedByTime(trades)
	entrySide := types.EntrySide(side)

	running := qty
	var best *exchange.Trade
	bestDist := math.Inf(1)
	for i := len(sorted) - 1; i >= 0; i-- {
		t := sorted[i]
		if !sidesCompatible(t.PositionSide, side) {
			continue
		}
		if t.Side != entrySide {
			running += t.Quantity
			continue
		}
		running -= t.Quantity
		if priceMatches(t.Price, entryPrice) {
			if d := math.Abs(t.Price - entryPrice); d < bestDist {
				best, bestDist = &sorted[i], d
			}
		}
		if running <= qtyEpsilon {
			if best == nil {
				return time.Time{}, false
			}
			return best.Time, true
		}
	}
	return time.Time{}, false
}

// ClosingBlock is the latest run of consecutive closing fills for a side.
type ClosingBlock struct {
	Quantity    float64
	Notional    float64
	Commission  float64
	RealizedPnL float64
	OrderIDs    []string
	TradeIDs    []int64
	Fills       []exchange.Trade
	FirstAt     time.Time
	LastAt      time.Time
}

func (b ClosingBlock) AvgPrice() float64 {
	if b.Quantity <= 0 {
		return 0
	}
	return b.Notional / b.Quantity
}

// FindClosingBlock collects the most recent consecutive fills that reduced a
// side position: exit-side fills with non-zero realized PnL at or after
// since. Fills whose trade ID is in skip were already attributed and are
// ignored, so an order filling across several syncs is counted once per
// fill. An entry-side fill ends the block.
func FindClosingBlock(trades []exchange.Trade, side types.Direction, since time.Time, skip map[int64]bool) (ClosingBlock, bool) {
	sorted := sortedByTime(trades)
	exitSide := types.ExitSide(side)
	var b ClosingBlock
	seenOrder := make(map[string]bool)
	for i := len(sorted) - 1; i >= 0; i-- {
		t := sorted[i]
		if t.Time.Before(since) {
			break
		}
		if !sidesCompatible(t.PositionSide, side) || skip[t.ID] {
			continue
		}
		if t.Side != exitSide {
			if b.Quantity > 0 {
				break
			}
			continue
		}
		if t.RealizedPnL == 0 {
			continue
		}
		b.Quantity += t.Quantity
		quote := t.QuoteQty
		if quote <= 0 {
			quote = t.Price * t.Quantity
		}
		b.Notional += quote
		b.Commission += t.Commission
		b.RealizedPnL += t.RealizedPnL
		b.Fills = append(b.Fills, t)
		b.TradeIDs = append(b.TradeIDs, t.ID)
		if !seenOrder[t.OrderID] {
			seenOrder[t.OrderID] = true
			b.OrderIDs = append(b.OrderIDs, t.OrderID)
		}
		if b.LastAt.IsZero() {
			b.LastAt = t.Time
		}
		b.FirstAt = t.Time
	}
	if b.Quantity <= 0 {
		return ClosingBlock{}, false
	}
	// oldest first, like the history it came from
	for l, r := 0, len(b.Fills)-1; l < r; l, r = l+1, r-1 {
		b.Fills[l], b.Fills[r] = b.Fills[r], b.Fills[l]
		b.TradeIDs[l], b.TradeIDs[r] = b.TradeIDs[r], b.TradeIDs[l]
	}
	for l, r := 0, len(b.OrderIDs)-1; l < r; l, r = l+1, r-1 {
		b.OrderIDs[l], b.OrderIDs[r] = b.OrderIDs[r], b.OrderIDs[l]
	}
	return b, true
}

func appliedTradeIDs(pos types.Position) map[int64]bool {
	out := make(map[int64]bool)
	for _, exec := range pos.TakeProfitExecutions {
		for _, id := range exec.TradeIDs {
			out[id] = true
		}
	}
	return out
}

// sidesCompatible lets one-way (BOTH) fills count for either side and keeps
// hedge-mode fills to their own side.
func sidesCompatible(ps exchange.PositionSide, side types.Direction) bool {
	switch ps {
	case exchange.PositionSideLong:
		return side == types.DirectionLong
	case exchange.PositionSideShort:
		return side == types.DirectionShort
	default:
		return true
	}
}

func priceMatches(price, ref float64) bool {
	if ref <= 0 {
		return false
	}
	return math.Abs(price-ref)/ref <= entryPriceTolerance
}

func sortedByTime(trades []exchange.Trade) []exchange.Trade {
	out := append([]exchange.Trade(nil), trades...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
