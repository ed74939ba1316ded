package trader

import (
	"context"
	"encoding/json"

	"oitrader/internal/config"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/logger"
	"oitrader/internal/store"
	"oitrader/internal/store/auditlog"
	"oitrader/internal/types"
)

func orderRecord(o types.Order, pos types.Position, purpose string, mode config.Mode) store.OrderRecord {
	price := o.AvgPrice
	if price <= 0 {
		price = o.StopPrice
	}
	qty := o.FilledQty
	if qty <= 0 {
		qty = o.RequestedQty
	}
	rec := store.OrderRecord{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		PositionID:    pos.PositionID,
		SignalID:      pos.SignalID,
		Mode:          string(mode),
		Symbol:        pos.Symbol,
		Side:          string(o.Side),
		PositionSide:  string(pos.Side),
		Type:          string(o.Type),
		Purpose:       purpose,
		Status:        o.Status,
		Quantity:      qty,
		Price:         price,
		StopPrice:     o.StopPrice,
		Commission:    o.Commission,
		ReduceOnly:    o.ReduceOnly,
		CreatedAt:     o.CreatedAt,
	}
	if o.CallbackRate > 0 {
		rec.Meta = map[string]any{"callback_rate": o.CallbackRate}
	}
	return rec
}

// fillRecords folds account fills into one record per exchange order.
func fillRecords(fills []exchange.Trade, pos types.Position, purpose string, mode config.Mode) []store.OrderRecord {
	index := make(map[string]int)
	var out []store.OrderRecord
	for _, f := range fills {
		i, ok := index[f.OrderID]
		if !ok {
			i = len(out)
			index[f.OrderID] = i
			out = append(out, store.OrderRecord{
				OrderID:      f.OrderID,
				PositionID:   pos.PositionID,
				SignalID:     pos.SignalID,
				Mode:         string(mode),
				Symbol:       pos.Symbol,
				Side:         string(f.Side),
				PositionSide: string(pos.Side),
				Type:         string(types.OrderTypeMarket),
				Purpose:      purpose,
				Status:       "FILLED",
				ReduceOnly:   purpose != store.PurposeEntry,
				CreatedAt:    f.Time,
			})
		}
		rec := &out[i]
		notional := rec.Price*rec.Quantity + f.Price*f.Quantity
		rec.Quantity += f.Quantity
		if rec.Quantity > 0 {
			rec.Price = notional / rec.Quantity
		}
		rec.Commission += f.Commission
		rec.RealizedPnL += f.RealizedPnL
		if f.Time.Before(rec.CreatedAt) {
			rec.CreatedAt = f.Time
		}
	}
	return out
}

func (s *TradingSystem) saveOrder(ctx context.Context, rec store.OrderRecord) {
	if s.orders == nil || rec.OrderID == "" {
		return
	}
	if err := s.orders.CreateOrder(ctx, rec); err != nil {
		logger.Errorf("[trader] persist %s order %s (%s) failed: %v", rec.Symbol, rec.OrderID, rec.Purpose, err)
	}
}

// saveNewOrders stores the records whose order id is not persisted yet and
// stamps pos's position id on the ones that are.
func (s *TradingSystem) saveNewOrders(ctx context.Context, recs []store.OrderRecord) {
	if s.orders == nil || len(recs) == 0 {
		return
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.OrderID)
	}
	existing, err := s.orders.FindExistingOrderIDs(ctx, ids)
	if err != nil {
		logger.Warnf("[trader] order lookup failed, writing all %d records: %v", len(recs), err)
		existing = nil
	}
	for _, r := range recs {
		if existing[r.OrderID] {
			if r.PositionID == "" {
				continue
			}
			if err := s.orders.UpdatePositionID(ctx, r.OrderID, r.PositionID); err != nil {
				logger.Warnf("[trader] stamp position %s on order %s failed: %v", r.PositionID, r.OrderID, err)
			}
			continue
		}
		s.saveOrder(ctx, r)
	}
}

func (s *TradingSystem) appendAudit(ctx context.Context, e auditlog.Entry) {
	if s.audit == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if _, err := s.audit.Append(ctx, e); err != nil {
		logger.Warnf("[trader] audit %s %s failed: %v", e.Symbol, e.Action, err)
	}
}

func (s *TradingSystem) auditOutcome(ctx context.Context, ev types.AnomalyEvent, out Outcome) {
	e := auditlog.Entry{
		Symbol: ev.Symbol,
		Action: string(out.Action),
		Reason: out.Reason,
	}
	if out.Rejection != nil {
		e.Stage = string(out.Rejection.Stage)
		e.Category = out.Rejection.Category
		e.Reason = out.Rejection.Reason
	}
	if out.Signal != nil {
		e.SignalID = out.Signal.ID
		e.Direction = string(out.Signal.Direction)
		e.Score = out.Signal.Score
		e.Confidence = out.Signal.Confidence
	}
	if out.Position != nil {
		e.PositionID = out.Position.PositionID
	}
	payload := map[string]any{"anomaly": ev}
	if out.Signal != nil {
		payload["breakdown"] = out.Signal.Breakdown
		payload["strength"] = out.Signal.Strength
	}
	if out.Position != nil {
		payload["quantity"] = out.Position.Quantity
		payload["entry_price"] = out.Position.EntryPrice
		payload["leverage"] = out.Position.Leverage
		payload["margin"] = out.Position.Margin
	}
	e.Payload = mustJSON(payload)
	s.appendAudit(ctx, e)
}

func (s *TradingSystem) auditPosition(ctx context.Context, action string, pos types.Position, reason string, extra map[string]any) {
	payload := map[string]any{
		"quantity":     pos.Quantity,
		"entry_price":  pos.EntryPrice,
		"realized_pnl": pos.RealizedPnL,
		"commission":   pos.Commission,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.appendAudit(ctx, auditlog.Entry{
		Symbol:     pos.Symbol,
		Action:     action,
		Reason:     reason,
		SignalID:   pos.SignalID,
		PositionID: pos.PositionID,
		Direction:  string(pos.Side),
		Payload:    mustJSON(payload),
	})
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
