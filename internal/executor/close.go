package executor

import (
	"context"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/pkg/symbol"
	"oitrader/internal/pkg/trading"
	"oitrader/internal/types"
)

// ClosePositionMarket reduces pos by qty with a reduce-only market order.
// qty <= 0 or above the open quantity closes everything. Callers cancel the
// symbol's open orders first.
func (e *Executor) ClosePositionMarket(ctx context.Context, pos types.Position, qty float64) (*Fill, error) {
	sym := symbol.Normalize(pos.Symbol)
	if qty <= 0 || qty > pos.Quantity {
		qty = pos.Quantity
	}
	prec, err := e.Precision(ctx, sym)
	if err != nil {
		return nil, err
	}
	q := trading.FloorQuantity(qty, prec.StepSize, prec.QuantityPrecision)
	qF, _ := q.Float64()
	if qF <= 0 {
		return nil, orderFailed(sym, "close", "quantity %v rounds to zero", qty)
	}
	side := types.ExitSide(pos.Side)

	if e.paper() {
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		fill := e.paperFill(sym, side, pos.Side, qF, price, true)
		fill.Precision = prec
		e.metrics.OrderPlaced(string(e.cfg.Mode), string(types.OrderTypeMarket))
		return fill, nil
	}

	placedAt := e.now()
	info, err := e.client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     sym,
		Side:       side,
		Type:       types.OrderTypeMarket,
		Quantity:   trading.QuantityString(q, prec.QuantityPrecision),
		ReduceOnly: true,
	})
	if err != nil {
		e.metrics.OrderFailed(string(e.cfg.Mode))
		return nil, classify(sym, "close", err)
	}
	e.metrics.OrderPlaced(string(e.cfg.Mode), string(types.OrderTypeMarket))
	fill := e.settle(ctx, sym, pos.Side, info, placedAt, qF)
	if fill.Price <= 0 {
		fill.Price = pos.CurrentPrice
		fill.Order.AvgPrice = fill.Price
	}
	fill.Order.ReduceOnly = true
	fill.Precision = prec
	e.logf("close %s %s order=%s qty=%v @ %v", sym, pos.Side, fill.Order.OrderID, fill.Quantity, fill.Price)
	return fill, nil
}

// PlaceBreakevenStop places a reduce-only STOP_MARKET for the whole open
// quantity at stopPrice. When the exchange already holds a protective stop
// for the symbol it is returned with existing=true and nothing is submitted.
func (e *Executor) PlaceBreakevenStop(ctx context.Context, pos types.Position, stopPrice float64) (order types.Order, existing bool, err error) {
	sym := symbol.Normalize(pos.Symbol)
	if stopPrice <= 0 {
		return types.Order{}, false, orderFailed(sym, "breakeven stop", "invalid stop price %v", stopPrice)
	}
	prec, err := e.Precision(ctx, sym)
	if err != nil {
		return types.Order{}, false, err
	}
	q := trading.FloorQuantity(pos.Quantity, prec.StepSize, prec.QuantityPrecision)
	qF, _ := q.Float64()
	if qF <= 0 {
		return types.Order{}, false, orderFailed(sym, "breakeven stop", "quantity %v rounds to zero", pos.Quantity)
	}
	stop := trading.RoundPrice(stopPrice, prec.TickSize, prec.PricePrecision)
	stopF, _ := stop.Float64()

	if e.paper() {
		return types.Order{
			OrderID:      e.ids.NewID(),
			Symbol:       sym,
			Type:         types.OrderTypeStopMarket,
			Side:         types.ExitSide(pos.Side),
			PositionSide: pos.Side,
			RequestedQty: qF,
			StopPrice:    stopF,
			Status:       "NEW",
			ReduceOnly:   true,
			CreatedAt:    e.now().UTC(),
		}, false, nil
	}

	open, err := e.client.ListOpenOrders(ctx, sym)
	if err != nil {
		return types.Order{}, false, classify(sym, "list open orders", err)
	}
	for _, o := range open {
		if o.IsProtectiveStop() {
			e.logf("%s protective stop %s already at %v, not re-submitting", sym, o.OrderID, o.StopPrice)
			return orderFromInfo(o, pos.Side, e.now()), true, nil
		}
	}
	info, err := e.client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     sym,
		Side:       types.ExitSide(pos.Side),
		Type:       types.OrderTypeStopMarket,
		Quantity:   trading.QuantityString(q, prec.QuantityPrecision),
		StopPrice:  trading.PriceString(stopF, prec.TickSize, prec.PricePrecision),
		ReduceOnly: true,
	})
	if err != nil {
		return types.Order{}, false, classify(sym, "breakeven stop", err)
	}
	e.metrics.OrderPlaced(string(e.cfg.Mode), string(types.OrderTypeStopMarket))
	order = orderFromInfo(info, pos.Side, e.now())
	order.RequestedQty = qF
	order.StopPrice = stopF
	e.logf("breakeven stop %s %s order=%s qty=%v stop=%v", sym, pos.Side, order.OrderID, qF, stopF)
	return order, false, nil
}

// CancelStopOrders cancels every protective stop on sym and returns how many
// were cancelled.
func (e *Executor) CancelStopOrders(ctx context.Context, sym string) (int, error) {
	if e.paper() {
		return 0, nil
	}
	sym = symbol.Normalize(sym)
	open, err := e.client.ListOpenOrders(ctx, sym)
	if err != nil {
		return 0, classify(sym, "list open orders", err)
	}
	n := 0
	for _, o := range open {
		if !o.IsProtectiveStop() {
			continue
		}
		if err := e.client.CancelOrder(ctx, sym, o.OrderID); err != nil {
			return n, classify(sym, "cancel stop", err)
		}
		n++
	}
	return n, nil
}
