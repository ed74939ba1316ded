package executor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/logger"
	"oitrader/internal/pkg/symbol"
	"oitrader/internal/pkg/trading"
	"oitrader/internal/types"
)

// Fill is the settled result of an entry or a close.
type Fill struct {
	Order       types.Order
	Quantity    float64
	Price       float64
	Commission  float64
	RealizedPnL float64
	Precision   exchange.SymbolPrecision
	TakeProfits []types.Order
}

// ExecuteEntry opens a position worth size USDT of margin at leverage. The
// quantity is floored to the symbol's step and decimals and the order is
// refused locally when it falls under the minimum notional.
func (e *Executor) ExecuteEntry(ctx context.Context, sig *types.TradingSignal, size float64, leverage int) (*Fill, error) {
	if sig == nil {
		return nil, orderFailed("", "entry", "no signal")
	}
	sym := symbol.Normalize(sig.Symbol)
	price := sig.EntryPrice
	if price <= 0 {
		return nil, orderFailed(sym, "entry", "invalid entry price %v", price)
	}
	if size <= 0 {
		return nil, orderFailed(sym, "entry", "invalid size %v", size)
	}
	if leverage <= 0 {
		leverage = 1
	}
	prec, err := e.Precision(ctx, sym)
	if err != nil {
		return nil, err
	}
	qty := trading.FloorQuantity(size*float64(leverage)/price, prec.StepSize, prec.QuantityPrecision)
	qtyF, _ := qty.Float64()
	if qtyF <= 0 {
		return nil, orderFailed(sym, "entry", "quantity rounds to zero (margin %.2f x%d @ %v)", size, leverage, price)
	}
	if notional := trading.Notional(qtyF, price); prec.MinNotional > 0 && notional < prec.MinNotional {
		return nil, orderFailed(sym, "entry", "notional %.2f below minimum %.2f", notional, prec.MinNotional)
	}
	side := types.EntrySide(sig.Direction)

	if e.paper() {
		fill := e.paperFill(sym, side, sig.Direction, qtyF, price, false)
		fill.Precision = prec
		e.metrics.OrderPlaced(string(e.cfg.Mode), string(types.OrderTypeMarket))
		e.logf("paper entry %s %s qty=%s @ %v x%d", sym, sig.Direction, qty.String(), price, leverage)
		return fill, nil
	}

	if err := e.client.SetMarginType(ctx, sym, exchange.MarginIsolated); err != nil && !errors.Is(err, exchange.ErrMarginTypeUnchanged) {
		e.metrics.OrderFailed(string(e.cfg.Mode))
		return nil, classify(sym, "set margin type", err)
	}
	if err := e.client.SetLeverage(ctx, sym, leverage); err != nil {
		e.metrics.OrderFailed(string(e.cfg.Mode))
		return nil, classify(sym, "set leverage", err)
	}
	placedAt := e.now()
	info, err := e.client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   sym,
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: trading.QuantityString(qty, prec.QuantityPrecision),
	})
	if err != nil {
		e.metrics.OrderFailed(string(e.cfg.Mode))
		return nil, classify(sym, "entry", err)
	}
	e.metrics.OrderPlaced(string(e.cfg.Mode), string(types.OrderTypeMarket))

	fill := e.settle(ctx, sym, sig.Direction, info, placedAt, qtyF)
	if fill.Price <= 0 {
		logger.Warnf("[executor] %s entry %s filled without a price, using signal price %v", sym, info.OrderID, price)
		fill.Price = price
		fill.Order.AvgPrice = price
	}
	fill.Precision = prec
	e.logf("entry %s %s order=%s qty=%v @ %v x%d fee=%.4f",
		sym, sig.Direction, fill.Order.OrderID, fill.Quantity, fill.Price, leverage, fill.Commission)
	return fill, nil
}

// ExecuteEntryWithTakeProfit opens the position and then places one
// reduce-only order per configured take-profit target. A target that fails
// is logged and skipped; the entry stands.
func (e *Executor) ExecuteEntryWithTakeProfit(ctx context.Context, sig *types.TradingSignal, size float64, leverage int) (*Fill, error) {
	fill, err := e.ExecuteEntry(ctx, sig, size, leverage)
	if err != nil {
		return nil, err
	}
	fill.TakeProfits = e.placeTakeProfits(ctx, symbol.Normalize(sig.Symbol), sig.Direction, fill)
	return fill, nil
}

func (e *Executor) placeTakeProfits(ctx context.Context, sym string, dir types.Direction, fill *Fill) []types.Order {
	prec := fill.Precision
	long := dir.IsLong()
	out := make([]types.Order, 0, len(e.cfg.TakeProfitTargets))
	for i, target := range e.cfg.TakeProfitTargets {
		if target.Ratio <= 0 || target.Percent <= 0 {
			continue
		}
		qty := trading.FloorQuantity(fill.Quantity*target.Ratio, prec.StepSize, prec.QuantityPrecision)
		qtyF, _ := qty.Float64()
		if qtyF <= 0 {
			logger.Warnf("[executor] %s take-profit #%d skipped: %.2f%% of %v rounds to zero", sym, i+1, target.Ratio*100, fill.Quantity)
			continue
		}
		trigger := trading.RoundPrice(trading.OffsetPrice(fill.Price, target.Percent/100, long), prec.TickSize, prec.PricePrecision)
		triggerF, _ := trigger.Float64()
		req := exchange.OrderRequest{
			Symbol:     sym,
			Side:       types.ExitSide(dir),
			Quantity:   trading.QuantityString(qty, prec.QuantityPrecision),
			ReduceOnly: true,
		}
		if target.Trailing {
			req.Type = types.OrderTypeTrailingStop
			req.ActivationPrice = trading.PriceString(triggerF, prec.TickSize, prec.PricePrecision)
			req.CallbackRate = decimal.NewFromFloat(target.CallbackRate).StringFixed(1)
		} else {
			req.Type = types.OrderTypeTakeProfit
			req.StopPrice = trading.PriceString(triggerF, prec.TickSize, prec.PricePrecision)
		}

		if e.paper() {
			out = append(out, types.Order{
				OrderID:      e.ids.NewID(),
				Symbol:       sym,
				Type:         req.Type,
				Side:         req.Side,
				PositionSide: dir,
				RequestedQty: qtyF,
				StopPrice:    triggerF,
				CallbackRate: target.CallbackRate,
				Status:       "NEW",
				ReduceOnly:   true,
				CreatedAt:    e.now().UTC(),
			})
			continue
		}
		info, err := e.client.PlaceOrder(ctx, req)
		if err != nil {
			logger.Warnf("[executor] %s take-profit #%d (%s @ %v) failed: %v", sym, i+1, req.Type, triggerF, err)
			continue
		}
		e.metrics.OrderPlaced(string(e.cfg.Mode), string(req.Type))
		order := orderFromInfo(info, dir, e.now())
		order.RequestedQty = qtyF
		order.StopPrice = triggerF
		order.CallbackRate = target.CallbackRate
		out = append(out, order)
	}
	return out
}

// settle waits for the fill to become visible and rebuilds price, quantity
// and commission from the account trades of the order.
func (e *Executor) settle(ctx context.Context, sym string, dir types.Direction, info exchange.OrderInfo, placedAt time.Time, requested float64) *Fill {
	order := orderFromInfo(info, dir, placedAt)
	order.RequestedQty = requested
	fill := &Fill{Order: order, Quantity: info.ExecutedQty, Price: info.AvgPrice}

	if err := e.sleep(ctx, e.cfg.SettleDelay); err == nil {
		trades, err := e.client.Trades(ctx, exchange.TradeQuery{
			Symbol:    sym,
			StartTime: placedAt.Add(-time.Minute),
		})
		if err != nil {
			logger.Warnf("[executor] %s fill lookup for %s failed: %v", sym, info.OrderID, err)
		} else {
			agg := aggregateTrades(trades, info.OrderID)
			if agg.qty > 0 {
				fill.Quantity = agg.qty
				fill.Price = agg.avgPrice()
				fill.Commission = agg.commission
				fill.RealizedPnL = agg.pnl
			}
		}
	}
	if fill.Quantity <= 0 {
		fill.Quantity = requested
	}
	fill.Order.FilledQty = fill.Quantity
	fill.Order.AvgPrice = fill.Price
	fill.Order.Commission = fill.Commission
	return fill
}

type tradeAgg struct {
	qty        float64
	quote      float64
	commission float64
	pnl        float64
}

func (a tradeAgg) avgPrice() float64 {
	if a.qty <= 0 {
		return 0
	}
	return a.quote / a.qty
}

func aggregateTrades(trades []exchange.Trade, orderID string) tradeAgg {
	var agg tradeAgg
	for _, t := range trades {
		if t.OrderID != orderID {
			continue
		}
		agg.qty += t.Quantity
		quote := t.QuoteQty
		if quote <= 0 {
			quote = t.Price * t.Quantity
		}
		agg.quote += quote
		agg.commission += t.Commission
		agg.pnl += t.RealizedPnL
	}
	return agg
}

func (e *Executor) paperFill(sym string, side types.OrderSide, dir types.Direction, qty, price float64, reduceOnly bool) *Fill {
	fee := trading.Notional(qty, price) * paperTakerFee
	return &Fill{
		Order: types.Order{
			OrderID:      e.ids.NewID(),
			Symbol:       sym,
			Type:         types.OrderTypeMarket,
			Side:         side,
			PositionSide: dir,
			RequestedQty: qty,
			FilledQty:    qty,
			AvgPrice:     price,
			Status:       "FILLED",
			Commission:   fee,
			ReduceOnly:   reduceOnly,
			CreatedAt:    e.now().UTC(),
		},
		Quantity:   qty,
		Price:      price,
		Commission: fee,
	}
}

func orderFromInfo(info exchange.OrderInfo, dir types.Direction, at time.Time) types.Order {
	created := info.UpdateTime
	if created.IsZero() {
		created = at.UTC()
	}
	return types.Order{
		OrderID:       info.OrderID,
		ClientOrderID: info.ClientOrderID,
		Symbol:        info.Symbol,
		Type:          info.Type,
		Side:          info.Side,
		PositionSide:  dir,
		RequestedQty:  info.OrigQty,
		FilledQty:     info.ExecutedQty,
		AvgPrice:      info.AvgPrice,
		StopPrice:     info.StopPrice,
		Status:        info.Status,
		ReduceOnly:    info.ReduceOnly || info.ClosePosition,
		CreatedAt:     created,
	}
}
