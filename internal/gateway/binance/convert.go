package binance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/pkg/convert"
	"oitrader/internal/types"
)

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func convertCreateOrder(res *futures.CreateOrderResponse) exchange.OrderInfo {
	if res == nil {
		return exchange.OrderInfo{}
	}
	return exchange.OrderInfo{
		OrderID:       convert.FormatID(res.OrderID),
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Type:          types.OrderType(res.Type),
		Side:          orderSide(res.Side),
		PositionSide:  exchange.PositionSide(res.PositionSide),
		Status:        string(res.Status),
		OrigQty:       convert.ParseFloat(res.OrigQuantity),
		ExecutedQty:   convert.ParseFloat(res.ExecutedQuantity),
		AvgPrice:      convert.ParseFloat(res.AvgPrice),
		StopPrice:     convert.ParseFloat(res.StopPrice),
		ReduceOnly:    res.ReduceOnly,
		ClosePosition: res.ClosePosition,
		UpdateTime:    msTime(res.UpdateTime),
	}
}

func convertOrder(o *futures.Order) exchange.OrderInfo {
	return exchange.OrderInfo{
		OrderID:       convert.FormatID(o.OrderID),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Type:          types.OrderType(o.Type),
		Side:          orderSide(o.Side),
		PositionSide:  exchange.PositionSide(o.PositionSide),
		Status:        string(o.Status),
		OrigQty:       convert.ParseFloat(o.OrigQuantity),
		ExecutedQty:   convert.ParseFloat(o.ExecutedQuantity),
		AvgPrice:      convert.ParseFloat(o.AvgPrice),
		StopPrice:     convert.ParseFloat(o.StopPrice),
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		UpdateTime:    msTime(o.UpdateTime),
	}
}

// convertPositionRisk drops flat entries. In one-way mode the side comes
// from the sign of the position amount. The v3 payload carries no leverage
// field; it is recovered from notional over position initial margin.
func convertPositionRisk(p *futures.PositionRiskV3) (exchange.PositionInfo, bool) {
	amt := convert.ParseFloat(p.PositionAmt)
	if amt == 0 {
		return exchange.PositionInfo{}, false
	}
	raw := exchange.PositionSide(strings.ToUpper(p.PositionSide))
	side := raw.Direction()
	if side == types.DirectionNeutral {
		side = types.DirectionLong
		if amt < 0 {
			side = types.DirectionShort
		}
	}
	return exchange.PositionInfo{
		Symbol:         p.Symbol,
		Side:           side,
		RawSide:        raw,
		Amount:         math.Abs(amt),
		EntryPrice:     convert.ParseFloat(p.EntryPrice),
		MarkPrice:      convert.ParseFloat(p.MarkPrice),
		Leverage:       impliedLeverage(p.Notional, p.PositionInitialMargin),
		UnrealizedPnL:  convert.ParseFloat(p.UnRealizedProfit),
		IsolatedWallet: convert.ParseFloat(p.IsolatedWallet),
		UpdateTime:     msTime(p.UpdateTime),
	}, true
}

func impliedLeverage(notional, initialMargin string) int {
	n := math.Abs(convert.ParseFloat(notional))
	m := convert.ParseFloat(initialMargin)
	if n <= 0 || m <= 0 {
		return 1
	}
	return max(int(math.Round(n/m)), 1)
}

func convertAccountTrade(t *futures.AccountTrade) exchange.Trade {
	return exchange.Trade{
		ID:           t.ID,
		OrderID:      convert.FormatID(t.OrderID),
		Symbol:       t.Symbol,
		Side:         orderSide(t.Side),
		PositionSide: exchange.PositionSide(strings.ToUpper(string(t.PositionSide))),
		Price:        convert.ParseFloat(t.Price),
		Quantity:     convert.ParseFloat(t.Quantity),
		QuoteQty:     convert.ParseFloat(t.QuoteQuantity),
		RealizedPnL:  convert.ParseFloat(t.RealizedPnl),
		Commission:   convert.ParseFloat(t.Commission),
		Time:         msTime(t.Time),
	}
}

func convertIncome(in *futures.IncomeHistory) exchange.Income {
	return exchange.Income{
		Symbol:  in.Symbol,
		Type:    in.IncomeType,
		Amount:  convert.ParseFloat(in.Income),
		Asset:   in.Asset,
		TradeID: in.TradeID,
		Time:    msTime(in.Time),
	}
}

// convertSymbolPrecision fails on missing or malformed filters; the caller
// must not trade a symbol whose step size is unknown.
func convertSymbolPrecision(s *futures.Symbol) (exchange.SymbolPrecision, error) {
	out := exchange.SymbolPrecision{
		Symbol:            s.Symbol,
		QuantityPrecision: s.QuantityPrecision,
		PricePrecision:    s.PricePrecision,
	}
	if lot := s.LotSizeFilter(); lot != nil {
		out.StepSize = convert.ParseFloat(lot.StepSize)
		out.MinQty = convert.ParseFloat(lot.MinQuantity)
	}
	if pf := s.PriceFilter(); pf != nil {
		out.TickSize = convert.ParseFloat(pf.TickSize)
	}
	if mn := s.MinNotionalFilter(); mn != nil {
		out.MinNotional = convert.ParseFloat(mn.Notional)
	}
	if out.StepSize <= 0 || out.QuantityPrecision < 0 {
		return exchange.SymbolPrecision{}, fmt.Errorf("malformed precision for %s: step=%v decimals=%d",
			s.Symbol, out.StepSize, out.QuantityPrecision)
	}
	return out, nil
}
