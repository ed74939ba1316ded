package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/pkg/convert"
	"oitrader/internal/pkg/symbol"
	"oitrader/internal/types"
)

const maxTradeLimit = 1000

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderInfo, error) {
	if err := c.wait(ctx); err != nil {
		return exchange.OrderInfo{}, err
	}
	sym := symbol.Normalize(req.Symbol)
	svc := c.api.NewCreateOrderService().
		Symbol(sym).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.PositionSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(req.PositionSide))
	}
	if req.Quantity != "" {
		svc = svc.Quantity(req.Quantity)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.StopPrice != "" {
		svc = svc.StopPrice(req.StopPrice).WorkingType(futures.WorkingTypeMarkPrice)
	}
	if req.CallbackRate != "" {
		svc = svc.CallbackRate(req.CallbackRate).WorkingType(futures.WorkingTypeMarkPrice)
	}
	if req.ActivationPrice != "" {
		svc = svc.ActivationPrice(req.ActivationPrice)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx, c.recvWindow())
	if err != nil {
		return exchange.OrderInfo{}, wrapErr(fmt.Sprintf("place %s %s %s", req.Type, req.Side, sym), err)
	}
	return convertCreateOrder(res), nil
}

func (c *Client) CancelOrder(ctx context.Context, sym, orderID string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol.Normalize(sym)).OrderID(id).Do(ctx, c.recvWindow()); err != nil {
		return wrapErr(fmt.Sprintf("cancel order %s %s", sym, orderID), err)
	}
	return nil
}

func (c *Client) CancelAllOpenOrders(ctx context.Context, sym string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.api.NewCancelAllOpenOrdersService().Symbol(symbol.Normalize(sym)).Do(ctx, c.recvWindow()); err != nil {
		return wrapErr(fmt.Sprintf("cancel all orders %s", sym), err)
	}
	return nil
}

func (c *Client) ListOpenOrders(ctx context.Context, sym string) ([]exchange.OrderInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.api.NewListOpenOrdersService().Symbol(symbol.Normalize(sym)).Do(ctx, c.recvWindow())
	if err != nil {
		return nil, fmt.Errorf("list open orders %s: %w", sym, err)
	}
	out := make([]exchange.OrderInfo, 0, len(raw))
	for _, o := range raw {
		if o == nil {
			continue
		}
		out = append(out, convertOrder(o))
	}
	return out, nil
}

func (c *Client) Positions(ctx context.Context) ([]exchange.PositionInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.api.NewGetPositionRiskV3Service().Do(ctx, c.recvWindow())
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}
	out := make([]exchange.PositionInfo, 0, len(raw))
	for _, p := range raw {
		if p == nil {
			continue
		}
		if info, ok := convertPositionRisk(p); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context) (exchange.Balance, error) {
	if err := c.wait(ctx); err != nil {
		return exchange.Balance{}, err
	}
	raw, err := c.api.NewGetBalanceService().Do(ctx, c.recvWindow())
	if err != nil {
		return exchange.Balance{}, fmt.Errorf("balance: %w", err)
	}
	for _, b := range raw {
		if b != nil && strings.EqualFold(b.Asset, "USDT") {
			return exchange.Balance{
				Asset:     b.Asset,
				Total:     convert.ParseFloat(b.Balance),
				Available: convert.ParseFloat(b.AvailableBalance),
			}, nil
		}
	}
	return exchange.Balance{}, fmt.Errorf("balance: USDT asset not reported")
}

// Trades fetches account fills. Binance caps a time-ranged query at seven
// days, so callers page by advancing FromID or StartTime.
func (c *Client) Trades(ctx context.Context, q exchange.TradeQuery) ([]exchange.Trade, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > maxTradeLimit {
		limit = maxTradeLimit
	}
	svc := c.api.NewListAccountTradeService().Symbol(symbol.Normalize(q.Symbol)).Limit(limit)
	if q.FromID > 0 {
		svc = svc.FromID(q.FromID)
	} else {
		if !q.StartTime.IsZero() {
			svc = svc.StartTime(q.StartTime.UnixMilli())
		}
		if !q.EndTime.IsZero() {
			svc = svc.EndTime(q.EndTime.UnixMilli())
		}
	}
	raw, err := svc.Do(ctx, c.recvWindow())
	if err != nil {
		return nil, fmt.Errorf("account trades %s: %w", q.Symbol, err)
	}
	out := make([]exchange.Trade, 0, len(raw))
	for _, t := range raw {
		if t == nil {
			continue
		}
		out = append(out, convertAccountTrade(t))
	}
	return out, nil
}

func (c *Client) Income(ctx context.Context, q exchange.IncomeQuery) ([]exchange.Income, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewGetIncomeHistoryService()
	if q.Symbol != "" {
		svc = svc.Symbol(symbol.Normalize(q.Symbol))
	}
	if q.Type != "" {
		svc = svc.IncomeType(q.Type)
	}
	if !q.StartTime.IsZero() {
		svc = svc.StartTime(q.StartTime.UnixMilli())
	}
	if !q.EndTime.IsZero() {
		svc = svc.EndTime(q.EndTime.UnixMilli())
	}
	raw, err := svc.Do(ctx, c.recvWindow())
	if err != nil {
		return nil, fmt.Errorf("income history %s: %w", q.Symbol, err)
	}
	out := make([]exchange.Income, 0, len(raw))
	for _, in := range raw {
		if in == nil {
			continue
		}
		out = append(out, convertIncome(in))
	}
	return out, nil
}

func (c *Client) SymbolPrecision(ctx context.Context, sym string) (exchange.SymbolPrecision, error) {
	if err := c.wait(ctx); err != nil {
		return exchange.SymbolPrecision{}, err
	}
	target := symbol.Normalize(sym)
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.SymbolPrecision{}, fmt.Errorf("exchange info: %w", err)
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == target {
			return convertSymbolPrecision(&info.Symbols[i])
		}
	}
	return exchange.SymbolPrecision{}, fmt.Errorf("symbol %s not listed", target)
}

func orderSide(s futures.SideType) types.OrderSide {
	return types.OrderSide(strings.ToUpper(string(s)))
}
