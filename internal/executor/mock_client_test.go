package executor

import (
	"context"

	"github.com/stretchr/testify/mock"

	"oitrader/internal/gateway/exchange"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) SetMarginType(ctx context.Context, symbol string, mt exchange.MarginType) error {
	return m.Called(ctx, symbol, mt).Error(0)
}

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return m.Called(ctx, symbol, leverage).Error(0)
}

func (m *MockClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderInfo, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderInfo), args.Error(1)
}

func (m *MockClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return m.Called(ctx, symbol, orderID).Error(0)
}

func (m *MockClient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return m.Called(ctx, symbol).Error(0)
}

func (m *MockClient) ListOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderInfo, error) {
	args := m.Called(ctx, symbol)
	if v := args.Get(0); v != nil {
		return v.([]exchange.OrderInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Positions(ctx context.Context) ([]exchange.PositionInfo, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]exchange.PositionInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Balance(ctx context.Context) (exchange.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.Balance), args.Error(1)
}

func (m *MockClient) Trades(ctx context.Context, q exchange.TradeQuery) ([]exchange.Trade, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.([]exchange.Trade), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Income(ctx context.Context, q exchange.IncomeQuery) ([]exchange.Income, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.([]exchange.Income), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) SymbolPrecision(ctx context.Context, symbol string) (exchange.SymbolPrecision, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.SymbolPrecision), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(text string) error {
	return m.Called(text).Error(0)
}
