package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oitrader/internal/store"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "data", "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndFindOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateOrder(ctx, store.OrderRecord{
		OrderID: "1", PositionID: "p1", Mode: "live", Symbol: "BTCUSDT", Side: "BUY",
		Type: "MARKET", Purpose: store.PurposeEntry, Quantity: 0.01, Price: 64000,
		Meta: map[string]any{"signal_score": 7.5, "targets": []any{2.0, 4.0}, "tags": map[string]any{"leverage": 5}}, CreatedAt: base,
	}))
	require.NoError(t, s.CreateOrder(ctx, store.OrderRecord{
		OrderID: "2", PositionID: "p1", Mode: "live", Symbol: "BTCUSDT", Side: "SELL",
		Type: "TAKE_PROFIT_MARKET", Purpose: store.PurposeTakeProfit, ReduceOnly: true, CreatedAt: base.Add(time.Second),
	}))

	found, err := s.FindExistingOrderIDs(ctx, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true, "2": true}, found)

	orders, err := s.OrdersForPosition(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "1", orders[0].OrderID)
	assert.Equal(t, 7.5, orders[0].Meta["signal_score"])
	assert.Equal(t, []any{2.0, 4.0}, orders[0].Meta["targets"])
	assert.Equal(t, map[string]any{"leverage": 5.0}, orders[0].Meta["tags"])
	assert.Nil(t, orders[1].Meta)
	assert.True(t, orders[1].ReduceOnly)
}

func TestCreateOrderUpsertKeepsPositionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, store.OrderRecord{OrderID: "9", PositionID: "p9", Status: "NEW"}))
	require.NoError(t, s.CreateOrder(ctx, store.OrderRecord{OrderID: "9", Status: "FILLED", Price: 10}))

	orders, err := s.OrdersForPosition(ctx, "p9")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "FILLED", orders[0].Status)
	assert.Equal(t, 10.0, orders[0].Price)

	assert.Error(t, s.CreateOrder(ctx, store.OrderRecord{}))
}

func TestUpdatePositionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, store.OrderRecord{OrderID: "5"}))
	require.NoError(t, s.UpdatePositionID(ctx, "5", "p5"))

	orders, err := s.OrdersForPosition(ctx, "p5")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	assert.ErrorIs(t, s.UpdatePositionID(ctx, "missing", "p"), ErrOrderNotFound)
}

func TestGetStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	records := []store.OrderRecord{
		{OrderID: "a1", PositionID: "A", Mode: "live", Purpose: store.PurposeEntry, Commission: 0.5, CreatedAt: recent},
		{OrderID: "a2", PositionID: "A", Mode: "live", Purpose: store.PurposePartialClose, RealizedPnL: 6, Commission: 0.2, CreatedAt: recent},
		{OrderID: "a3", PositionID: "A", Mode: "live", Purpose: store.PurposeClose, RealizedPnL: 4, Commission: 0.3, CreatedAt: recent},
		{OrderID: "b1", PositionID: "B", Mode: "live", Purpose: store.PurposeSyncClose, RealizedPnL: -3, Commission: 0.1, CreatedAt: recent},
		{OrderID: "c1", PositionID: "C", Mode: "paper", Purpose: store.PurposeClose, RealizedPnL: 100, CreatedAt: recent},
		{OrderID: "d1", PositionID: "D", Mode: "live", Purpose: store.PurposeClose, RealizedPnL: 50, CreatedAt: old},
	}
	for _, r := range records {
		require.NoError(t, s.CreateOrder(ctx, r))
	}

	stats, err := s.GetStatistics(ctx, "live", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-12)
	assert.InDelta(t, 7, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 1.1, stats.Commission, 1e-9)
	assert.InDelta(t, 5.9, stats.NetPnL, 1e-9)

	all, err := s.GetStatistics(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalTrades)

	empty, err := s.GetStatistics(ctx, "testnet", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalTrades)
	assert.Zero(t, empty.WinRate)
}
