package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oitrader/internal/config"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/position"
	"oitrader/internal/store"
	"oitrader/internal/types"
)

func TestClosePositionCancelsBeforeMarketClose(t *testing.T) {
	h := newHarness(t, testConfig(config.ModeLive))
	h.fx.fillPrice = 105
	local := h.openLocal(t, types.DirectionLong, 2, 100, 5, now0.Add(-time.Hour))
	h.fx.openOrders["BTCUSDT"] = []exchange.OrderInfo{{OrderID: "tp", Symbol: "BTCUSDT", Type: types.OrderTypeTakeProfit}}
	ctx := context.Background()

	require.NoError(t, h.sys.ClosePosition(ctx, local.ID, ""))

	cancel := h.fx.indexOf("cancel_all:BTCUSDT")
	place := h.fx.indexOf("place:MARKET")
	require.GreaterOrEqual(t, cancel, 0)
	require.GreaterOrEqual(t, place, 0)
	assert.Less(t, cancel, place)

	pos, _ := h.sys.tracker.Get(local.ID)
	assert.False(t, pos.IsOpen)
	assert.Equal(t, position.ReasonManual, pos.CloseReason)
	assert.InDelta(t, 5*2*5, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 105, pos.ClosePrice, 1e-9)

	closes := h.orders.byPurpose(store.PurposeClose)
	require.Len(t, closes, 1)
	assert.Equal(t, pos.PositionID, closes[0].PositionID)
	assert.InDelta(t, 50, closes[0].RealizedPnL, 1e-9)
	assert.True(t, closes[0].ReduceOnly)

	err := h.sys.ClosePosition(ctx, local.ID, "")
	assert.ErrorIs(t, err, position.ErrPositionClosed)
	err = h.sys.ClosePosition(ctx, "missing", "")
	assert.ErrorIs(t, err, position.ErrNotFound)
}

func TestClosePositionProceedsAfterCancelFailure(t *testing.T) {
	h := newHarness(t, testConfig(config.ModeLive))
	h.fx.fillPrice = 99
	h.fx.cancelErr = errors.New("timeout")
	local := h.openLocal(t, types.DirectionLong, 1, 100, 2, now0.Add(-time.Hour))

	require.NoError(t, h.sys.ClosePosition(context.Background(), local.ID, position.ReasonStopLoss))

	pos, _ := h.sys.tracker.Get(local.ID)
	assert.False(t, pos.IsOpen)
	assert.InDelta(t, -2, pos.RealizedPnL, 1e-9)
	assert.Equal(t, []string{auditCancelFailed, auditPositionClosed}, h.audit.actions())
	assert.Equal(t, 1, h.sys.risk.Status().ConsecutiveLosses)
}

func TestCheckTimeoutsClosesExpiredPositions(t *testing.T) {
	cfg := testConfig(config.ModeLive)
	cfg.Trading.MaxHoldingTimeMinutes = 60
	h := newHarness(t, cfg)
	h.fx.fillPrice = 100
	old := h.openLocal(t, types.DirectionLong, 1, 100, 2, now0.Add(-2*time.Hour))
	pos, err := h.sys.tracker.Open(position.OpenParams{
		Symbol: "ETHUSDT", Side: types.DirectionShort, EntryPrice: 50, Quantity: 1, Leverage: 2, OpenedAt: now0.Add(-10 * time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.sys.CheckTimeouts(context.Background()))

	got, _ := h.sys.tracker.Get(old.ID)
	assert.False(t, got.IsOpen)
	assert.Equal(t, position.ReasonTimeout, got.CloseReason)
	assert.Less(t, h.fx.indexOf("cancel_all:BTCUSDT"), h.fx.indexOf("place:MARKET"))

	got, _ = h.sys.tracker.Get(pos.ID)
	assert.True(t, got.IsOpen)
}

func TestCheckBreakevenPlacesStopOnce(t *testing.T) {
	h := newHarness(t, testConfig(config.ModeLive))
	local := h.openLocal(t, types.DirectionShort, 1, 100, 5, now0.Add(-time.Hour))
	ctx := context.Background()

	placed, err := h.sys.CheckBreakeven(ctx, local.ID, 99.5)
	require.NoError(t, err)
	assert.False(t, placed, "2.5% is under the trigger")
	assert.Empty(t, h.fx.placed)

	placed, err = h.sys.CheckBreakeven(ctx, local.ID, 98)
	require.NoError(t, err)
	assert.True(t, placed)
	require.Len(t, h.fx.placed, 1)
	req := h.fx.placed[0]
	assert.Equal(t, types.OrderTypeStopMarket, req.Type)
	assert.Equal(t, types.SideBuy, req.Side)
	assert.True(t, req.ReduceOnly)
	assert.Equal(t, "99.85", req.StopPrice)

	pos, _ := h.sys.tracker.Get(local.ID)
	assert.True(t, pos.BreakevenSLPlaced)
	assert.InDelta(t, 99.85, pos.StopLoss, 1e-9)
	require.Len(t, h.orders.byPurpose(store.PurposeBreakevenStop), 1)

	placed, err = h.sys.CheckBreakeven(ctx, local.ID, 90)
	require.NoError(t, err)
	assert.True(t, placed)
	assert.Len(t, h.fx.placed, 1)
}

func TestCheckBreakevenAdoptsExistingStop(t *testing.T) {
	h := newHarness(t, testConfig(config.ModeLive))
	local := h.openLocal(t, types.DirectionLong, 1, 100, 5, now0.Add(-time.Hour))
	h.fx.openOrders["BTCUSDT"] = []exchange.OrderInfo{{
		OrderID: "sl", Symbol: "BTCUSDT", Type: types.OrderTypeStopMarket, StopPrice: 100.5, ReduceOnly: true,
	}}

	placed, err := h.sys.CheckBreakeven(context.Background(), local.ID, 103)
	require.NoError(t, err)
	assert.True(t, placed)
	assert.Empty(t, h.fx.placed)

	pos, _ := h.sys.tracker.Get(local.ID)
	assert.InDelta(t, 100.5, pos.StopLoss, 1e-9)
	assert.Empty(t, h.orders.byPurpose(store.PurposeBreakevenStop))
}

func TestMarkPriceStopClosesPaperPosition(t *testing.T) {
	h := newHarness(t, testConfig(config.ModePaper))
	out := h.sys.ProcessAnomaly(context.Background(), strongLong())
	require.Equal(t, ActionPositionOpened, out.Action)
	id := out.Position.ID

	h.sys.onMarkPrice(context.Background(), exchange.MarkPrice{Symbol: "btcusdt", Price: 100})

	pos, _ := h.sys.tracker.Get(id)
	assert.False(t, pos.IsOpen)
	assert.Equal(t, position.ReasonStopLoss, pos.CloseReason)
	assert.InDelta(t, -2*3.921*8, pos.RealizedPnL, 1e-6)
	assert.Equal(t, 1, h.sys.risk.Status().ConsecutiveLosses)
}

func TestMarkPriceTargetClosesPaperPosition(t *testing.T) {
	h := newHarness(t, testConfig(config.ModePaper))
	out := h.sys.ProcessAnomaly(context.Background(), strongLong())
	require.Equal(t, ActionPositionOpened, out.Action)
	id := out.Position.ID

	h.sys.onMarkPrice(context.Background(), exchange.MarkPrice{Symbol: "BTCUSDT", Price: 106})

	pos, _ := h.sys.tracker.Get(id)
	assert.False(t, pos.IsOpen)
	assert.Equal(t, position.ReasonTakeProfit, pos.CloseReason)
	assert.InDelta(t, 4*3.921*8, pos.RealizedPnL, 1e-6)
	assert.True(t, pos.BreakevenSLPlaced)
}

func TestMarkPriceTrailsPaperStop(t *testing.T) {
	h := newHarness(t, testConfig(config.ModePaper))
	out := h.sys.ProcessAnomaly(context.Background(), strongLong())
	require.Equal(t, ActionPositionOpened, out.Action)
	id := out.Position.ID
	before := out.Position.StopLoss

	h.sys.onMarkPrice(context.Background(), exchange.MarkPrice{Symbol: "BTCUSDT", Price: 104})

	pos, _ := h.sys.tracker.Get(id)
	require.True(t, pos.IsOpen)
	assert.Greater(t, pos.StopLoss, before)
	assert.True(t, pos.BreakevenSLPlaced)
	assert.GreaterOrEqual(t, pos.StopLoss, 102.153-1e-9, "never below breakeven once placed")
}

func TestLiveMarkPriceLeavesTargetsToExchange(t *testing.T) {
	h := newHarness(t, testConfig(config.ModeLive))
	pos, err := h.sys.tracker.Open(position.OpenParams{
		Symbol: "BTCUSDT", Side: types.DirectionLong, EntryPrice: 100, Quantity: 1, Leverage: 1,
		StopLoss: 90, TakeProfit: 102, OpenedAt: now0,
	})
	require.NoError(t, err)

	h.sys.onMarkPrice(context.Background(), exchange.MarkPrice{Symbol: "BTCUSDT", Price: 103})

	got, _ := h.sys.tracker.Get(pos.ID)
	assert.True(t, got.IsOpen, "take-profit orders rest on the exchange")
	assert.Equal(t, -1, h.fx.indexOf("place:MARKET"))
}
