package trader

import (
	"context"
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

func startLoop(t *testing.T, h *harness) (chan<- types.AnomalyEvent, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	anomalies := make(chan types.AnomalyEvent, 4)
	done := make(chan error, 1)
	go func() { done <- h.sys.Run(ctx, anomalies) }()
	require.Eventually(t, func() bool { return h.sys.Status().Running }, time.Second, 5*time.Millisecond)
	return anomalies, cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("actor loop did not stop")
	}
}

func TestRunHandlesAnomaliesAndCloseRequests(t *testing.T) {
	h := newHarness(t, testConfig(config.ModePaper))
	anomalies, cancel, done := startLoop(t, h)
	ctx := context.Background()

	anomalies <- strongLong()
	require.Eventually(t, func() bool { return h.sys.Status().OpenPositions == 1 }, time.Second, 5*time.Millisecond)

	st := h.sys.Status()
	assert.Equal(t, "paper", st.Mode)
	assert.EqualValues(t, 1, st.Processed)
	require.NotNil(t, st.LastAnomalyAt)
	assert.Equal(t, now0, *st.LastAnomalyAt)

	id := h.sys.tracker.OpenPositions()[0].ID
	require.NoError(t, h.sys.RequestClose(ctx, id, ""))
	pos, _ := h.sys.tracker.Get(id)
	assert.False(t, pos.IsOpen)
	assert.Equal(t, position.ReasonManual, pos.CloseReason)
	assert.ErrorIs(t, h.sys.RequestClose(ctx, id, ""), position.ErrPositionClosed)
	assert.Zero(t, h.sys.Status().OpenPositions)

	cancel()
	waitStopped(t, done)
	assert.False(t, h.sys.Status().Running)
	assert.ErrorIs(t, h.sys.RequestClose(ctx, id, ""), ErrStopped)
	assert.ErrorIs(t, h.sys.Run(ctx, nil), ErrStopped)
}

func TestOnMarkPriceFeedsLoop(t *testing.T) {
	h := newHarness(t, testConfig(config.ModePaper))

	h.sys.OnMarkPrice(exchange.MarkPrice{Symbol: "BTCUSDT", Price: 100})
	assert.Zero(t, len(h.sys.prices), "ignored while the loop is not running")

	anomalies, cancel, done := startLoop(t, h)
	defer func() {
		cancel()
		waitStopped(t, done)
	}()

	h.sys.OnMarkPrice(exchange.MarkPrice{Symbol: "ETHUSDT", Price: 100})
	assert.Zero(t, len(h.sys.prices), "no open position on the symbol")

	anomalies <- strongLong()
	require.Eventually(t, func() bool { return h.sys.tracker.CountOpen() == 1 }, time.Second, 5*time.Millisecond)

	h.sys.OnMarkPrice(exchange.MarkPrice{Symbol: "btcusdt", Price: 100})
	require.Eventually(t, func() bool { return h.sys.tracker.CountOpen() == 0 }, time.Second, 5*time.Millisecond)

	closed := h.sys.tracker.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, position.ReasonStopLoss, closed[0].CloseReason)
	assert.Zero(t, h.sys.Status().DroppedPrices)
}

func TestRunRejectsSecondLoop(t *testing.T) {
	h := newHarness(t, testConfig(config.ModePaper))
	_, cancel, done := startLoop(t, h)

	err := h.sys.Run(context.Background(), nil)
	assert.EqualError(t, err, "trader: already running")

	cancel()
	waitStopped(t, done)
}

func TestRunSyncsLiveLedgerOnStart(t *testing.T) {
	h := newHarness(t, testConfig(config.ModeLive))
	h.fx.positions = []exchange.PositionInfo{{
		Symbol: "BTCUSDT", Side: types.DirectionShort, Amount: -1, EntryPrice: 100, MarkPrice: 99, Leverage: 3, UpdateTime: now0,
	}}
	_, cancel, done := startLoop(t, h)

	require.Eventually(t, func() bool { return h.sys.Status().LastSyncAt != nil }, time.Second, 5*time.Millisecond)
	st := h.sys.Status()
	assert.Equal(t, SyncResult{Added: 1}, st.LastSync)
	assert.Empty(t, st.LastSyncError)
	assert.Equal(t, 1, st.OpenPositions)
	assert.InDelta(t, 1000, st.Balance, 1e-9)

	require.NoError(t, h.sys.RequestSync(context.Background()))
	assert.False(t, h.sys.Status().LastSync.Changed())

	cancel()
	waitStopped(t, done)
}

type panickingOrders struct {
	*memOrders
}

func (p panickingOrders) CreateOrder(context.Context, store.OrderRecord) error {
	panic("disk on fire")
}

func TestHandleEventRecoversFromPanic(t *testing.T) {
	h := newHarness(t, testConfig(config.ModePaper))
	h.sys.orders = panickingOrders{newMemOrders()}

	reply := make(chan error, 1)
	h.sys.handleEvent(context.Background(), EventEnvelope{Type: EvtAnomaly, Anomaly: strongLong(), ReplyCh: reply})

	err, ok := <-reply
	require.True(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	_, ok = <-reply
	assert.False(t, ok, "reply channel is closed after the answer")

	reply = make(chan error, 1)
	h.sys.handleEvent(context.Background(), EventEnvelope{Type: "BOGUS", ReplyCh: reply})
	assert.NoError(t, <-reply)
}
