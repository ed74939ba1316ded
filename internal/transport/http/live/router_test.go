package livehttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"oitrader/internal/position"
	"oitrader/internal/store"
	"oitrader/internal/store/auditlog"
	"oitrader/internal/trader"
	"oitrader/internal/types"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Status() trader.Status {
	return trader.Status{Mode: "paper", Running: true, OpenPositions: 1}
}

func (m *mockEngine) RequestClose(ctx context.Context, id, reason string) error {
	args := m.Called(id, reason)
	return args.Error(0)
}

type stubPositions struct {
	open   []types.Position
	closed []types.Position
}

func (s stubPositions) OpenPositions() []types.Position   { return append([]types.Position(nil), s.open...) }
func (s stubPositions) ClosedPositions() []types.Position { return append([]types.Position(nil), s.closed...) }

type mockStats struct {
	mock.Mock
}

func (m *mockStats) OrdersForPosition(_ context.Context, id string) ([]store.OrderRecord, error) {
	args := m.Called(id)
	return args.Get(0).([]store.OrderRecord), args.Error(1)
}

func (m *mockStats) GetStatistics(_ context.Context, mode string, since time.Time) (store.Statistics, error) {
	args := m.Called(mode, since)
	return args.Get(0).(store.Statistics), args.Error(1)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Recent(_ context.Context, q auditlog.Query) ([]auditlog.Entry, error) {
	args := m.Called(q)
	return args.Get(0).([]auditlog.Entry), args.Error(1)
}

func (m *mockAudit) Counts(_ context.Context, since time.Time) (map[string]int, error) {
	args := m.Called(since)
	return args.Get(0).(map[string]int), args.Error(1)
}

type fixture struct {
	srv       *Server
	engine    *mockEngine
	stats     *mockStats
	audit     *mockAudit
	anomalies chan types.AnomalyEvent
	observer  *recordingObserver
}

type observed struct {
	route string
	code  int
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observed
}

func (o *recordingObserver) ObserveHTTP(_, route string, code int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observed{route, code})
}

func newFixture(t *testing.T, queue int) *fixture {
	t.Helper()
	f := &fixture{
		engine:    &mockEngine{},
		stats:     &mockStats{},
		audit:     &mockAudit{},
		anomalies: make(chan types.AnomalyEvent, queue),
		observer:  &recordingObserver{},
	}
	srv, err := NewServer(ServerConfig{
		Engine: f.engine,
		Positions: stubPositions{
			open: []types.Position{
				{ID: "p1", Symbol: "BTCUSDT", Side: types.DirectionLong, IsOpen: true},
				{ID: "p2", Symbol: "ETHUSDT", Side: types.DirectionShort, IsOpen: true},
			},
			closed: []types.Position{{ID: "c3"}, {ID: "c2"}, {ID: "c1"}},
		},
		Stats:     f.stats,
		Audit:     f.audit,
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "oitrader_up 1\n") }),
		Observer:  f.observer,
		Anomalies: f.anomalies,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	f.srv = srv
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, 1)

	rec := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	assert.Equal(t, "paper", gjson.Get(rec.Body.String(), "mode").String())

	rec = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "oitrader_up 1")

	rec = f.do(http.MethodGet, "/api/live/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "running").Bool())
	assert.EqualValues(t, 1, gjson.Get(rec.Body.String(), "open_positions").Int())
}

func TestPositionsFilterAndLimit(t *testing.T) {
	f := newFixture(t, 1)

	rec := f.do(http.MethodGet, "/api/live/positions?symbol=eth/usdt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, gjson.Get(rec.Body.String(), "count").Int())
	assert.Equal(t, "p2", gjson.Get(rec.Body.String(), "positions.0.id").String())

	rec = f.do(http.MethodGet, "/api/live/positions/closed?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, gjson.Get(rec.Body.String(), "count").Int())
	assert.Equal(t, "c3", gjson.Get(rec.Body.String(), "positions.0.id").String())

	rec = f.do(http.MethodGet, "/api/live/positions/closed?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClosePositionMapsErrors(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.On("RequestClose", "p1", "manual").Return(nil).Once()
	f.engine.On("RequestClose", "p1", "risk_off").Return(nil).Once()
	f.engine.On("RequestClose", "gone", "manual").Return(fmt.Errorf("gone: %w", position.ErrNotFound)).Once()
	f.engine.On("RequestClose", "old", "manual").Return(fmt.Errorf("BTCUSDT old: %w", position.ErrPositionClosed)).Once()
	f.engine.On("RequestClose", "late", "manual").Return(trader.ErrStopped).Once()
	f.engine.On("RequestClose", "bad", "manual").Return(fmt.Errorf("binance: -2019 margin is insufficient")).Once()

	cases := []struct {
		id   string
		body string
		code int
	}{
		{"p1", "", http.StatusOK},
		{"p1", `{"reason":"risk_off"}`, http.StatusOK},
		{"gone", "", http.StatusNotFound},
		{"old", "", http.StatusConflict},
		{"late", "", http.StatusServiceUnavailable},
		{"bad", "", http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := f.do(http.MethodPost, "/api/live/positions/"+tc.id+"/close", tc.body)
		assert.Equal(t, tc.code, rec.Code, tc.id)
	}
	f.engine.AssertExpectations(t)

	rec := f.do(http.MethodPost, "/api/live/positions/p1/close", `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	require.Len(t, f.observer.seen, len(cases)+1)
	assert.Equal(t, observed{"/api/live/positions/:id/close", http.StatusBadGateway}, f.observer.seen[5])
}

func TestStatsAndAudit(t *testing.T) {
	f := newFixture(t, 1)
	f.stats.On("GetStatistics", "paper", testNow.Add(-24*time.Hour)).
		Return(store.Statistics{TotalTrades: 4, WinningTrades: 3, WinRate: 75}, nil).Once()
	f.audit.On("Recent", auditlog.Query{Symbol: "BTCUSDT", Action: "RISK_REJECTED", Limit: 10}).
		Return([]auditlog.Entry{{ID: 7, Symbol: "BTCUSDT", Action: "RISK_REJECTED"}}, nil).Once()
	f.audit.On("Counts", time.Time{}).Return(map[string]int{"NO_SIGNAL": 5}, nil).Once()
	f.stats.On("OrdersForPosition", "p1").
		Return([]store.OrderRecord{{OrderID: "11", PositionID: "p1"}, {OrderID: "12", PositionID: "p1", ReduceOnly: true}}, nil).Once()
	f.stats.On("OrdersForPosition", "nope").Return([]store.OrderRecord{}, nil).Once()

	rec := f.do(http.MethodGet, "/api/live/stats?since=24h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 75, gjson.Get(rec.Body.String(), "stats.win_rate").Float())

	rec = f.do(http.MethodGet, "/api/live/audit?symbol=btc-usdt&action=risk_rejected&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, gjson.Get(rec.Body.String(), "entries.0.id").Int())

	rec = f.do(http.MethodGet, "/api/live/audit/counts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, gjson.Get(rec.Body.String(), "counts.NO_SIGNAL").Int())

	rec = f.do(http.MethodGet, "/api/live/audit/counts?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/live/positions/p1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, gjson.Get(rec.Body.String(), "count").Int())
	rec = f.do(http.MethodGet, "/api/live/positions/nope/orders", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.stats.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestPostAnomalyQueuesEvent(t *testing.T) {
	f := newFixture(t, 4)
	body := `{
		"symbol": "btc/usdt",
		"window": "15m",
		"oi_change_percent": 4.2,
		"price_before": 100,
		"price_after": 102,
		"severity": "HIGH",
		"top_trader_ratio": 1.6,
		"funding_rate": null,
		"detected_at": "2024-05-01T11:59:00Z"
	}`

	rec := f.do(http.MethodPost, "/api/live/anomalies", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, gjson.Get(rec.Body.String(), "accepted").Int())

	ev := <-f.anomalies
	assert.Equal(t, "BTCUSDT", ev.Symbol)
	assert.Equal(t, "15m", ev.Window)
	assert.InDelta(t, 4.2, ev.OIChangePercent, 1e-9)
	assert.Equal(t, types.SeverityHigh, ev.Severity)
	require.NotNil(t, ev.TopTraderRatio)
	assert.InDelta(t, 1.6, *ev.TopTraderRatio, 1e-9)
	assert.Nil(t, ev.FundingRate)
	assert.Nil(t, ev.GlobalRatio)
	assert.Equal(t, testNow.Add(-time.Minute), ev.DetectedAt)
}

func TestPostAnomalyBatch(t *testing.T) {
	f := newFixture(t, 4)
	body := `[
		{"symbol":"ETHUSDT","oi_change_percent":-5,"price_before":3000,"price_after":2950},
		{"symbol":"SOLUSDT","oi_change_percent":6,"price_before":150,"price_after":152,"detected_at":1714564800000}
	]`

	rec := f.do(http.MethodPost, "/api/live/anomalies", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	first := <-f.anomalies
	assert.Equal(t, "ETHUSDT", first.Symbol)
	assert.Equal(t, types.SeverityMedium, first.Severity)
	assert.Equal(t, testNow, first.DetectedAt)

	second := <-f.anomalies
	assert.Equal(t, "SOLUSDT", second.Symbol)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), second.DetectedAt)
}

func TestPostAnomalyRejectsInvalidBodies(t *testing.T) {
	f := newFixture(t, 4)
	bodies := map[string]string{
		"not json":         `{"symbol":`,
		"missing price":    `{"symbol":"BTCUSDT","oi_change_percent":3}`,
		"negative price":   `{"symbol":"BTCUSDT","oi_change_percent":3,"price_before":-1,"price_after":2}`,
		"unknown severity": `{"symbol":"BTCUSDT","oi_change_percent":3,"price_before":1,"price_after":2,"severity":"extreme"}`,
		"empty batch":      `[]`,
		"bad timestamp":    `{"symbol":"BTCUSDT","oi_change_percent":3,"price_before":1,"price_after":2,"detected_at":"noon"}`,
		"negative ratio":   `{"symbol":"BTCUSDT","oi_change_percent":3,"price_before":1,"price_after":2,"global_ratio":-1}`,
		"unknown quote":    `{"symbol":"BTCEUR","oi_change_percent":3,"price_before":1,"price_after":2}`,
	}
	for name, body := range bodies {
		rec := f.do(http.MethodPost, "/api/live/anomalies", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Empty(t, f.anomalies)
}

func TestPostAnomalyQueueFull(t *testing.T) {
	f := newFixture(t, 1)
	body := `[
		{"symbol":"ETHUSDT","oi_change_percent":-5,"price_before":3000,"price_after":2950},
		{"symbol":"SOLUSDT","oi_change_percent":6,"price_before":150,"price_after":152}
	]`

	rec := f.do(http.MethodPost, "/api/live/anomalies", body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.EqualValues(t, 1, gjson.Get(rec.Body.String(), "accepted").Int())
	assert.Len(t, f.anomalies, 1)
}
