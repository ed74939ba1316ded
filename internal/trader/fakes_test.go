package trader

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oitrader/internal/config"
	"oitrader/internal/executor"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/pkg/idgen"
	"oitrader/internal/position"
	"oitrader/internal/risk"
	"oitrader/internal/signal"
	"oitrader/internal/store"
	"oitrader/internal/store/auditlog"
	"oitrader/internal/strategy"
	"oitrader/internal/types"
)

var now0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeExchange is a small in-memory venue that records every call in order.
type fakeExchange struct {
	mu         sync.Mutex
	calls      []string
	positions  []exchange.PositionInfo
	trades     []exchange.Trade
	income     []exchange.Income
	openOrders map[string][]exchange.OrderInfo
	placed     []exchange.OrderRequest
	balance    float64
	fillPrice  float64
	cancelErr  error
	nextID     int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{openOrders: make(map[string][]exchange.OrderInfo), balance: 1000}
}

func (f *fakeExchange) record(call string) {
	f.calls = append(f.calls, call)
}

// indexOf returns the position of the first call named c, or -1.
func (f *fakeExchange) indexOf(c string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, call := range f.calls {
		if call == c {
			return i
		}
	}
	return -1
}

func (f *fakeExchange) SetMarginType(_ context.Context, symbol string, _ exchange.MarginType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("margin:" + symbol)
	return nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("leverage:" + symbol)
	return nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("place:" + string(req.Type))
	f.placed = append(f.placed, req)
	f.nextID++
	qty, _ := strconv.ParseFloat(req.Quantity, 64)
	stop, _ := strconv.ParseFloat(req.StopPrice, 64)
	info := exchange.OrderInfo{
		OrderID:    "x" + strconv.Itoa(f.nextID),
		Symbol:     req.Symbol,
		Type:       req.Type,
		Side:       req.Side,
		Status:     "NEW",
		OrigQty:    qty,
		StopPrice:  stop,
		ReduceOnly: req.ReduceOnly,
		UpdateTime: now0,
	}
	if req.Type == types.OrderTypeMarket {
		info.Status = "FILLED"
		info.ExecutedQty = qty
		info.AvgPrice = f.fillPrice
		return info, nil
	}
	f.openOrders[req.Symbol] = append(f.openOrders[req.Symbol], info)
	return info, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel:" + orderID)
	kept := f.openOrders[symbol][:0]
	for _, o := range f.openOrders[symbol] {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	f.openOrders[symbol] = kept
	return nil
}

func (f *fakeExchange) CancelAllOpenOrders(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel_all:" + symbol)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	delete(f.openOrders, symbol)
	return nil
}

func (f *fakeExchange) ListOpenOrders(_ context.Context, symbol string) ([]exchange.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("open_orders:" + symbol)
	return append([]exchange.OrderInfo(nil), f.openOrders[symbol]...), nil
}

func (f *fakeExchange) Positions(context.Context) ([]exchange.PositionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("positions")
	return append([]exchange.PositionInfo(nil), f.positions...), nil
}

func (f *fakeExchange) Balance(context.Context) (exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return exchange.Balance{Asset: "USDT", Total: f.balance, Available: f.balance}, nil
}

func (f *fakeExchange) Trades(_ context.Context, q exchange.TradeQuery) ([]exchange.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("trades:" + q.Symbol)
	var out []exchange.Trade
	for _, t := range f.trades {
		if t.Symbol != q.Symbol {
			continue
		}
		if !q.StartTime.IsZero() && t.Time.Before(q.StartTime) {
			continue
		}
		if q.FromID > 0 && t.ID < q.FromID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeExchange) Income(_ context.Context, q exchange.IncomeQuery) ([]exchange.Income, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("income:" + q.Symbol)
	return append([]exchange.Income(nil), f.income...), nil
}

func (f *fakeExchange) SymbolPrecision(_ context.Context, symbol string) (exchange.SymbolPrecision, error) {
	return exchange.SymbolPrecision{
		Symbol:            symbol,
		QuantityPrecision: 3,
		PricePrecision:    2,
		StepSize:          0.001,
		TickSize:          0.01,
		MinNotional:       5,
	}, nil
}

type memOrders struct {
	mu      sync.Mutex
	records map[string]store.OrderRecord
	order   []string
}

func newMemOrders() *memOrders {
	return &memOrders{records: make(map[string]store.OrderRecord)}
}

func (m *memOrders) CreateOrder(_ context.Context, rec store.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.OrderID]; !ok {
		m.order = append(m.order, rec.OrderID)
	}
	m.records[rec.OrderID] = rec
	return nil
}

func (m *memOrders) FindExistingOrderIDs(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memOrders) UpdatePositionID(_ context.Context, orderID, positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[orderID]
	rec.PositionID = positionID
	m.records[orderID] = rec
	return nil
}

func (m *memOrders) GetStatistics(context.Context, string, time.Time) (store.Statistics, error) {
	return store.Statistics{}, nil
}

func (m *memOrders) byPurpose(purpose string) []store.OrderRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OrderRecord
	for _, id := range m.order {
		if rec := m.records[id]; rec.Purpose == purpose {
			out = append(out, rec)
		}
	}
	return out
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (m *memAudit) Append(_ context.Context, e auditlog.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return int64(len(m.entries)), nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

func testConfig(mode config.Mode) config.Config {
	return config.Config{
		Strategy: config.StrategyConfig{
			Enabled:                 true,
			Type:                    string(strategy.TypeBreakout),
			MinSignalScore:          5,
			MinConfidence:           0.6,
			MinOIChangePercent:      3,
			RequirePriceOIAlignment: true,
			DivergenceThreshold:     10,
			UseSentimentFilter:      true,
			MinTraderRatio:          1.2,
			ChaseHighThreshold:      10,
			GeneratorMinScore:       4,
		},
		Risk: config.RiskConfig{
			MaxPositions:                5,
			MaxPositionsPerSymbol:       1,
			PositionSizePct:             0.05,
			MinPositionUSDT:             5,
			MaxLeverage:                 20,
			Leverage:                    config.LeverageTiers{Weak: 3, Medium: 5, Strong: 8},
			MaxConsecutiveLosses:        3,
			ConsecutiveLossPauseMinutes: 60,
			TrailingStopPercent:         2,
			BreakevenTriggerPercent:     5,
			BreakevenFeeBuffer:          0.0015,
		},
		Trading: config.TradingConfig{
			Mode:                  string(mode),
			AllowedDirections:     []string{"LONG", "SHORT"},
			MaxHoldingTimeMinutes: 240,
			InitialBalance:        1000,
			SyncIntervalSeconds:   15,
			CancelMaxRetries:      2,
		},
	}
}

type harness struct {
	sys    *TradingSystem
	fx     *fakeExchange
	orders *memOrders
	audit  *memAudit
	clock  *time.Time
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	h := &harness{orders: newMemOrders(), audit: &memAudit{}}
	now := now0
	h.clock = &now
	clock := func() time.Time { return *h.clock }

	mode := cfg.Trading.RunMode()
	var client exchange.Client
	if mode != config.ModePaper {
		h.fx = newFakeExchange()
		client = h.fx
	}
	exec, err := executor.New(executor.Config{
		Mode:              mode,
		TakeProfitTargets: cfg.Risk.TakeProfitTargets,
		CancelMaxRetries:  cfg.Trading.CancelMaxRetries,
	}, client,
		executor.WithIDGenerator(idgen.NewSequence("ord")),
		executor.WithClock(clock),
		executor.WithSleep(noSleep),
	)
	require.NoError(t, err)

	rm := risk.NewManager(cfg.Risk)
	rm.SetClock(clock)
	sys, err := New(Deps{
		Config:    cfg,
		Generator: signal.NewGenerator(cfg.Strategy, idgen.NewSequence("sig")),
		Evaluator: strategy.NewEvaluator(cfg.Strategy),
		Risk:      rm,
		Executor:  exec,
		Tracker: position.NewTracker(
			position.WithIDs(idgen.NewSequence("pos"), idgen.NewSequence("life")),
			position.WithClock(clock),
		),
		Client: client,
		Orders: h.orders,
		Audit:  h.audit,
		Now:    clock,
	})
	require.NoError(t, err)
	h.sys = sys
	return h
}

// openLocal puts a position straight into the ledger, as if the engine had
// opened it earlier.
func (h *harness) openLocal(t *testing.T, side types.Direction, qty, entry float64, lev int, opened time.Time) types.Position {
	t.Helper()
	pos, err := h.sys.tracker.Open(position.OpenParams{
		Symbol:     "BTCUSDT",
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		Leverage:   lev,
		OpenedAt:   opened,
	})
	require.NoError(t, err)
	return pos
}
