// Package risk sizes new positions and pauses trading after losses.
package risk

import (
	"fmt"
	"sync"
	"time"

	"oitrader/internal/config"
	"oitrader/internal/logger"
	"oitrader/internal/pkg/circuit"
	"oitrader/internal/pkg/trading"
	"oitrader/internal/signal"
	"oitrader/internal/types"
)

// Denial categories.
const (
	CategoryPaused        = "paused"
	CategoryDailyLoss     = "daily_loss_limit"
	CategoryMaxPositions  = "max_positions"
	CategorySymbolLimit   = "max_positions_per_symbol"
	CategoryInsufficient  = "insufficient_balance"
	CategoryInvalidSignal = "invalid_signal"
)

// Decision is the outcome of CanOpenPosition. Size is the margin in USDT.
type Decision struct {
	Allowed  bool    `json:"allowed"`
	Size     float64 `json:"size"`
	Leverage int     `json:"leverage"`
	Category string  `json:"category,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Rejection converts a denied decision to the pipeline rejection value.
func (d Decision) Rejection() *types.Rejection {
	if d.Allowed {
		return nil
	}
	return &types.Rejection{Stage: types.StageRisk, Category: d.Category, Reason: d.Reason}
}

// Status is a point-in-time view of the risk state.
type Status struct {
	Paused            bool       `json:"paused"`
	PauseReason       string     `json:"pause_reason,omitempty"`
	PausedUntil       *time.Time `json:"paused_until,omitempty"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	Day               string     `json:"day"`
	DailyPnL          float64    `json:"daily_pnl"`
	DailyTrades       int        `json:"daily_trades"`
	DailyWins         int        `json:"daily_wins"`
}

// Manager holds process-wide risk state behind a mutex so concurrent
// evaluations always see a consistent snapshot.
type Manager struct {
	mu      sync.Mutex
	cfg     config.RiskConfig
	breaker *circuit.Breaker
	now     func() time.Time

	day         string
	dailyPnL    float64
	dailyTrades int
	dailyWins   int
}

func NewManager(cfg config.RiskConfig) *Manager {
	pause := time.Duration(cfg.ConsecutiveLossPauseMinutes) * time.Minute
	m := &Manager{
		cfg:     cfg,
		now:     time.Now,
	}
	m.breaker = circuit.New("consecutive-losses", cfg.MaxConsecutiveLosses, pause,
		circuit.OnChange(func(name string, from, to circuit.State) {
			logger.Warnf("[risk] %s breaker %s -> %s", name, from, to)
		}))
	m.day = dayKey(m.now())
	return m
}

// SetClock replaces the time source for the manager and its breaker.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		return
	}
	m.now = now
	m.day = dayKey(now())
	m.breaker.SetClock(now)
}

// CanOpenPosition checks the pause state, position limits and balance and
// sizes the position by signal strength.
func (m *Manager) CanOpenPosition(sig *types.TradingSignal, open []types.Position, balance float64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if sig == nil || sig.Direction == types.DirectionNeutral {
		return deny(CategoryInvalidSignal, "signal has no direction")
	}
	if !m.breaker.Allow() {
		snap := m.breaker.Snapshot()
		return deny(CategoryPaused, "paused after %d consecutive losses until %s",
			snap.Failures, snap.OpenUntil.UTC().Format(time.RFC3339))
	}
	if limit := m.cfg.DailyLossLimitUSDT; limit > 0 && -m.dailyPnL >= limit {
		return deny(CategoryDailyLoss, "daily loss %.2f reached limit %.2f", -m.dailyPnL, limit)
	}
	if len(open) >= m.cfg.MaxPositions {
		return deny(CategoryMaxPositions, "%d open positions, limit %d", len(open), m.cfg.MaxPositions)
	}
	same := 0
	for _, p := range open {
		if p.Symbol == sig.Symbol && p.Side == sig.Direction {
			same++
		}
	}
	if same >= m.cfg.MaxPositionsPerSymbol {
		return deny(CategorySymbolLimit, "%s %s already has %d open position(s)", sig.Symbol, sig.Direction, same)
	}

	size := balance * m.cfg.PositionSizePct * strengthMultiplier(sig.Strength)
	if balance <= 0 || size > balance {
		return deny(CategoryInsufficient, "balance %.2f cannot cover margin %.2f", balance, size)
	}
	if size < m.cfg.MinPositionUSDT {
		return deny(CategoryInsufficient, "margin %.2f below minimum %.2f", size, m.cfg.MinPositionUSDT)
	}

	return Decision{
		Allowed:  true,
		Size:     size,
		Leverage: m.leverageFor(sig.Strength),
	}
}

// CalculateStopLossTakeProfit uses the signal's suggestion when present.
func (m *Manager) CalculateStopLossTakeProfit(sig *types.TradingSignal) (stop, target float64) {
	if sig.StopLoss > 0 && sig.TakeProfit > 0 {
		return sig.StopLoss, sig.TakeProfit
	}
	return signal.SuggestedStops(sig.EntryPrice, sig.Direction, sig.Strength)
}

// UpdateTrailingStop returns a tighter stop once price has moved into
// profit. It never loosens the existing stop.
func (m *Manager) UpdateTrailingStop(pos types.Position, price float64) (float64, bool) {
	pct := m.cfg.TrailingStopPercent / 100
	if pct <= 0 || price <= 0 || !pos.IsOpen {
		return 0, false
	}
	long := pos.Side.IsLong()
	if !trading.TargetHit(long, price, pos.EntryPrice) || price == pos.EntryPrice {
		return 0, false
	}
	candidate := trading.TrailingStopFor(long, price, pct)
	if !trading.Tightens(long, candidate, pos.StopLoss) {
		return 0, false
	}
	return candidate, true
}

// RecordTradeResult feeds a closed trade into the daily and streak counters.
func (m *Manager) RecordTradeResult(pnl float64, win bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	m.dailyPnL += pnl
	m.dailyTrades++
	if win {
		m.dailyWins++
		m.breaker.Success()
		return
	}
	m.breaker.Failure()
	if limit := m.cfg.DailyLossLimitUSDT; limit > 0 && -m.dailyPnL >= limit {
		logger.Warnf("[risk] daily loss %.2f reached limit %.2f, entries paused until UTC midnight", -m.dailyPnL, limit)
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	snap := m.breaker.Snapshot()
	st := Status{
		ConsecutiveLosses: snap.Failures,
		Day:               m.day,
		DailyPnL:          m.dailyPnL,
		DailyTrades:       m.dailyTrades,
		DailyWins:         m.dailyWins,
	}
	if snap.Open() && m.now().Before(snap.OpenUntil) {
		until := snap.OpenUntil
		st.Paused = true
		st.PauseReason = CategoryPaused
		st.PausedUntil = &until
	} else if limit := m.cfg.DailyLossLimitUSDT; limit > 0 && -m.dailyPnL >= limit {
		st.Paused = true
		st.PauseReason = CategoryDailyLoss
	}
	return st
}

func (m *Manager) rollover() {
	today := dayKey(m.now())
	if today == m.day {
		return
	}
	if m.dailyTrades > 0 {
		logger.Infof("[risk] day %s closed: pnl=%.2f trades=%d wins=%d", m.day, m.dailyPnL, m.dailyTrades, m.dailyWins)
	}
	m.day = today
	m.dailyPnL = 0
	m.dailyTrades = 0
	m.dailyWins = 0
}

func (m *Manager) leverageFor(s types.Strength) int {
	lev := m.cfg.Leverage.Weak
	switch s {
	case types.StrengthStrong:
		lev = m.cfg.Leverage.Strong
	case types.StrengthMedium:
		lev = m.cfg.Leverage.Medium
	}
	if lev < 1 {
		lev = 1
	}
	if m.cfg.MaxLeverage > 0 && lev > m.cfg.MaxLeverage {
		lev = m.cfg.MaxLeverage
	}
	return lev
}

func strengthMultiplier(s types.Strength) float64 {
	switch s {
	case types.StrengthStrong:
		return 1.0
	case types.StrengthMedium:
		return 0.75
	default:
		return 0.5
	}
}

func deny(category, format string, args ...any) Decision {
	return Decision{Category: category, Reason: fmt.Sprintf(format, args...)}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
