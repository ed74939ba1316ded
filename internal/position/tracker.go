// Package position keeps the in-memory ledger of positions. Every mutation
// goes through the Tracker; callers only ever receive copies.
package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"oitrader/internal/pkg/idgen"
	"oitrader/internal/pkg/trading"
	"oitrader/internal/types"
)

var (
	ErrNotFound          = errors.New("position not found")
	ErrPositionClosed    = errors.New("position already closed")
	ErrDuplicatePosition = errors.New("open position already tracked for symbol and side")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

const defaultMaxClosed = 1000

// Close reasons.
const (
	ReasonStopLoss     = "stop_loss"
	ReasonTakeProfit   = "take_profit"
	ReasonTimeout      = "timeout"
	ReasonManual       = "manual"
	ReasonExchangeSync = "exchange_close"
)

// OpenParams describes a freshly filled entry.
type OpenParams struct {
	SignalID     string
	Symbol       string
	Side         types.Direction
	EntryPrice   float64
	Quantity     float64
	Leverage     int
	StopLoss     float64
	TakeProfit   float64
	Commission   float64
	EntryOrderID string
	OpenedAt     time.Time
}

// Settlement is how a position ended: fill price, realized PnL on the
// quantity that was still open, and fees.
type Settlement struct {
	Price      float64
	PnL        float64
	Commission float64
	At         time.Time
}

// Trigger is a local stop or target crossed by the latest price.
type Trigger struct {
	ID     string
	Symbol string
	Reason string
	Price  float64
}

type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
	closed    []string
	ids       idgen.Generator
	posIDs    idgen.Generator
	now       func() time.Time
	maxClosed int
}

type Option func(*Tracker)

// WithIDs sets the generators for ledger ids and position ids.
func WithIDs(local, positionID idgen.Generator) Option {
	return func(t *Tracker) {
		if local != nil {
			t.ids = local
		}
		if positionID != nil {
			t.posIDs = positionID
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		positions: make(map[string]*types.Position),
		ids:       idgen.UUID{},
		posIDs:    idgen.UUID{},
		now:       time.Now,
		maxClosed: defaultMaxClosed,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open records a filled entry and assigns its ids.
func (t *Tracker) Open(p OpenParams) (types.Position, error) {
	if p.Quantity <= 0 || p.EntryPrice <= 0 {
		return types.Position{}, fmt.Errorf("open %s: %w (qty=%v entry=%v)", p.Symbol, ErrInvalidQuantity, p.Quantity, p.EntryPrice)
	}
	opened := p.OpenedAt
	if opened.IsZero() {
		opened = t.now()
	}
	pos := &types.Position{
		ID:              t.ids.NewID(),
		PositionID:      t.posIDs.NewID(),
		Symbol:          p.Symbol,
		Side:            p.Side,
		EntryPrice:      p.EntryPrice,
		CurrentPrice:    p.EntryPrice,
		Quantity:        p.Quantity,
		InitialQuantity: p.Quantity,
		Leverage:        p.Leverage,
		Margin:          trading.Margin(p.EntryPrice, p.Quantity, p.Leverage),
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		IsOpen:          true,
		Commission:      p.Commission,
		EntryOrderID:    p.EntryOrderID,
		SignalID:        p.SignalID,
		Source:          types.SourceSignal,
		OpenedAt:        opened.UTC(),
	}
	t.mu.Lock()
	t.positions[pos.ID] = pos
	t.mu.Unlock()
	return pos.Clone(), nil
}

// AddSynced adopts a position discovered on the exchange. Margin is always
// recomputed from entry, quantity and leverage.
func (t *Tracker) AddSynced(p types.Position) (types.Position, error) {
	if p.Quantity <= 0 || p.EntryPrice <= 0 {
		return types.Position{}, fmt.Errorf("sync %s: %w", p.Symbol, ErrInvalidQuantity)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing := t.findOpenLocked(p.Symbol, p.Side); existing != nil {
		return existing.Clone(), fmt.Errorf("%s %s: %w", p.Symbol, p.Side, ErrDuplicatePosition)
	}
	pos := p.Clone()
	pos.ID = t.ids.NewID()
	if pos.PositionID == "" {
		pos.PositionID = t.posIDs.NewID()
	}
	if pos.InitialQuantity < pos.Quantity {
		pos.InitialQuantity = pos.Quantity
	}
	if pos.CurrentPrice <= 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = t.now().UTC()
	}
	pos.Margin = trading.Margin(pos.EntryPrice, pos.Quantity, pos.Leverage)
	pos.IsOpen = true
	pos.ClosedAt = nil
	pos.Source = types.SourceSync
	revalue(&pos, pos.CurrentPrice)
	t.positions[pos.ID] = &pos
	return pos.Clone(), nil
}

// Update marks the position to price.
func (t *Tracker) Update(id string, price float64) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.openLocked(id)
	if err != nil {
		return types.Position{}, err
	}
	revalue(pos, price)
	return pos.Clone(), nil
}

// UpdateSymbol marks every open position on symbol to price and returns the
// updated copies.
func (t *Tracker) UpdateSymbol(symbol string, price float64) []types.Position {
	if price <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []types.Position
	for _, pos := range t.positions {
		if pos.IsOpen && pos.Symbol == symbol {
			revalue(pos, price)
			out = append(out, pos.Clone())
		}
	}
	sortByOpened(out)
	return out
}

// CheckStopTriggers returns the open positions whose stop or target has been
// crossed at their current price. Stops win when both are crossed.
func (t *Tracker) CheckStopTriggers() []Trigger {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Trigger
	for _, pos := range t.positions {
		if !pos.IsOpen || pos.CurrentPrice <= 0 {
			continue
		}
		long := pos.Side.IsLong()
		switch {
		case trading.StopHit(long, pos.CurrentPrice, pos.StopLoss):
			out = append(out, Trigger{ID: pos.ID, Symbol: pos.Symbol, Reason: ReasonStopLoss, Price: pos.CurrentPrice})
		case trading.TargetHit(long, pos.CurrentPrice, pos.TakeProfit):
			out = append(out, Trigger{ID: pos.ID, Symbol: pos.Symbol, Reason: ReasonTakeProfit, Price: pos.CurrentPrice})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close settles the remaining quantity at price using the ledger PnL
// formula. A second call returns ErrPositionClosed and changes nothing.
func (t *Tracker) Close(id string, price float64, reason string) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.openLocked(id)
	if err != nil {
		return types.Position{}, err
	}
	pnl := PnL(pos.Side, pos.EntryPrice, price, pos.Quantity, pos.Leverage)
	t.settleLocked(pos, Settlement{Price: price, PnL: pnl}, reason)
	return pos.Clone(), nil
}

// MarkClosed settles a position with figures taken from the exchange, used
// when a close happened outside the engine or was filled by a market order.
func (t *Tracker) MarkClosed(id string, s Settlement, reason string) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.openLocked(id)
	if err != nil {
		return types.Position{}, err
	}
	t.settleLocked(pos, s, reason)
	return pos.Clone(), nil
}

func (t *Tracker) settleLocked(pos *types.Position, s Settlement, reason string) {
	at := s.At
	if at.IsZero() {
		at = t.now()
	}
	at = at.UTC()
	if s.Price > 0 {
		pos.CurrentPrice = s.Price
		pos.ClosePrice = s.Price
	}
	pos.RealizedPnL += s.PnL
	pos.Commission += s.Commission
	pos.UnrealizedPnL = 0
	pos.UnrealizedPnLPercent = 0
	pos.IsOpen = false
	pos.ClosedAt = &at
	pos.CloseReason = reason
	t.closed = append(t.closed, pos.ID)
	t.pruneLocked()
}

// ApplyPartialClose records a take-profit execution and shrinks the
// position. The execution must leave a positive quantity.
func (t *Tracker) ApplyPartialClose(id string, exec types.TakeProfitExecution) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.openLocked(id)
	if err != nil {
		return types.Position{}, err
	}
	if exec.Quantity <= 0 || exec.Quantity >= pos.Quantity {
		return types.Position{}, fmt.Errorf("partial close %s of %v from %v: %w", pos.Symbol, exec.Quantity, pos.Quantity, ErrInvalidQuantity)
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = t.now().UTC()
	}
	exec.OrderIDs = append([]string(nil), exec.OrderIDs...)
	exec.TradeIDs = append([]int64(nil), exec.TradeIDs...)
	pos.TakeProfitExecutions = append(pos.TakeProfitExecutions, exec)
	pos.Quantity -= exec.Quantity
	pos.Margin = trading.Margin(pos.EntryPrice, pos.Quantity, pos.Leverage)
	pos.RealizedPnL += exec.PnL
	pos.Commission += exec.Commission
	revalue(pos, pos.CurrentPrice)
	return pos.Clone(), nil
}

func (t *Tracker) MarkBreakevenPlaced(id string, stop float64) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.openLocked(id)
	if err != nil {
		return types.Position{}, err
	}
	pos.BreakevenSLPlaced = true
	if stop > 0 {
		pos.StopLoss = stop
	}
	return pos.Clone(), nil
}

// ResetBreakeven clears the breakeven flag after the stop was cancelled.
func (t *Tracker) ResetBreakeven(id string) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.openLocked(id)
	if err != nil {
		return types.Position{}, err
	}
	pos.BreakevenSLPlaced = false
	return pos.Clone(), nil
}

func (t *Tracker) SetStopLoss(id string, stop float64) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.openLocked(id)
	if err != nil {
		return types.Position{}, err
	}
	pos.StopLoss = stop
	return pos.Clone(), nil
}

func (t *Tracker) AddCommission(id string, fee float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	pos.Commission += fee
	return nil
}

func (t *Tracker) Get(id string) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[id]
	if !ok {
		return types.Position{}, false
	}
	return pos.Clone(), true
}

// FindOpen returns the open position for symbol and side, if any.
func (t *Tracker) FindOpen(symbol string, side types.Direction) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pos := t.findOpenLocked(symbol, side); pos != nil {
		return pos.Clone(), true
	}
	return types.Position{}, false
}

// OpenPositions returns copies ordered by open time.
func (t *Tracker) OpenPositions() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.IsOpen {
			out = append(out, pos.Clone())
		}
	}
	sortByOpened(out)
	return out
}

// ClosedPositions returns copies, most recently closed first.
func (t *Tracker) ClosedPositions() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Position, 0, len(t.closed))
	for i := len(t.closed) - 1; i >= 0; i-- {
		if pos, ok := t.positions[t.closed[i]]; ok {
			out = append(out, pos.Clone())
		}
	}
	return out
}

// HasOpen reports whether any open position trades symbol.
func (t *Tracker) HasOpen(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, pos := range t.positions {
		if pos.IsOpen && pos.Symbol == symbol {
			return true
		}
	}
	return false
}

func (t *Tracker) CountOpen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, pos := range t.positions {
		if pos.IsOpen {
			n++
		}
	}
	return n
}

func (t *Tracker) openLocked(id string) (*types.Position, error) {
	pos, ok := t.positions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !pos.IsOpen {
		return nil, fmt.Errorf("%s %s: %w", pos.Symbol, id, ErrPositionClosed)
	}
	return pos, nil
}

func (t *Tracker) findOpenLocked(symbol string, side types.Direction) *types.Position {
	var found *types.Position
	for _, pos := range t.positions {
		if pos.IsOpen && pos.Symbol == symbol && pos.Side == side {
			if found == nil || pos.OpenedAt.Before(found.OpenedAt) {
				found = pos
			}
		}
	}
	return found
}

func (t *Tracker) pruneLocked() {
	if t.maxClosed <= 0 || len(t.closed) <= t.maxClosed {
		return
	}
	drop := len(t.closed) - t.maxClosed
	for _, id := range t.closed[:drop] {
		delete(t.positions, id)
	}
	t.closed = append([]string(nil), t.closed[drop:]...)
}

func revalue(pos *types.Position, price float64) {
	if price <= 0 {
		return
	}
	pos.CurrentPrice = price
	pos.UnrealizedPnL = PnL(pos.Side, pos.EntryPrice, price, pos.Quantity, pos.Leverage)
	pos.UnrealizedPnLPercent = PnLPercent(pos.UnrealizedPnL, pos.EntryPrice, pos.Quantity)
}

func sortByOpened(list []types.Position) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].OpenedAt.Equal(list[j].OpenedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].OpenedAt.Before(list[j].OpenedAt)
	})
}
