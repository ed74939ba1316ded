// Package circuit implements the failure-count breaker used to pause new
// entries after a run of losing trades.
package circuit

import (
	"sync"
	"time"

	"oitrader/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"CLOSED", "OPEN", "HALF-OPEN"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Snapshot is a consistent read of the breaker.
type Snapshot struct {
	State    State
	Failures int
	// OpenUntil is set while the breaker is open.
	OpenUntil time.Time
}

func (s Snapshot) Open() bool { return s.State == StateOpen }

type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// OnChange is called synchronously, under the breaker lock, on every state
// transition. It must not call back into the breaker.
func OnChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker opens after threshold consecutive failures and rejects for
// cooldown. The first Allow after the cooldown half-opens it: a success
// closes it, a failure re-opens it for another cooldown.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.onChange == nil {
		b.onChange = func(name string, from, to State) {
			logger.Warnf("[circuit] %s %s -> %s", name, from, to)
		}
	}
	return b
}

// SetClock swaps the time source after construction.
func (b *Breaker) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	if b.now().Sub(b.openedAt) <= b.cooldown {
		return false
	}
	b.move(StateHalfOpen)
	return true
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.move(StateClosed)
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.threshold) {
		b.openedAt = b.now()
		b.move(StateOpen)
	}
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{State: b.state, Failures: b.failures}
	if b.state == StateOpen {
		s.OpenUntil = b.openedAt.Add(b.cooldown)
	}
	return s
}

func (b *Breaker) move(to State) {
	from := b.state
	b.state = to
	b.onChange(b.name, from, to)
}
