// Package executor turns sized signals into exchange orders: precision
// normalization, isolated-margin entry with take-profit ladder, guarded
// cancellation, market close and breakeven stops. In paper mode nothing
// leaves the process.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"oitrader/internal/config"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/gateway/notifier"
	"oitrader/internal/logger"
	"oitrader/internal/metrics"
	"oitrader/internal/pkg/idgen"
	"oitrader/internal/pkg/symbol"
)

const (
	defaultSettleDelay      = time.Second
	defaultCancelRetries    = 5
	defaultCancelRetryDelay = 500 * time.Millisecond
	paperTakerFee           = 0.0004
)

// paperPrecision is used when no venue is consulted.
var paperPrecision = exchange.SymbolPrecision{
	QuantityPrecision: 3,
	PricePrecision:    -1,
	StepSize:          0.001,
	MinNotional:       5,
}

type Config struct {
	Mode              config.Mode
	TakeProfitTargets []config.TakeProfitTarget
	SettleDelay       time.Duration
	CancelMaxRetries  int
	CancelRetryDelay  time.Duration
}

// FromConfig maps the loaded configuration onto executor settings.
func FromConfig(cfg config.Config) Config {
	return Config{
		Mode:              cfg.Trading.RunMode(),
		TakeProfitTargets: cfg.Risk.TakeProfitTargets,
		SettleDelay:       time.Duration(cfg.Exchange.SettleDelayMS) * time.Millisecond,
		CancelMaxRetries:  cfg.Trading.CancelMaxRetries,
	}
}

type Executor struct {
	cfg      Config
	client   exchange.Client
	ids      idgen.Generator
	notifier notifier.TextNotifier
	metrics  *metrics.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	precMu    sync.RWMutex
	precCache map[string]exchange.SymbolPrecision
	precGroup singleflight.Group
}

type Option func(*Executor)

func WithIDGenerator(g idgen.Generator) Option {
	return func(e *Executor) {
		if g != nil {
			e.ids = g
		}
	}
}

func WithNotifier(n notifier.TextNotifier) Option {
	return func(e *Executor) {
		if n != nil {
			e.notifier = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleep replaces the settle and retry waits; tests pass a no-op.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New builds an executor. client may be nil only in paper mode.
func New(cfg Config, client exchange.Client, opts ...Option) (*Executor, error) {
	if cfg.Mode == "" {
		cfg.Mode = config.ModePaper
	}
	if cfg.Mode != config.ModePaper && client == nil {
		return nil, fmt.Errorf("executor: %s mode requires an exchange client", cfg.Mode)
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.CancelMaxRetries <= 0 {
		cfg.CancelMaxRetries = defaultCancelRetries
	}
	if cfg.CancelRetryDelay <= 0 {
		cfg.CancelRetryDelay = defaultCancelRetryDelay
	}
	e := &Executor{
		cfg:       cfg,
		client:    client,
		ids:       idgen.UUID{},
		notifier:  notifier.Noop{},
		now:       time.Now,
		sleep:     sleepContext,
		precCache: make(map[string]exchange.SymbolPrecision),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Executor) Mode() config.Mode { return e.cfg.Mode }

func (e *Executor) paper() bool { return e.cfg.Mode == config.ModePaper }

// Precision returns the cached trading filters for sym. Concurrent misses for
// the same symbol share one exchange lookup.
func (e *Executor) Precision(ctx context.Context, sym string) (exchange.SymbolPrecision, error) {
	sym = symbol.Normalize(sym)
	if e.paper() {
		p := paperPrecision
		p.Symbol = sym
		return p, nil
	}
	e.precMu.RLock()
	p, ok := e.precCache[sym]
	e.precMu.RUnlock()
	if ok {
		return p, nil
	}
	v, err, _ := e.precGroup.Do(sym, func() (any, error) {
		e.precMu.RLock()
		cached, ok := e.precCache[sym]
		e.precMu.RUnlock()
		if ok {
			return cached, nil
		}
		p, err := e.client.SymbolPrecision(ctx, sym)
		if err != nil {
			return exchange.SymbolPrecision{}, err
		}
		e.precMu.Lock()
		e.precCache[sym] = p
		e.precMu.Unlock()
		return p, nil
	})
	if err != nil {
		return exchange.SymbolPrecision{}, fmt.Errorf("precision %s: %w", sym, err)
	}
	return v.(exchange.SymbolPrecision), nil
}

// classify turns venue rejections into *OrderError and leaves transport
// failures wrapped as they are.
func classify(sym, op string, err error) error {
	if errors.Is(err, exchange.ErrRejected) {
		return &OrderError{Symbol: sym, Op: op, Reason: "rejected", Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, sym, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) logf(format string, args ...any) {
	logger.Infof("[executor] "+format, args...)
}
