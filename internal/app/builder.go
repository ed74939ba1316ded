package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"oitrader/internal/config"
	"oitrader/internal/executor"
	"oitrader/internal/gateway/binance"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/gateway/notifier"
	"oitrader/internal/logger"
	"oitrader/internal/market"
	"oitrader/internal/metrics"
	"oitrader/internal/pkg/idgen"
	"oitrader/internal/position"
	"oitrader/internal/risk"
	"oitrader/internal/signal"
	"oitrader/internal/store/auditlog"
	"oitrader/internal/store/gormstore"
	"oitrader/internal/strategy"
	"oitrader/internal/trader"
	"oitrader/internal/types"
	livehttp "oitrader/internal/transport/http/live"
)

const anomalyQueueSize = 64

// Venue is everything the engine needs from one exchange connection.
type Venue interface {
	exchange.Client
	exchange.MarkPriceStream
	exchange.MarketData
}

type AppBuilder struct {
	cfg *config.Config

	venueFn    func(config.Config) (Venue, error)
	notifierFn func(config.NotifyConfig) (notifier.TextNotifier, error)
	now        func() time.Time
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		venueFn:    buildVenue,
		notifierFn: buildNotifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithVenue replaces the Binance connection, mostly for tests.
func WithVenue(fn func(config.Config) (Venue, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.venueFn = fn
		}
	}
}

func WithNotifier(fn func(config.NotifyConfig) (notifier.TextNotifier, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.notifierFn = fn
		}
	}
}

func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := *b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	mode := cfg.Trading.RunMode()

	app := &App{cfg: b.cfg, now: b.now}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	venue, err := b.venueFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init exchange: %w", err)
	}
	app.stream = venue

	text, err := b.notifierFn(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	app.notifier = text

	orders, err := gormstore.NewGormStore(cfg.Store.OrdersPath)
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}
	app.closers = append(app.closers, orders.Close)
	audit, err := auditlog.Open(cfg.Store.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	app.closers = append(app.closers, audit.Close)
	logger.Infof("✓ stores ready orders=%s audit=%s", cfg.Store.OrdersPath, cfg.Store.AuditPath)

	reg := metrics.New()
	app.metrics = reg

	// paper mode prices off the public stream but never reaches the account
	var client exchange.Client
	if mode != config.ModePaper {
		client = venue
		if bal, err := client.Balance(ctx); err != nil {
			logger.Warnf("binance balance check failed, continuing: %v", err)
		} else {
			logger.Infof("✓ binance account balance %.2f %s (available %.2f)", bal.Total, bal.Asset, bal.Available)
		}
	}
	exec, err := executor.New(executor.FromConfig(cfg), client,
		executor.WithNotifier(text),
		executor.WithMetrics(reg),
		executor.WithClock(b.now),
	)
	if err != nil {
		return nil, fmt.Errorf("init executor: %w", err)
	}

	var enricher *market.Enricher
	if cfg.Exchange.EnrichAnomalies {
		enricher = market.NewEnricher(venue, cfg.Exchange.RatioPeriod)
	}
	rm := risk.NewManager(cfg.Risk)
	rm.SetClock(b.now)

	sys, err := trader.New(trader.Deps{
		Config:    cfg,
		Generator: signal.NewGenerator(cfg.Strategy, idgen.UUID{}),
		Evaluator: strategy.NewEvaluator(cfg.Strategy),
		Risk:      rm,
		Executor:  exec,
		Tracker:   position.NewTracker(position.WithClock(b.now)),
		Client:    client,
		Enricher:  enricher,
		Orders:    orders,
		Audit:     audit,
		Metrics:   reg,
		Now:       b.now,
	})
	if err != nil {
		return nil, fmt.Errorf("init trading system: %w", err)
	}
	app.system = sys
	app.anomalies = make(chan types.AnomalyEvent, anomalyQueueSize)

	if cfg.HTTP.Enabled {
		srv, err := livehttp.NewServer(livehttp.ServerConfig{
			Addr:      cfg.HTTP.Addr,
			Engine:    sys,
			Positions: sys.Tracker(),
			Stats:     orders,
			Audit:     audit,
			Metrics:   reg.Handler(),
			Observer:  reg,
			Anomalies: app.anomalies,
			Now:       b.now,
		})
		if err != nil {
			return nil, fmt.Errorf("init http server: %w", err)
		}
		app.http = srv
		logger.Infof("✓ HTTP surface configured on %s", srv.Addr())
	}

	app.Summary = newStartupSummary(cfg)
	ok = true
	return app, nil
}

func buildVenue(cfg config.Config) (Venue, error) {
	mode := cfg.Trading.RunMode()
	client, err := binance.New(binance.Config{
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		Testnet:           mode == config.ModeTestnet,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ binance futures client ready mode=%s testnet=%v", mode, mode == config.ModeTestnet)
	return client, nil
}

func buildNotifier(cfg config.NotifyConfig) (notifier.TextNotifier, error) {
	if !cfg.Telegram.Enabled {
		return notifier.Noop{}, nil
	}
	tg, err := notifier.NewTelegram(strings.TrimSpace(cfg.Telegram.BotToken), cfg.Telegram.ChatID)
	if err != nil {
		return nil, err
	}
	return tg, nil
}
