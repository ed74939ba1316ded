package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"oitrader/internal/config"
	"oitrader/internal/gateway/exchange"
	"oitrader/internal/gateway/notifier"
	"oitrader/internal/logger"
	"oitrader/internal/metrics"
	"oitrader/internal/trader"
	livehttp "oitrader/internal/transport/http/live"
	"oitrader/internal/types"
)

const startupNoticeTimeout = 30 * time.Second

// App owns the engine, its stores and its inbound adapters for one run.
type App struct {
	cfg       *config.Config
	system    *trader.TradingSystem
	http      *livehttp.Server
	stream    exchange.MarkPriceStream
	notifier  notifier.TextNotifier
	metrics   *metrics.Metrics
	anomalies chan types.AnomalyEvent
	closers   []func() error
	now       func() time.Time

	Summary *StartupSummary
}

// NewApp builds the application from cfg without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run starts the trading loop, the mark-price feed and the HTTP surface and
// blocks until ctx is cancelled or one of them fails. Stores are closed on
// return.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.system == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.system.Run(ctx, a.anomalies); err != nil {
			return fmt.Errorf("trading loop: %w", err)
		}
		return nil
	})

	if a.stream != nil {
		group.Go(func() error {
			err := a.stream.SubscribeMarkPrices(ctx, a.system.OnMarkPrice)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("mark price stream: %w", err)
		})
	}

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		a.announce(ctx)
		return nil
	})

	err := group.Wait()
	logger.Infof("app stopped err=%v", err)
	return err
}

// announce waits for the first ledger sync and sends a startup notice.
func (a *App) announce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, startupNoticeTimeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	paper := a.cfg.Trading.IsPaper()
	for {
		st := a.system.Status()
		if st.Running && (paper || st.LastSyncAt != nil) {
			msg := notifier.EngineStarted(st.Mode, st.OpenPositions, st.Balance, a.now()).RenderMarkdown()
			if err := a.notifier.SendText(msg); err != nil {
				logger.Warnf("startup notice failed: %v", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Anomalies is the inbound queue the trading loop consumes. In-process
// producers may send on it directly.
func (a *App) Anomalies() chan<- types.AnomalyEvent {
	if a == nil {
		return nil
	}
	return a.anomalies
}

// System exposes the trading system, for replay harnesses and tests.
func (a *App) System() *trader.TradingSystem {
	if a == nil {
		return nil
	}
	return a.system
}

// Close releases the stores. It is safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}
	a.closers = nil
}
