package trader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"oitrader/internal/gateway/exchange"
	"oitrader/internal/logger"
	"oitrader/internal/pkg/symbol"
	"oitrader/internal/types"
)

var ErrStopped = errors.New("trader: stopped")

// Run is the actor loop. Anomalies, mark prices, periodic reconciliation and
// close requests are handled one at a time on the calling goroutine until ctx
// is cancelled. A TradingSystem runs at most once.
func (s *TradingSystem) Run(ctx context.Context, anomalies <-chan types.AnomalyEvent) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("trader: already running")
	}
	select {
	case <-s.done:
		s.running.Store(false)
		return ErrStopped
	default:
	}
	defer func() {
		s.running.Store(false)
		s.doneOnce.Do(func() { close(s.done) })
		s.refreshSnapshot()
		logger.Infof("[trader] actor stopped")
	}()

	interval := defaultSyncInterval
	if sec := s.cfg.Trading.SyncIntervalSeconds; sec > 0 {
		interval = time.Duration(sec) * time.Second
	}
	logger.Infof("[trader] actor started mode=%s sync=%s", s.mode, interval)

	if !s.paper() {
		s.handleEvent(ctx, EventEnvelope{Type: EvtSync, CreatedAt: s.now()})
	} else {
		s.refreshSnapshot()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-anomalies:
			if !ok {
				anomalies = nil
				continue
			}
			s.handleEvent(ctx, EventEnvelope{Type: EvtAnomaly, Anomaly: ev, CreatedAt: s.now()})
		case mp := <-s.prices:
			s.handleEvent(ctx, EventEnvelope{Type: EvtMarkPrice, Price: mp, CreatedAt: s.now()})
		case evt := <-s.requests:
			s.handleEvent(ctx, evt)
		case <-ticker.C:
			s.handleEvent(ctx, EventEnvelope{Type: EvtSync, CreatedAt: s.now()})
		}
	}
}

// handleEvent runs one event. A panicking handler is logged and reported to
// the caller instead of taking the loop down.
func (s *TradingSystem) handleEvent(ctx context.Context, evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[trader] panic handling %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		s.refreshSnapshot()

		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("[trader] slow event %s took %v", evt.Type, dur)
		}
	}()

	switch evt.Type {
	case EvtAnomaly:
		s.ProcessAnomaly(ctx, evt.Anomaly)
	case EvtMarkPrice:
		s.onMarkPrice(ctx, evt.Price)
	case EvtSync:
		err = s.periodic(ctx)
	case EvtClose:
		err = s.ClosePosition(ctx, evt.PositionID, evt.Reason)
		if err != nil {
			logger.Errorf("[trader] close %s failed: %v", evt.PositionID, err)
		}
	default:
		logger.Warnf("[trader] no handler for event type %q", evt.Type)
	}
}

// periodic reconciles with the exchange, enforces the holding limit and
// refreshes the balance shown in status.
func (s *TradingSystem) periodic(ctx context.Context) error {
	res, err := s.SyncPositions(ctx)
	s.lastSyncAt = s.now().UTC()
	s.lastSync = res
	s.lastSyncErr = err
	switch {
	case err != nil:
		logger.Warnf("[trader] position sync failed: %v", err)
	case res.Changed():
		logger.Infof("[trader] position sync: +%d -%d ~%d", res.Added, res.Removed, res.Updated)
	}

	if n := s.CheckTimeouts(ctx); n > 0 {
		logger.Infof("[trader] closed %d position(s) on holding timeout", n)
	}
	if _, berr := s.availableBalance(ctx); berr != nil {
		logger.Debugf("[trader] balance refresh failed: %v", berr)
	}
	return err
}

// OnMarkPrice queues a mark price for the actor. Prices for symbols without
// an open position are ignored, and a full queue drops the update since a
// newer one follows within the second.
func (s *TradingSystem) OnMarkPrice(mp exchange.MarkPrice) {
	if mp.Price <= 0 || !s.running.Load() {
		return
	}
	mp.Symbol = symbol.Normalize(mp.Symbol)
	if !s.tracker.HasOpen(mp.Symbol) {
		return
	}
	select {
	case s.prices <- mp:
	default:
		if n := s.droppedPrices.Add(1); n%100 == 1 {
			logger.Warnf("[trader] price queue full, dropped %d update(s) so far", n)
		}
	}
}

// RequestClose asks the running loop to close a position and waits for the
// result.
func (s *TradingSystem) RequestClose(ctx context.Context, id, reason string) error {
	return s.sendSync(ctx, EventEnvelope{Type: EvtClose, PositionID: id, Reason: reason})
}

// RequestSync asks the running loop for an immediate reconciliation pass.
func (s *TradingSystem) RequestSync(ctx context.Context) error {
	return s.sendSync(ctx, EventEnvelope{Type: EvtSync})
}

func (s *TradingSystem) sendSync(ctx context.Context, evt EventEnvelope) error {
	if !s.running.Load() {
		return ErrStopped
	}
	evt.CreatedAt = s.now()
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	select {
	case s.requests <- evt:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// Status returns the last published snapshot. Safe from any goroutine.
func (s *TradingSystem) Status() Status {
	if st, ok := s.snapshot.Load().(Status); ok {
		return st
	}
	return Status{Mode: string(s.mode)}
}

func (s *TradingSystem) refreshSnapshot() {
	st := Status{
		Mode:          string(s.mode),
		Running:       s.running.Load(),
		OpenPositions: s.tracker.CountOpen(),
		Balance:       s.lastBalance,
		Processed:     s.processed.Load(),
		LastSync:      s.lastSync,
		Risk:          s.risk.Status(),
		PendingPrices: len(s.prices),
		DroppedPrices: s.droppedPrices.Load(),
		UpdatedAt:     s.now().UTC(),
	}
	if !s.lastAnomalyAt.IsZero() {
		t := s.lastAnomalyAt
		st.LastAnomalyAt = &t
	}
	if !s.lastSyncAt.IsZero() {
		t := s.lastSyncAt
		st.LastSyncAt = &t
	}
	if s.lastSyncErr != nil {
		st.LastSyncError = s.lastSyncErr.Error()
	}
	s.snapshot.Store(st)
}
