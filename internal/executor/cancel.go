package executor

import (
	"context"
	"fmt"
	"time"

	"oitrader/internal/gateway/notifier"
	"oitrader/internal/logger"
	"oitrader/internal/pkg/symbol"
)

// CancelAllOpenOrders cancels every open order on sym and verifies that none
// remain, retrying up to maxRetries attempts (configured default when <= 0).
// A leftover take-profit can re-open the position in reverse once it is
// closed, so exhaustion is escalated through the log, the notifier and the
// metrics, and reported as *CancellationError.
func (e *Executor) CancelAllOpenOrders(ctx context.Context, sym string, maxRetries int) error {
	if e.paper() {
		return nil
	}
	sym = symbol.Normalize(sym)
	if maxRetries <= 0 {
		maxRetries = e.cfg.CancelMaxRetries
	}
	var lastErr error
	attempts := 0
	for attempts < maxRetries {
		attempts++
		lastErr = e.cancelOnce(ctx, sym)
		if lastErr == nil {
			if attempts > 1 {
				e.logf("%s open orders cancelled on attempt %d", sym, attempts)
			}
			return nil
		}
		logger.Warnf("[executor] %s cancel attempt %d/%d failed: %v", sym, attempts, maxRetries, lastErr)
		if ctx.Err() != nil {
			break
		}
		if attempts < maxRetries {
			if err := e.sleep(ctx, e.cfg.CancelRetryDelay*time.Duration(attempts)); err != nil {
				break
			}
		}
	}

	cerr := &CancellationError{Symbol: sym, Attempts: attempts, Err: lastErr}
	logger.Criticalf("[executor] %v", cerr)
	e.metrics.CancelFailed(sym)
	msg := notifier.CancellationFailure(sym, attempts, lastErr, e.now()).RenderMarkdown()
	// delivery can take as long as the notifier's retries; the caller is the
	// trading actor and must not wait on it
	go e.alert(sym, msg)
	return cerr
}

func (e *Executor) alert(sym, msg string) {
	if err := e.notifier.SendText(msg); err != nil {
		logger.Errorf("[executor] cancellation alert for %s not delivered: %v", sym, err)
	}
}

func (e *Executor) cancelOnce(ctx context.Context, sym string) error {
	if err := e.client.CancelAllOpenOrders(ctx, sym); err != nil {
		return err
	}
	left, err := e.client.ListOpenOrders(ctx, sym)
	if err != nil {
		return fmt.Errorf("verify cancellation: %w", err)
	}
	if len(left) > 0 {
		return fmt.Errorf("%d orders still open", len(left))
	}
	return nil
}
