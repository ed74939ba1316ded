package executor

import (
	"errors"
	"fmt"
)

// ErrOrderFailed is matched by every *OrderError.
var ErrOrderFailed = errors.New("order failed")

// OrderError is an order the exchange (or local validation) refused. The
// trade attempt is aborted; the pipeline carries on with the next anomaly.
type OrderError struct {
	Symbol string
	Op     string
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Symbol, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error { return e.Err }

func (e *OrderError) Is(target error) bool { return target == ErrOrderFailed }

func orderFailed(symbol, op, format string, args ...any) *OrderError {
	return &OrderError{Symbol: symbol, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// CancellationError means open orders for Symbol may still be live after
// every retry was spent. Callers escalate and keep going.
type CancellationError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancel open orders %s failed after %d attempts: %v", e.Symbol, e.Attempts, e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }
