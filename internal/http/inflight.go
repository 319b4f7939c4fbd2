package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests currently being served. All methods are nil-safe so
// middleware can run without one.
type InFlightTracker struct {
	count atomic.Int64
}

// Increment adds one to the in-flight count.
func (t *InFlightTracker) Increment() {
	if t != nil {
		t.count.Add(1)
	}
}

// Decrement subtracts one from the in-flight count.
func (t *InFlightTracker) Decrement() {
	if t != nil {
		t.count.Add(-1)
	}
}

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 {
	if t == nil {
		return 0
	}
	return t.count.Load()
}

// WaitForZero blocks until the count reaches zero or ctx is done, polling every checkInterval.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	if t.Count() == 0 {
		return nil
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Count() == 0 {
				return nil
			}
		}
	}
}
