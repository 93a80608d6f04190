// Package throttle decides whether an outgoing mail send may proceed under a
// fleet-wide rate limit, and how long a denied send should wait before it is
// retried. The shared counter lives outside the process in a CounterStore;
// this package never sleeps and holds no locks around a decision.
package throttle

import (
	"context"
	"time"
)

// CounterStore is the shared counter behind every throttle decision.
// Implementations must make TryAcquire atomic across processes and must not
// wait for a slot to free up: a full window returns Allowed=false at once.
type CounterStore interface {
	// TryAcquire counts one operation against key and reports whether it
	// fits within limit operations per windowSeconds. A non-nil error means
	// the store could not answer, never that the limit was reached.
	TryAcquire(ctx context.Context, key string, limit int, windowSeconds int) (Result, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// Result is the answer of one TryAcquire call.
type Result struct {
	Allowed    bool
	Remaining  int           // Approximate operations left in the window
	ResetAfter time.Duration // Time until the window frees at least one slot
}
