package throttle

import (
	"context"
	"fmt"
)

// Decision is the outcome of one throttle check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Decider makes throttle decisions. *Engine is the production implementation.
type Decider interface {
	Decide(ctx context.Context, key Key, rate, windowSeconds int) (Decision, error)
}

// Engine turns CounterStore answers into throttle decisions.
type Engine struct {
	store CounterStore
}

// NewEngine creates an engine backed by store.
func NewEngine(store CounterStore) *Engine {
	return &Engine{store: store}
}

// Decide counts one send against key and reports whether it fits within rate
// sends per windowSeconds. It issues exactly one store call and never waits
// for a slot.
//
// A store failure is returned as *StoreUnavailableError and is never turned
// into Allow or Deny here; the caller owns the fail-open policy. The returned
// Decision is meaningless whenever err is non-nil.
func (e *Engine) Decide(ctx context.Context, key Key, rate, windowSeconds int) (Decision, error) {
	if key == "" || rate < 1 || windowSeconds < 1 {
		return Deny, fmt.Errorf("%w: key=%q rate=%d window=%d", ErrInvalidLimit, key, rate, windowSeconds)
	}

	res, err := e.store.TryAcquire(ctx, string(key), rate, windowSeconds)
	if err != nil {
		return Deny, &StoreUnavailableError{Key: key, Err: err}
	}

	if res.Allowed {
		return Allow, nil
	}
	return Deny, nil
}
