package throttle

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable matches any failure of the counter store to answer.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInvalidLimit is returned for an empty key or a non-positive rate or window.
	ErrInvalidLimit = errors.New("invalid throttle limit")
)

// StoreUnavailableError wraps the error a CounterStore returned for a key.
// It matches ErrStoreUnavailable and unwraps to the original store error.
type StoreUnavailableError struct {
	Key Key
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("counter store unavailable for %s: %v", e.Key, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}
