// Package queue holds mail jobs between the producer that enqueues them and
// the workers that run them. A job's attempt counter is owned here: it is
// incremented each time the job is reserved, and throttled jobs come back
// through Release with a delay.
package queue

import (
	"context"
	"time"
)

// Queue defines job persistence for the worker pool. Implementations must be
// safe for concurrent use by many workers, and Reserve must hand each ready
// job to exactly one of them.
type Queue interface {
	// Push adds a job. Jobs with a zero AvailableAt are ready immediately.
	Push(ctx context.Context, job *Job) error

	// Reserve claims the next ready job and increments its attempt count.
	// It returns ErrEmpty when no job is ready.
	Reserve(ctx context.Context) (*Job, error)

	// Release returns a reserved job to the queue, ready again after delay.
	Release(ctx context.Context, job *Job, delay time.Duration) error

	// Delete removes a finished job.
	Delete(ctx context.Context, job *Job) error

	// Bury marks a job as failed so it is never reserved again.
	Bury(ctx context.Context, job *Job, reason error) error

	// Size returns the number of pending jobs, ready or delayed.
	Size(ctx context.Context) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
