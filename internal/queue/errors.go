package queue

import "errors"

var (
	// ErrEmpty is returned by Reserve when no job is ready.
	ErrEmpty = errors.New("queue is empty")

	// ErrJobNotFound is returned when a job is not reserved in the queue, or
	// its reservation was reclaimed by another worker.
	ErrJobNotFound = errors.New("job not found")
)
