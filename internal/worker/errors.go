package worker

import (
	"errors"
	"fmt"
)

// ErrUnsupportedWork is returned by the scheduler for work that did not come
// from a queue.
var ErrUnsupportedWork = errors.New("work cannot be requeued")

// JobError records why one attempt of a job failed.
type JobError struct {
	JobID   string
	Mailer  string
	Attempt int
	Err     error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s (mailer %q, attempt %d): %v", e.JobID, e.Mailer, e.Attempt, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
