package dispatch

import "context"

// Scheduler hands a deferred unit of work back to the queue. The queue owns
// the work's attempt counter and increments it when the work is reserved again.
type Scheduler interface {
	Requeue(ctx context.Context, work any, delaySeconds int) error
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, work any, delaySeconds int) error

func (f SchedulerFunc) Requeue(ctx context.Context, work any, delaySeconds int) error {
	return f(ctx, work, delaySeconds)
}

// Attempter exposes how many times a unit of work has been tried, starting at 1.
type Attempter interface {
	Attempts() int
}

// AttemptCount returns the attempt count of work, or 1 when it does not
// track one.
func AttemptCount(work any) int {
	a, ok := work.(Attempter)
	if !ok || a == nil {
		return 1
	}
	if n := a.Attempts(); n > 0 {
		return n
	}
	return 1
}
