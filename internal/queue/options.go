package queue

import "time"

// DefaultReservationTimeout is how long a job may stay reserved before
// Reserve hands it to another worker.
const DefaultReservationTimeout = 5 * time.Minute

type options struct {
	now                func() time.Time
	reservationTimeout time.Duration
}

// Option configures a queue backend.
type Option func(*options)

// WithClock overrides the time source used for delays and reservation
// expiry. PostgresQueue ignores it and uses the database clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithReservationTimeout sets how long a reserved job may go without being
// deleted, released or buried before it is reclaimed. A worker that dies
// mid-job leaves its reservation behind; zero disables reclaiming.
func WithReservationTimeout(d time.Duration) Option {
	return func(o *options) {
		o.reservationTimeout = d
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, reservationTimeout: DefaultReservationTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
