package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryRecord struct {
	job    Job
	status string
	seq    uint64
}

// MemoryQueue keeps jobs in process memory. It is meant for development,
// tests and single-process deployments; jobs are lost on restart.
type MemoryQueue struct {
	name               string
	now                func() time.Time
	reservationTimeout time.Duration

	mu      sync.Mutex
	records map[string]*memoryRecord
	seq     uint64
	closed  bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(name string, opts ...Option) *MemoryQueue {
	o := buildOptions(opts)
	return &MemoryQueue{
		name:               name,
		now:                o.now,
		reservationTimeout: o.reservationTimeout,
		records:            make(map[string]*memoryRecord),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue %s is closed", q.name)
	}

	job.prepare(q.name, q.now())
	q.seq++
	q.records[job.ID] = &memoryRecord{job: *job, status: StatusPending, seq: q.seq}
	return nil
}

// Reserve claims the ready job with the earliest AvailableAt, oldest first
// on ties. Reservations older than the reservation timeout count as ready.
func (q *MemoryQueue) Reserve(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *memoryRecord
	for _, r := range q.records {
		if !q.ready(r, now) {
			continue
		}
		if next == nil || r.job.AvailableAt.Before(next.job.AvailableAt) ||
			(r.job.AvailableAt.Equal(next.job.AvailableAt) && r.seq < next.seq) {
			next = r
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}

	next.status = StatusReserved
	next.job.Tries++
	next.job.ReservedAt = now

	// Return a copy to prevent external modification
	job := next.job
	return &job, nil
}

func (q *MemoryQueue) ready(r *memoryRecord, now time.Time) bool {
	switch r.status {
	case StatusPending:
		return !r.job.AvailableAt.After(now)
	case StatusReserved:
		return q.reservationTimeout > 0 && !r.job.ReservedAt.Add(q.reservationTimeout).After(now)
	default:
		return false
	}
}

func (q *MemoryQueue) Release(ctx context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := q.reserved(job)
	if err != nil {
		return err
	}

	r.status = StatusPending
	r.job.AvailableAt = q.now().Add(delay)
	r.job.ReservedAt = time.Time{}
	q.seq++
	r.seq = q.seq
	job.released = true
	return nil
}

func (q *MemoryQueue) Delete(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.reserved(job); err != nil {
		return err
	}
	delete(q.records, job.ID)
	return nil
}

func (q *MemoryQueue) Bury(ctx context.Context, job *Job, reason error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := q.reserved(job)
	if err != nil {
		return err
	}
	r.status = StatusFailed
	r.job.LastError = errorText(reason)
	job.LastError = r.job.LastError
	return nil
}

func (q *MemoryQueue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, r := range q.records {
		if r.status == StatusPending {
			n++
		}
	}
	return n, nil
}

// Failed returns copies of buried jobs.
func (q *MemoryQueue) Failed() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var failed []*Job
	for _, r := range q.records {
		if r.status == StatusFailed {
			job := r.job
			failed = append(failed, &job)
		}
	}
	return failed
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue %s is closed", q.name)
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *MemoryQueue) reserved(job *Job) (*memoryRecord, error) {
	r, ok := q.records[job.ID]
	if !ok || r.status != StatusReserved || !r.job.ReservedAt.Equal(job.ReservedAt) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return r, nil
}
