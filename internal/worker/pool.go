// Package worker runs queued mail jobs. Each worker goroutine reserves one
// job at a time and passes it through the dispatch chain, where the throttle
// gate either lets it send or releases it back to the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"mailthrottle/internal/dispatch"
	"mailthrottle/internal/mail"
	"mailthrottle/internal/models"
	"mailthrottle/internal/queue"
)

// Pool is a fixed set of workers reading from one queue.
type Pool struct {
	queue      queue.Queue
	final      dispatch.Next
	middleware []dispatch.Middleware

	workers      int
	pollInterval time.Duration
	maxTries     int
	retryDelay   time.Duration

	logger *slog.Logger
	name   func(index int) string
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMiddleware appends middleware run for every job, after any the work
// declares itself.
func WithMiddleware(mws ...dispatch.Middleware) Option {
	return func(p *Pool) {
		p.middleware = append(p.middleware, mws...)
	}
}

// WithWorkerName sets how workers are named in logs.
func WithWorkerName(name func(index int) string) Option {
	return func(p *Pool) {
		p.name = name
	}
}

// NewPool creates a pool that delivers reserved jobs through sender.
func NewPool(q queue.Queue, sender mail.Sender, cfg models.QueueConfig, defaultMailer string, opts ...Option) *Pool {
	p := &Pool{
		queue:        q,
		final:        SendStep(sender, defaultMailer),
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		maxTries:     cfg.MaxTries,
		retryDelay:   cfg.RetryDelay,
		logger:       slog.Default(),
		name:         strconv.Itoa,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the workers and blocks until ctx is canceled and every worker
// has finished its current job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < max(1, p.workers); i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			p.loop(ctx, p.name(index))
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, name string) {
	logger := p.logger.With("worker", name)
	logger.Debug("Worker started")
	defer logger.Debug("Worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := p.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("Failed to process job", "error", err)
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// ProcessNext reserves one job and runs it. It reports false when the queue
// had no ready job.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.queue.Reserve(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reserve job: %w", err)
	}

	return true, p.process(ctx, job)
}

func (p *Pool) process(ctx context.Context, job *queue.Job) error {
	var msg mail.Message
	if err := job.Decode(&msg); err != nil {
		// A payload that cannot be decoded never will be
		return p.bury(ctx, job, err)
	}

	work := &Work{Job: job, Message: msg}
	err := dispatch.Run(ctx, work, p.final, dispatch.Chain(work, p.middleware...)...)

	if job.Released() {
		return nil
	}
	if err == nil {
		if err := p.queue.Delete(ctx, job); err != nil {
			return fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}
		return nil
	}

	if job.Attempts() >= p.maxTries {
		return p.bury(ctx, job, err)
	}

	p.logger.Warn("Job failed, retrying",
		"job_id", job.ID,
		"mailer", work.MailerName(),
		"attempt", job.Attempts(),
		"retry_in", p.retryDelay,
		"error", err,
	)
	if err := p.queue.Release(ctx, job, p.retryDelay); err != nil {
		return fmt.Errorf("failed to release job %s: %w", job.ID, err)
	}
	return nil
}

func (p *Pool) bury(ctx context.Context, job *queue.Job, cause error) error {
	jobErr := &JobError{JobID: job.ID, Mailer: job.MailerName(), Attempt: job.Attempts(), Err: cause}
	if err := p.queue.Bury(ctx, job, cause); err != nil {
		return fmt.Errorf("failed to bury job %s: %w", job.ID, err)
	}
	return jobErr
}
