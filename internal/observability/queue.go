package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mailthrottle/internal/queue"
)

// InstrumentedQueue wraps a queue.Queue with spans, an operation latency
// histogram and an error counter. An empty Reserve is not an error.
type InstrumentedQueue struct {
	inner    queue.Queue
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedQueue creates the decorator using the global providers.
func NewInstrumentedQueue(inner queue.Queue) (*InstrumentedQueue, error) {
	meter := otel.Meter(instrumentationScope + "/queue")

	duration, err := meter.Float64Histogram(
		"mailthrottle.queue.operation.duration",
		metric.WithDescription("Duration of queue operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"mailthrottle.queue.operation.errors",
		metric.WithDescription("Number of queue operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedQueue{
		inner:    inner,
		tracer:   otel.Tracer(instrumentationScope + "/queue"),
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (q *InstrumentedQueue) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return q.tracer.Start(ctx, "queue."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("queue.operation", operation),
		}, attrs...)...),
	)
}

func (q *InstrumentedQueue) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	q.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		q.errors.Add(ctx, 1, attrs)
	}
	endSpan(span, err)
}

func jobAttrs(job *queue.Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("job.id", job.ID),
		attribute.String("job.mailer", job.Mailer),
		attribute.Int("job.attempts", job.Attempts()),
	}
}

func (q *InstrumentedQueue) Push(ctx context.Context, job *queue.Job) error {
	ctx, span := q.startSpan(ctx, "Push", attribute.String("job.mailer", job.Mailer))
	start := time.Now()
	err := q.inner.Push(ctx, job)
	q.record(ctx, span, "Push", start, err)
	return err
}

func (q *InstrumentedQueue) Reserve(ctx context.Context) (*queue.Job, error) {
	ctx, span := q.startSpan(ctx, "Reserve")
	start := time.Now()
	job, err := q.inner.Reserve(ctx)
	if job != nil {
		span.SetAttributes(jobAttrs(job)...)
	}
	if errors.Is(err, queue.ErrEmpty) {
		span.SetAttributes(attribute.Bool("queue.empty", true))
		q.record(ctx, span, "Reserve", start, nil)
		return job, err
	}
	q.record(ctx, span, "Reserve", start, err)
	return job, err
}

func (q *InstrumentedQueue) Release(ctx context.Context, job *queue.Job, delay time.Duration) error {
	ctx, span := q.startSpan(ctx, "Release", append(jobAttrs(job), attribute.Float64("job.delay_seconds", delay.Seconds()))...)
	start := time.Now()
	err := q.inner.Release(ctx, job, delay)
	q.record(ctx, span, "Release", start, err)
	return err
}

func (q *InstrumentedQueue) Delete(ctx context.Context, job *queue.Job) error {
	ctx, span := q.startSpan(ctx, "Delete", jobAttrs(job)...)
	start := time.Now()
	err := q.inner.Delete(ctx, job)
	q.record(ctx, span, "Delete", start, err)
	return err
}

func (q *InstrumentedQueue) Bury(ctx context.Context, job *queue.Job, reason error) error {
	ctx, span := q.startSpan(ctx, "Bury", jobAttrs(job)...)
	start := time.Now()
	err := q.inner.Bury(ctx, job, reason)
	q.record(ctx, span, "Bury", start, err)
	return err
}

func (q *InstrumentedQueue) Size(ctx context.Context) (int, error) {
	ctx, span := q.startSpan(ctx, "Size")
	start := time.Now()
	n, err := q.inner.Size(ctx)
	q.record(ctx, span, "Size", start, err)
	return n, err
}

func (q *InstrumentedQueue) Ping(ctx context.Context) error {
	ctx, span := q.startSpan(ctx, "Ping")
	start := time.Now()
	err := q.inner.Ping(ctx)
	q.record(ctx, span, "Ping", start, err)
	return err
}

func (q *InstrumentedQueue) Close() error {
	return q.inner.Close()
}
