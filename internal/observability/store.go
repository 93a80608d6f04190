package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mailthrottle/internal/throttle"
)

// InstrumentedStore wraps a throttle.CounterStore with a span per call, a
// latency histogram and an error counter.
type InstrumentedStore struct {
	inner    throttle.CounterStore
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	acquired metric.Int64Counter
}

// NewInstrumentedStore creates the decorator using the global providers.
func NewInstrumentedStore(inner throttle.CounterStore) (*InstrumentedStore, error) {
	meter := otel.Meter(instrumentationScope + "/store")

	duration, err := meter.Float64Histogram(
		"mailthrottle.store.duration",
		metric.WithDescription("Duration of counter store calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"mailthrottle.store.errors",
		metric.WithDescription("Number of counter store calls that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	acquired, err := meter.Int64Counter(
		"mailthrottle.store.acquire",
		metric.WithDescription("Number of slot requests answered by the counter store"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   otel.Tracer(instrumentationScope + "/store"),
		duration: duration,
		errors:   errCounter,
		acquired: acquired,
	}, nil
}

func (s *InstrumentedStore) TryAcquire(ctx context.Context, key string, limit int, windowSeconds int) (throttle.Result, error) {
	ctx, span := s.tracer.Start(ctx, "store.TryAcquire",
		trace.WithAttributes(
			attribute.String("throttle.key", key),
			attribute.Int("throttle.limit", limit),
			attribute.Int("throttle.window_seconds", windowSeconds),
		),
	)
	start := time.Now()

	res, err := s.inner.TryAcquire(ctx, key, limit, windowSeconds)

	if err == nil {
		span.SetAttributes(
			attribute.Bool("throttle.allowed", res.Allowed),
			attribute.Int("throttle.remaining", res.Remaining),
		)
		s.acquired.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", res.Allowed)))
	}
	s.record(ctx, span, "TryAcquire", start, err)
	return res, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "store.Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	endSpan(span, err)
	if err != nil {
		s.errors.Add(ctx, 1, attrs)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
