package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"mailthrottle/internal/dispatch"
)

// GateMetrics counts dispatch gate outcomes per mailer and records the
// release delays handed to the queue. It implements dispatch.Observer.
type GateMetrics struct {
	outcomes metric.Int64Counter
	delays   metric.Int64Histogram
}

// NewGateMetrics creates the gate instruments using the global meter provider.
func NewGateMetrics() (*GateMetrics, error) {
	meter := otel.Meter(instrumentationScope + "/gate")

	outcomes, err := meter.Int64Counter(
		"mailthrottle.gate.outcomes",
		metric.WithDescription("Number of units of work that passed through the throttle gate, by outcome"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	delays, err := meter.Int64Histogram(
		"mailthrottle.gate.release_delay",
		metric.WithDescription("Release delay given to throttled jobs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 15, 30, 45, 60),
	)
	if err != nil {
		return nil, err
	}

	return &GateMetrics{outcomes: outcomes, delays: delays}, nil
}

func (m *GateMetrics) ObserveVerdict(ctx context.Context, v dispatch.Verdict) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", v.Outcome.String()),
		attribute.String("mailer", v.Target),
	)
	m.outcomes.Add(ctx, 1, attrs)

	if v.Outcome == dispatch.OutcomeDefer {
		m.delays.Record(ctx, int64(v.Delay), metric.WithAttributes(attribute.String("mailer", v.Target)))
	}
}
