package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"mailthrottle/internal/models"
	"mailthrottle/internal/throttle"
)

// Outcome is where one pass through the gate ended.
type Outcome int

const (
	// OutcomeContinue means a slot was granted and the work proceeded.
	OutcomeContinue Outcome = iota
	// OutcomeDefer means the window was full and the work was requeued.
	OutcomeDefer
	// OutcomePassThrough means the work had no throttled target.
	OutcomePassThrough
	// OutcomeFailOpen means the store failed and the work proceeded anyway.
	OutcomeFailOpen
	// OutcomeFailClosed means the store failed and the attempt was aborted.
	OutcomeFailClosed
	// OutcomeError means the decision failed for a reason other than the store.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeDefer:
		return "defer"
	case OutcomePassThrough:
		return "pass_through"
	case OutcomeFailOpen:
		return "fail_open"
	case OutcomeFailClosed:
		return "fail_closed"
	default:
		return "error"
	}
}

// Proceeds reports whether the work's next step runs for this outcome.
func (o Outcome) Proceeds() bool {
	return o == OutcomeContinue || o == OutcomePassThrough || o == OutcomeFailOpen
}

// Verdict describes one gate check.
type Verdict struct {
	Outcome Outcome
	Target  string       // Resolved mailer, empty when none resolved
	Key     throttle.Key // Counter key, empty on pass-through
	Attempt int
	Delay   int   // Release delay in seconds, set only on OutcomeDefer
	Err     error // Engine error on OutcomeFailOpen, OutcomeFailClosed and OutcomeError
}

// Observer is notified of every verdict the gate acts on.
type Observer interface {
	ObserveVerdict(ctx context.Context, v Verdict)
}

type noopObserver struct{}

func (noopObserver) ObserveVerdict(context.Context, Verdict) {}

// Gate is the throttle middleware. It is safe for concurrent use and holds
// no per-work state; each Handle call decides from scratch.
type Gate struct {
	decider   throttle.Decider
	keys      *throttle.KeyBuilder
	scheduler Scheduler
	mailers   map[string]models.MailerConfig
	failOpen  bool
	backoff   throttle.Backoff
	resolvers []TargetResolver
	observer  Observer
	logger    *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithResolvers replaces the target lookup order.
func WithResolvers(resolvers ...TargetResolver) GateOption {
	return func(g *Gate) {
		g.resolvers = resolvers
	}
}

// WithObserver sets the verdict observer, typically gate metrics.
func WithObserver(o Observer) GateOption {
	return func(g *Gate) {
		g.observer = o
	}
}

// WithBackoff overrides the backoff policy built from the throttle config.
func WithBackoff(b throttle.Backoff) GateOption {
	return func(g *Gate) {
		g.backoff = b
	}
}

// NewGate creates a gate for the mailers in cfg. Denied work is handed to
// scheduler.
func NewGate(decider throttle.Decider, keys *throttle.KeyBuilder, scheduler Scheduler, cfg models.ThrottleConfig, opts ...GateOption) *Gate {
	g := &Gate{
		decider:   decider,
		keys:      keys,
		scheduler: scheduler,
		mailers:   cfg.Mailers,
		failOpen:  cfg.FailOpen,
		backoff: throttle.Backoff{
			MaxMultiplier: cfg.MaxBackoffMultiplier,
			MaxDelay:      cfg.MaxReleaseDelay,
			JitterPercent: cfg.JitterPercent,
		},
		resolvers: DefaultResolvers(cfg.DefaultMailer),
		observer:  noopObserver{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ForMailer returns a copy of the gate that throttles every unit of work as
// mailer, whatever the work itself names.
func (g *Gate) ForMailer(mailer string) *Gate {
	c := *g
	c.resolvers = append([]TargetResolver{Override(mailer)}, g.resolvers...)
	return &c
}

// Check decides what should happen to work without acting on the decision.
// It consumes a slot from the shared counter when one is granted.
func (g *Gate) Check(ctx context.Context, work any) Verdict {
	target, ok := ResolveTarget(work, g.resolvers...)
	if !ok {
		return Verdict{Outcome: OutcomePassThrough}
	}

	v := Verdict{Target: target, Attempt: AttemptCount(work)}

	rate, window, ok := g.mailers[target].Limit()
	if !ok {
		v.Outcome = OutcomePassThrough
		return v
	}

	v.Key = g.keys.Key(target)
	decision, err := g.decider.Decide(ctx, v.Key, rate, window)
	switch {
	case errors.Is(err, throttle.ErrStoreUnavailable):
		v.Err = err
		if g.failOpen {
			v.Outcome = OutcomeFailOpen
		} else {
			v.Outcome = OutcomeFailClosed
		}
	case err != nil:
		v.Err = err
		v.Outcome = OutcomeError
	case decision == throttle.Allow:
		v.Outcome = OutcomeContinue
	default:
		v.Outcome = OutcomeDefer
		v.Delay = g.backoff.Delay(v.Attempt, rate, window)
	}
	return v
}

// Handle implements Middleware. Allowed and unthrottled work proceeds to
// next within this call, after the resolved mailer is recorded on work that
// implements TargetRecorder. Denied work is requeued with a backoff delay and
// next is not called. A store failure proceeds when the gate fails open and
// is returned unchanged when it fails closed.
func (g *Gate) Handle(ctx context.Context, work any, next Next) error {
	v := g.Check(ctx, work)
	g.observer.ObserveVerdict(ctx, v)

	switch v.Outcome {
	case OutcomeFailOpen:
		g.logger.Warn("Mail throttle store unavailable, failing open",
			"mailer", v.Target,
			"error", v.Err,
		)
	case OutcomeFailClosed, OutcomeError:
		return v.Err
	case OutcomeDefer:
		g.logger.Debug("Mail throttled, releasing job",
			"mailer", v.Target,
			"attempt", v.Attempt,
			"delay", v.Delay,
		)
		return g.scheduler.Requeue(ctx, work, v.Delay)
	}

	if r, ok := work.(TargetRecorder); ok && v.Target != "" {
		r.RecordTarget(v.Target)
	}
	return next(ctx, work)
}
