// Package dispatch gates units of work on the fleet-wide mail throttle.
//
// A unit of work is any value a worker runs. It opts into throttling by
// carrying the Gate in its middleware chain; the gate resolves which mailer
// the work sends through, asks the throttle engine for a slot, and either
// lets the work proceed or hands it back to the queue with a release delay.
package dispatch

import "context"

// Next continues processing work. The final Next in a chain does the work.
type Next func(ctx context.Context, work any) error

// Middleware intercepts a unit of work before it runs. Calling next proceeds;
// returning without calling it stops the chain.
type Middleware interface {
	Handle(ctx context.Context, work any, next Next) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, work any, next Next) error

func (f MiddlewareFunc) Handle(ctx context.Context, work any, next Next) error {
	return f(ctx, work, next)
}

// MiddlewareProvider is implemented by work types that declare their own
// middleware.
type MiddlewareProvider interface {
	Middleware() []Middleware
}

// Chain returns the middleware work declares through MiddlewareProvider,
// followed by extra.
func Chain(work any, extra ...Middleware) []Middleware {
	var mws []Middleware
	if p, ok := work.(MiddlewareProvider); ok {
		mws = append(mws, p.Middleware()...)
	}
	return append(mws, extra...)
}

// Run passes work through mws in order and then to final.
func Run(ctx context.Context, work any, final Next, mws ...Middleware) error {
	next := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], next
		if mw == nil {
			continue
		}
		next = func(ctx context.Context, work any) error {
			return mw.Handle(ctx, work, inner)
		}
	}
	return next(ctx, work)
}
