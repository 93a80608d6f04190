package worker

import (
	"context"
	"fmt"
	"time"

	"mailthrottle/internal/dispatch"
	"mailthrottle/internal/mail"
	"mailthrottle/internal/queue"
)

// Work is the unit passed through the dispatch chain: a reserved job and the
// message it carries.
type Work struct {
	Job     *queue.Job
	Message mail.Message

	target string
}

// MailerName returns the mailer named on the job, if any. The message's own
// mailer is consulted after it through Mailable.
func (w *Work) MailerName() string {
	return w.Job.MailerName()
}

// Mailable returns the wrapped message.
func (w *Work) Mailable() any {
	return w.Message
}

// RecordTarget keeps the mailer a gate throttled this work against.
func (w *Work) RecordTarget(mailer string) {
	w.target = mailer
}

// Target returns the mailer recorded by a gate, or "" when none ran.
func (w *Work) Target() string {
	return w.target
}

// Attempts returns the job's attempt count.
func (w *Work) Attempts() int {
	return w.Job.Attempts()
}

// NewScheduler returns a dispatch.Scheduler that releases work back to q.
func NewScheduler(q queue.Queue) dispatch.Scheduler {
	return dispatch.SchedulerFunc(func(ctx context.Context, work any, delaySeconds int) error {
		var job *queue.Job
		switch w := work.(type) {
		case *Work:
			job = w.Job
		case *queue.Job:
			job = w
		default:
			return fmt.Errorf("%w: %T", ErrUnsupportedWork, work)
		}
		return q.Release(ctx, job, time.Duration(delaySeconds)*time.Second)
	})
}

// SendStep returns the final step of the chain, delivering the message
// through sender. The mailer a gate throttled the work against is used for
// delivery. Without one, the work's own mailer is used, then defaultMailer.
func SendStep(sender mail.Sender, defaultMailer string) dispatch.Next {
	return func(ctx context.Context, work any) error {
		w, ok := work.(*Work)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnsupportedWork, work)
		}
		mailer := w.target
		if mailer == "" {
			mailer, _ = dispatch.ResolveTarget(w, dispatch.DefaultResolvers(defaultMailer)...)
		}
		return sender.Send(ctx, mailer, w.Message)
	}
}
