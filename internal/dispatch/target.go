package dispatch

// Mailer is implemented by work that knows which mailer it sends through.
type Mailer interface {
	MailerName() string
}

// MailableWrapper is implemented by work that wraps a message, such as a
// queued send job. The wrapped value is consulted when the work itself does
// not name a mailer.
type MailableWrapper interface {
	Mailable() any
}

// TargetRecorder is implemented by work that keeps the mailer the gate
// resolved for it, so delivery goes through the mailer that was throttled.
type TargetRecorder interface {
	RecordTarget(mailer string)
}

// TargetResolver extracts the throttle target of a unit of work. It returns
// false when it has no answer so the next resolver can try.
type TargetResolver interface {
	ResolveTarget(work any) (string, bool)
}

// ResolverFunc adapts a function to TargetResolver.
type ResolverFunc func(work any) (string, bool)

func (f ResolverFunc) ResolveTarget(work any) (string, bool) {
	return f(work)
}

// Override always resolves to name. An empty name never resolves.
func Override(name string) TargetResolver {
	return ResolverFunc(func(any) (string, bool) {
		return name, name != ""
	})
}

// FromWork resolves the mailer named by the work itself.
func FromWork() TargetResolver {
	return ResolverFunc(func(work any) (string, bool) {
		return mailerName(work)
	})
}

// FromMailable resolves the mailer named by the message the work wraps.
func FromMailable() TargetResolver {
	return ResolverFunc(func(work any) (string, bool) {
		w, ok := work.(MailableWrapper)
		if !ok {
			return "", false
		}
		return mailerName(w.Mailable())
	})
}

// Default resolves to the system default mailer.
func Default(name string) TargetResolver {
	return Override(name)
}

// DefaultResolvers is the standard lookup order: the work, the message it
// wraps, then defaultMailer.
func DefaultResolvers(defaultMailer string) []TargetResolver {
	return []TargetResolver{FromWork(), FromMailable(), Default(defaultMailer)}
}

// ResolveTarget tries resolvers in order and returns the first answer.
func ResolveTarget(work any, resolvers ...TargetResolver) (string, bool) {
	for _, r := range resolvers {
		if r == nil {
			continue
		}
		if name, ok := r.ResolveTarget(work); ok {
			return name, true
		}
	}
	return "", false
}

func mailerName(v any) (string, bool) {
	m, ok := v.(Mailer)
	if !ok || m == nil {
		return "", false
	}
	name := m.MailerName()
	return name, name != ""
}
