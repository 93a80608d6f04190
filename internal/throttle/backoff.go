package throttle

import (
	"math"
	"math/rand/v2"
)

// Backoff defaults.
const (
	DefaultMaxMultiplier = 8
	DefaultMaxDelay      = 30
	DefaultJitterPercent = 0.5
)

// maxShift keeps 1<<(attempt-1) inside an int on every platform.
const maxShift = 30

// Backoff computes how long, in seconds, a denied send waits before its next
// attempt: one slot's worth of window, doubled per attempt up to
// MaxMultiplier, capped at MaxDelay, then stretched by up to JitterPercent so
// that workers denied together do not retry together.
type Backoff struct {
	MaxMultiplier int
	MaxDelay      int
	JitterPercent float64

	// Rand returns the jitter draw in [0, 1]. Nil uses math/rand/v2, which is
	// seeded independently in every process.
	Rand func() float64
}

// DefaultBackoff returns the default policy: 8x multiplier, 30s cap, 50% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxMultiplier: DefaultMaxMultiplier,
		MaxDelay:      DefaultMaxDelay,
		JitterPercent: DefaultJitterPercent,
	}
}

// Delay returns the release delay in seconds for the given attempt, always >= 1.
func (b Backoff) Delay(attempt, rate, windowSeconds int) int {
	draw := rand.Float64
	if b.Rand != nil {
		draw = b.Rand
	}
	return jitter(b.BaseDelay(attempt, rate, windowSeconds), b.JitterPercent, draw())
}

// BaseDelay returns the delay before jitter is applied.
func (b Backoff) BaseDelay(attempt, rate, windowSeconds int) int {
	return backoffDelay(attempt, rate, windowSeconds, b.MaxMultiplier, b.MaxDelay)
}

// ComputeDelay is Backoff.Delay with explicit policy values and a fresh
// random draw per call.
func ComputeDelay(attempt, rate, windowSeconds, maxMultiplier, maxDelay int, jitterPercent float64) int {
	b := Backoff{MaxMultiplier: maxMultiplier, MaxDelay: maxDelay, JitterPercent: jitterPercent}
	return b.Delay(attempt, rate, windowSeconds)
}

func backoffDelay(attempt, rate, windowSeconds, maxMultiplier, maxDelay int) int {
	attempt = atLeastOne(attempt)
	rate = atLeastOne(rate)
	windowSeconds = atLeastOne(windowSeconds)
	maxMultiplier = atLeastOne(maxMultiplier)
	maxDelay = atLeastOne(maxDelay)

	base := atLeastOne((windowSeconds + rate - 1) / rate)

	multiplier := maxMultiplier
	if shift := attempt - 1; shift <= maxShift && 1<<shift < maxMultiplier {
		multiplier = 1 << shift
	}

	if base > maxDelay/multiplier {
		return maxDelay
	}
	return min(base*multiplier, maxDelay)
}

func jitter(delay int, jitterPercent, f float64) int {
	if math.IsNaN(jitterPercent) || jitterPercent < 0 {
		jitterPercent = 0
	}
	jitterPercent = math.Min(jitterPercent, 1)
	if math.IsNaN(f) || f < 0 {
		f = 0
	}
	f = math.Min(f, 1)

	delay += int(math.Round(float64(delay) * jitterPercent * f))
	return atLeastOne(delay)
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
