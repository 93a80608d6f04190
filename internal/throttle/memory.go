package throttle

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry holds a key's token bucket and its last access time for cleanup.
type entry struct {
	limiter  *rate.Limiter
	limit    int
	window   int
	lastSeen time.Time
}

// MemoryStore is an in-process CounterStore backed by golang.org/x/time/rate.
// Each key gets a token bucket holding limit tokens that refills limit tokens
// per window. A background goroutine evicts keys that have not been used
// within 2x the cleanup interval.
//
// Its counters are local to the process, so it only enforces a fleet-wide
// limit when a single worker process is running. Use RedisStore otherwise.
type MemoryStore struct {
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for refills and eviction.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates a memory store and starts its eviction goroutine.
func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		entries:         make(map[string]*entry),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanup()
	return m
}

// TryAcquire takes one token from key's bucket if one is available.
func (m *MemoryStore) TryAcquire(ctx context.Context, key string, limit int, windowSeconds int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	refill := rate.Limit(float64(limit) / float64(windowSeconds))

	e, exists := m.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(refill, limit),
			limit:   limit,
			window:  windowSeconds,
		}
		m.entries[key] = e
	} else if e.limit != limit || e.window != windowSeconds {
		e.limiter.SetLimitAt(now, refill)
		e.limiter.SetBurstAt(now, limit)
		e.limit = limit
		e.window = windowSeconds
	}
	e.lastSeen = now

	allowed := e.limiter.AllowN(now, 1)

	tokens := e.limiter.TokensAt(now)
	res := Result{
		Allowed:   allowed,
		Remaining: int(math.Max(0, math.Floor(tokens))),
	}
	if tokens < 1 {
		// Time until the next whole token is available
		res.ResetAfter = time.Duration((1 - tokens) / float64(refill) * float64(time.Second))
	}

	return res, nil
}

// Ping always succeeds for the memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close stops the background cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// cleanup periodically evicts entries that have not been accessed within
// 2x the cleanup interval.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

// evictStale removes entries older than 2x the cleanup interval.
func (m *MemoryStore) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-2 * m.cleanupInterval)
	for key, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
