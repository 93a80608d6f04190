package throttle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore(5 * time.Minute)
	defer store.Close()

	assert.NotNil(t, store)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestMemoryStore_TryAcquire_UnderLimit(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(5*time.Minute, WithClock(clock.Now))
	defer store.Close()

	res, err := store.TryAcquire(context.Background(), "k", 5, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
	assert.Zero(t, res.ResetAfter)
}

func TestMemoryStore_TryAcquire_ExceedsLimit(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(5*time.Minute, WithClock(clock.Now))
	defer store.Close()

	for i := 0; i < 3; i++ {
		res, err := store.TryAcquire(context.Background(), "k", 3, 60)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "send %d should be allowed", i+1)
	}

	res, err := store.TryAcquire(context.Background(), "k", 3, 60)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.ResetAfter, time.Duration(0))
}

func TestMemoryStore_TryAcquire_Refill(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(5*time.Minute, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	// 2 per second: one token every 500ms
	for i := 0; i < 2; i++ {
		res, err := store.TryAcquire(ctx, "k", 2, 1)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := store.TryAcquire(ctx, "k", 2, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.Advance(500 * time.Millisecond)

	res, err = store.TryAcquire(ctx, "k", 2, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = store.TryAcquire(ctx, "k", 2, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.Advance(10 * time.Second)

	for i := 0; i < 2; i++ {
		res, err = store.TryAcquire(ctx, "k", 2, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "bucket should be full again")
	}
}

func TestMemoryStore_TryAcquire_DifferentKeys(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(5*time.Minute, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	// Exhaust key1
	_, err := store.TryAcquire(ctx, "key1", 1, 10)
	require.NoError(t, err)
	res, err := store.TryAcquire(ctx, "key1", 1, 10)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "key1 should be denied")

	// key2 should still be allowed
	res, err = store.TryAcquire(ctx, "key2", 1, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "key2 should be allowed")
}

func TestMemoryStore_TryAcquire_CanceledContext(t *testing.T) {
	store := NewMemoryStore(5 * time.Minute)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.TryAcquire(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(5*time.Minute, WithClock(clock.Now))
	defer store.Close()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.TryAcquire(context.Background(), "shared", 7, 1)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(7), allowed.Load())
}

func TestMemoryStore_ConcurrentKeys(t *testing.T) {
	store := NewMemoryStore(5 * time.Minute)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("mailer-%d", id%5)
			for j := 0; j < 20; j++ {
				_, _ = store.TryAcquire(context.Background(), key, 100, 1)
			}
		}(i)
	}
	wg.Wait()
	// No panics or data races -- run with -race flag
}

func TestMemoryStore_LimitChange(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(5*time.Minute, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	_, err := store.TryAcquire(ctx, "k", 1, 1)
	require.NoError(t, err)

	_, err = store.TryAcquire(ctx, "k", 4, 2)
	require.NoError(t, err)

	store.mu.Lock()
	e := store.entries["k"]
	store.mu.Unlock()
	assert.Equal(t, 4, e.limit)
	assert.Equal(t, 2, e.window)
	assert.Equal(t, 4, e.limiter.Burst())
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore(100 * time.Millisecond)
	assert.NoError(t, store.Close())
	// Should not panic on double close
	assert.NoError(t, store.Close())
}

func TestMemoryStore_Cleanup(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(20*time.Millisecond, WithClock(clock.Now))
	defer store.Close()

	_, err := store.TryAcquire(context.Background(), "ephemeral-key", 1, 1)
	require.NoError(t, err)

	store.mu.Lock()
	_, exists := store.entries["ephemeral-key"]
	store.mu.Unlock()
	require.True(t, exists, "key should exist before cleanup")

	clock.Advance(time.Hour)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, exists := store.entries["ephemeral-key"]
		return !exists
	}, 2*time.Second, 10*time.Millisecond, "key should be evicted after inactivity")
}
