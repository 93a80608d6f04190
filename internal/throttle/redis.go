package throttle

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowSource string

var fixedWindowScript = redis.NewScript(fixedWindowSource)

// DefaultCommandTimeout bounds one TryAcquire round trip.
const DefaultCommandTimeout = 250 * time.Millisecond

// RedisStore is a CounterStore backed by Redis. Each key is a fixed window
// counter maintained by a Lua script, so the increment, the expiry and the
// limit check are one atomic step for every worker sharing the Redis server.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout sets the deadline applied to each TryAcquire call. Zero keeps
// only the caller's context deadline.
func WithTimeout(d time.Duration) RedisOption {
	return func(r *RedisStore) {
		r.timeout = d
	}
}

// NewRedisStore creates a store on top of client. The client is owned by the
// caller and is not closed by the store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client:  client,
		timeout: DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryAcquire increments key's counter for the current window and reports
// whether it is still within limit. The script is run with EVALSHA and falls
// back to EVAL when the server's script cache was flushed.
func (r *RedisStore) TryAcquire(ctx context.Context, key string, limit int, windowSeconds int) (Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	window := time.Duration(windowSeconds) * time.Second
	values, err := fixedWindowScript.Run(ctx, r.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("fixed window script: %w", err)
	}
	if len(values) != 3 {
		return Result{}, errors.New("invalid fixed window script response")
	}

	remaining := int64(limit) - values[1]
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:    values[0] == 1,
		Remaining:  int(remaining),
		ResetAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
