package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue(t *testing.T) {
	runQueueSuite(t, func(t *testing.T) Queue {
		q := NewMemoryQueue("mail")
		t.Cleanup(func() { q.Close() })
		return q
	})
}

func TestMemoryQueue_DelayElapses(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewMemoryQueue("mail", WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, newTestJob(t, "resend", "a@example.com")))
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, job, 8*time.Second))

	now = now.Add(7 * time.Second)
	_, err = q.Reserve(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	now = now.Add(time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts())
}

func TestMemoryQueue_ReclaimsStaleReservation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewMemoryQueue("mail",
		WithClock(func() time.Time { return now }),
		WithReservationTimeout(time.Minute),
	)

	runReclaimSuite(t, q, func() { now = now.Add(time.Minute) })
}

func TestMemoryQueue_ReclaimDisabled(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewMemoryQueue("mail",
		WithClock(func() time.Time { return now }),
		WithReservationTimeout(0),
	)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, newTestJob(t, "resend", "a@example.com")))
	_, err := q.Reserve(ctx)
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	_, err = q.Reserve(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryQueue_Failed(t *testing.T) {
	q := NewMemoryQueue("mail")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, newTestJob(t, "resend", "a@example.com")))
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Bury(ctx, job, errors.New("rejected")))

	failed := q.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
	assert.Equal(t, "rejected", failed[0].LastError)
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue("mail")
	require.NoError(t, q.Close())

	assert.Error(t, q.Ping(context.Background()))
	assert.Error(t, q.Push(context.Background(), newTestJob(t, "resend", "a@example.com")))
}

func TestMemoryQueue_CanceledContext(t *testing.T) {
	q := NewMemoryQueue("mail")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Reserve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
