package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	q, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"), "mail")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestSQLiteQueue(t *testing.T) {
	runQueueSuite(t, func(t *testing.T) Queue {
		return newSQLiteTestQueue(t)
	})
}

func TestSQLiteQueue_RequiresDSN(t *testing.T) {
	_, err := NewSQLiteQueue("", "mail")
	assert.Error(t, err)
}

func TestSQLiteQueue_DelayElapses(t *testing.T) {
	q := newSQLiteTestQueue(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, newTestJob(t, "resend", "a@example.com")))
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, job, 4*time.Second))
	assert.Equal(t, now.Add(4*time.Second).UnixMilli(), job.AvailableAt.UnixMilli())

	now = now.Add(3 * time.Second)
	_, err = q.Reserve(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	now = now.Add(time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts())
}

func TestSQLiteQueue_ReclaimsStaleReservation(t *testing.T) {
	q, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"), "mail", WithReservationTimeout(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	runReclaimSuite(t, q, func() { now = now.Add(time.Minute) })
}

func TestSQLiteQueue_QueuesAreIsolated(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "queue.db")
	mail, err := NewSQLiteQueue(dsn, "mail")
	require.NoError(t, err)
	defer mail.Close()
	bulk, err := NewSQLiteQueue(dsn, "bulk")
	require.NoError(t, err)
	defer bulk.Close()

	ctx := context.Background()
	require.NoError(t, bulk.Push(ctx, newTestJob(t, "ses", "a@example.com")))

	_, err = mail.Reserve(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	job, err := bulk.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bulk", job.Queue)
}
