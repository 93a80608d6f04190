package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mail_jobs (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL,
	mailer       TEXT NOT NULL DEFAULT '',
	payload      BLOB NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	available_at INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	reserved_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS mail_jobs_ready ON mail_jobs (queue, status, available_at);
CREATE INDEX IF NOT EXISTS mail_jobs_reserved ON mail_jobs (queue, status, reserved_at);
`

// SQLiteQueue stores jobs in a single SQLite database file. Times are stored
// as unix milliseconds.
type SQLiteQueue struct {
	db                 *sql.DB
	name               string
	now                func() time.Time
	reservationTimeout time.Duration
}

// NewSQLiteQueue opens (and if needed creates) the queue database at dsn.
func NewSQLiteQueue(dsn, name string, opts ...Option) (*SQLiteQueue, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for SQLite queue")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers, so reservations never hit SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	o := buildOptions(opts)
	return &SQLiteQueue{db: db, name: name, now: o.now, reservationTimeout: o.reservationTimeout}, nil
}

func (sq *SQLiteQueue) Push(ctx context.Context, job *Job) error {
	job.prepare(sq.name, sq.now())

	_, err := sq.db.ExecContext(ctx,
		`INSERT INTO mail_jobs (id, queue, mailer, payload, attempts, status, available_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Queue, job.Mailer, []byte(job.Payload), job.Tries, StatusPending,
		job.AvailableAt.UnixMilli(), job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to push job %s: %w", job.ID, err)
	}
	return nil
}

// Reserve claims the next ready job. A job reserved longer ago than the
// reservation timeout is ready again.
func (sq *SQLiteQueue) Reserve(ctx context.Context) (*Job, error) {
	now := sq.now()
	timeout := sq.reservationTimeout.Milliseconds()

	tx, err := sq.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		job         Job
		payload     []byte
		availableAt int64
		createdAt   int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, queue, mailer, payload, attempts, available_at, created_at, last_error
		 FROM mail_jobs
		 WHERE queue = ? AND (
			(status = ? AND available_at <= ?) OR
			(status = ? AND ? > 0 AND reserved_at <= ?)
		 )
		 ORDER BY available_at, created_at
		 LIMIT 1`,
		sq.name, StatusPending, now.UnixMilli(),
		StatusReserved, timeout, now.UnixMilli()-timeout,
	).Scan(&job.ID, &job.Queue, &job.Mailer, &payload, &job.Tries, &availableAt, &createdAt, &job.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select job: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE mail_jobs SET status = ?, attempts = attempts + 1, reserved_at = ? WHERE id = ?`,
		StatusReserved, now.UnixMilli(), job.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to reserve job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	job.Payload = payload
	job.Tries++
	job.AvailableAt = time.UnixMilli(availableAt)
	job.CreatedAt = time.UnixMilli(createdAt)
	job.ReservedAt = time.UnixMilli(now.UnixMilli())
	return &job, nil
}

func (sq *SQLiteQueue) Release(ctx context.Context, job *Job, delay time.Duration) error {
	availableAt := sq.now().Add(delay)
	if err := sq.updateReserved(ctx, job,
		`UPDATE mail_jobs SET status = ?, available_at = ?, reserved_at = 0
		 WHERE id = ? AND status = ? AND reserved_at = ?`,
		StatusPending, availableAt.UnixMilli(), job.ID, StatusReserved, job.ReservedAt.UnixMilli(),
	); err != nil {
		return err
	}
	job.AvailableAt = availableAt
	job.released = true
	return nil
}

func (sq *SQLiteQueue) Delete(ctx context.Context, job *Job) error {
	return sq.updateReserved(ctx, job,
		`DELETE FROM mail_jobs WHERE id = ? AND status = ? AND reserved_at = ?`,
		job.ID, StatusReserved, job.ReservedAt.UnixMilli(),
	)
}

func (sq *SQLiteQueue) Bury(ctx context.Context, job *Job, reason error) error {
	if err := sq.updateReserved(ctx, job,
		`UPDATE mail_jobs SET status = ?, last_error = ? WHERE id = ? AND status = ? AND reserved_at = ?`,
		StatusFailed, errorText(reason), job.ID, StatusReserved, job.ReservedAt.UnixMilli(),
	); err != nil {
		return err
	}
	job.LastError = errorText(reason)
	return nil
}

func (sq *SQLiteQueue) Size(ctx context.Context) (int, error) {
	var n int
	err := sq.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mail_jobs WHERE queue = ? AND status = ?`,
		sq.name, StatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

func (sq *SQLiteQueue) Ping(ctx context.Context) error {
	return sq.db.PingContext(ctx)
}

func (sq *SQLiteQueue) Close() error {
	return sq.db.Close()
}

func (sq *SQLiteQueue) updateReserved(ctx context.Context, job *Job, query string, args ...any) error {
	res, err := sq.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}
