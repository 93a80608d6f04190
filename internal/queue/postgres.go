package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS mail_jobs (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL,
	mailer       TEXT NOT NULL DEFAULT '',
	payload      BYTEA NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	available_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	reserved_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS mail_jobs_ready ON mail_jobs (queue, status, available_at);
CREATE INDEX IF NOT EXISTS mail_jobs_reserved ON mail_jobs (queue, status, reserved_at);
`

// PostgresQueue stores jobs in PostgreSQL. Reservation uses
// FOR UPDATE SKIP LOCKED so concurrent workers never claim the same job.
type PostgresQueue struct {
	pool               *pgxpool.Pool
	name               string
	reservationTimeout time.Duration
}

// NewPostgresQueue connects to dsn and creates the jobs table if needed.
func NewPostgresQueue(ctx context.Context, dsn, name string, opts ...Option) (*PostgresQueue, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL queue")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	o := buildOptions(opts)
	return &PostgresQueue{pool: pool, name: name, reservationTimeout: o.reservationTimeout}, nil
}

func (pq *PostgresQueue) Push(ctx context.Context, job *Job) error {
	job.prepare(pq.name, time.Now())

	_, err := pq.pool.Exec(ctx,
		`INSERT INTO mail_jobs (id, queue, mailer, payload, attempts, status, available_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Queue, job.Mailer, []byte(job.Payload), job.Tries, StatusPending,
		job.AvailableAt, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to push job %s: %w", job.ID, err)
	}
	return nil
}

// Reserve claims the next ready job. A job reserved longer ago than the
// reservation timeout is ready again.
func (pq *PostgresQueue) Reserve(ctx context.Context) (*Job, error) {
	var (
		job     Job
		payload []byte
	)
	err := pq.pool.QueryRow(ctx,
		`UPDATE mail_jobs SET status = $1, attempts = attempts + 1, reserved_at = now()
		 WHERE id = (
			SELECT id FROM mail_jobs
			WHERE queue = $2 AND (
				(status = $3 AND available_at <= now()) OR
				(status = $1 AND $4::float8 > 0 AND reserved_at <= now() - make_interval(secs => $4::float8))
			)
			ORDER BY available_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		 )
		 RETURNING id, queue, mailer, payload, attempts, available_at, created_at, last_error, reserved_at`,
		StatusReserved, pq.name, StatusPending, pq.reservationTimeout.Seconds(),
	).Scan(&job.ID, &job.Queue, &job.Mailer, &payload, &job.Tries, &job.AvailableAt, &job.CreatedAt, &job.LastError, &job.ReservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve job: %w", err)
	}

	job.Payload = payload
	return &job, nil
}

func (pq *PostgresQueue) Release(ctx context.Context, job *Job, delay time.Duration) error {
	var availableAt time.Time
	err := pq.pool.QueryRow(ctx,
		`UPDATE mail_jobs SET status = $1, available_at = now() + make_interval(secs => $2), reserved_at = NULL
		 WHERE id = $3 AND status = $4 AND reserved_at = $5
		 RETURNING available_at`,
		StatusPending, delay.Seconds(), job.ID, StatusReserved, job.ReservedAt,
	).Scan(&availableAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to release job %s: %w", job.ID, err)
	}

	job.AvailableAt = availableAt
	job.released = true
	return nil
}

func (pq *PostgresQueue) Delete(ctx context.Context, job *Job) error {
	tag, err := pq.pool.Exec(ctx,
		`DELETE FROM mail_jobs WHERE id = $1 AND status = $2 AND reserved_at = $3`,
		job.ID, StatusReserved, job.ReservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

func (pq *PostgresQueue) Bury(ctx context.Context, job *Job, reason error) error {
	tag, err := pq.pool.Exec(ctx,
		`UPDATE mail_jobs SET status = $1, last_error = $2 WHERE id = $3 AND status = $4 AND reserved_at = $5`,
		StatusFailed, errorText(reason), job.ID, StatusReserved, job.ReservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to bury job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	job.LastError = errorText(reason)
	return nil
}

func (pq *PostgresQueue) Size(ctx context.Context) (int, error) {
	var n int
	err := pq.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mail_jobs WHERE queue = $1 AND status = $2`,
		pq.name, StatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

func (pq *PostgresQueue) Ping(ctx context.Context) error {
	return pq.pool.Ping(ctx)
}

func (pq *PostgresQueue) Close() error {
	pq.pool.Close()
	return nil
}
