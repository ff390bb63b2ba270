package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue names, one durable FIFO per pipeline stage.
const (
	QueueIngest    = "ingest"
	QueueMatch     = "match"
	QueueBenchmark = "benchmark"
	QueueInsight   = "insight"
)

// Job statuses.
const (
	StatusPending   = "PENDING"
	StatusActive    = "ACTIVE"
	StatusCompleted = "COMPLETED"
	StatusDead      = "DEAD"
)

// ErrNoJob is returned by Claim when nothing is runnable.
var ErrNoJob = errors.New("no job available")

// leaseDuration is how long a claimed job stays invisible before the
// reaper returns it to PENDING.
const leaseDuration = 5 * time.Minute

// Job is one unit of queued work. The ID is caller-supplied and unique, so
// re-enqueueing the same logical job is a no-op.
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	Priority    int
	Attempt     int
	MaxAttempts int
	BackoffBase time.Duration
	RunAt       time.Time
}

// Queue is a durable at-least-once job queue over Postgres. Claims use
// FOR UPDATE SKIP LOCKED so replicas never hand out the same job twice.
type Queue struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts the job and reports whether it was newly created. A
// conflicting ID means an identical job already exists; the scheduler
// relies on this for cross-replica idempotency.
func (q *Queue) Enqueue(ctx context.Context, j Job) (bool, error) {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	if j.BackoffBase <= 0 {
		j.BackoffBase = 5 * time.Second
	}
	if j.RunAt.IsZero() {
		j.RunAt = time.Now()
	}
	var id string
	err := q.db.QueryRow(ctx, `
		INSERT INTO jobs (id, queue, payload, priority, status, max_attempts, backoff_base_ms, run_at)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`,
		j.ID, j.Queue, j.Payload, j.Priority, j.MaxAttempts, j.BackoffBase.Milliseconds(), j.RunAt,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", j.ID, err)
	}
	return true, nil
}

// Claim leases the next runnable job on the named queue, highest priority
// first, then oldest run_at. Returns ErrNoJob when the queue is drained.
func (q *Queue) Claim(ctx context.Context, queueName, workerID string) (*Job, error) {
	j := &Job{Queue: queueName}
	var backoffMs int64
	err := q.db.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'ACTIVE',
			leased_by = $2,
			lease_expires_at = NOW() + $3::interval,
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND status = 'PENDING' AND run_at <= NOW()
			ORDER BY priority DESC, run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, payload, priority, attempt, max_attempts, backoff_base_ms, run_at`,
		queueName, workerID, leaseDuration.String(),
	).Scan(&j.ID, &j.Payload, &j.Priority, &j.Attempt, &j.MaxAttempts, &backoffMs, &j.RunAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", queueName, err)
	}
	j.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	return j, nil
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'COMPLETED', last_error = '', updated_at = NOW()
		WHERE id = $1`, jobID)
	return err
}

// Fail records a failed attempt. The job returns to PENDING with
// exponential backoff until max_attempts is exhausted, then goes DEAD.
func (q *Queue) Fail(ctx context.Context, j *Job, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
		if len(msg) > 2000 {
			msg = msg[:2000]
		}
	}
	delay := Backoff(j.BackoffBase, j.Attempt+1)
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET
			attempt = attempt + 1,
			status = CASE WHEN attempt + 1 >= max_attempts THEN 'DEAD' ELSE 'PENDING' END,
			run_at = NOW() + $2::interval,
			leased_by = '',
			lease_expires_at = NULL,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID, delay.String(), msg)
	return err
}

// Backoff returns the delay before the given attempt (1-based) re-runs:
// base doubled per prior attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// ReapExpired returns jobs with expired leases to PENDING so another
// worker can pick them up. A crashed worker's jobs resurface this way.
func (q *Queue) ReapExpired(ctx context.Context) (int64, error) {
	cmd, err := q.db.Exec(ctx, `
		UPDATE jobs SET
			status = 'PENDING',
			leased_by = '',
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE status = 'ACTIVE' AND lease_expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// RequeueDead flips DEAD jobs of a queue back to PENDING with a fresh
// attempt budget. Operator tooling only.
func (q *Queue) RequeueDead(ctx context.Context, queueName string) (int64, error) {
	cmd, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'PENDING', attempt = 0, run_at = NOW(), updated_at = NOW()
		WHERE queue = $1 AND status = 'DEAD'`, queueName)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// Depths reports per-queue, per-status job counts for the status API.
func (q *Queue) Depths(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := q.db.Query(ctx, `
		SELECT queue, status, COUNT(*) FROM jobs
		WHERE status IN ('PENDING', 'ACTIVE', 'DEAD')
		GROUP BY queue, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]int)
	for rows.Next() {
		var queueName, status string
		var n int
		if err := rows.Scan(&queueName, &status, &n); err != nil {
			return nil, err
		}
		if out[queueName] == nil {
			out[queueName] = make(map[string]int)
		}
		out[queueName][status] = n
	}
	return out, rows.Err()
}
