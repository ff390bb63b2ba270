package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caliberscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// CreateFeedRun inserts a PENDING run row. The scheduler creates the run
// when it wins the enqueue; re-inserting the same ID is a no-op.
func (r *Repository) CreateFeedRun(ctx context.Context, run *models.FeedRun) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO feed_runs (id, feed_id, dealer_id, status, trigger_kind, admin_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, run.FeedID, run.DealerID, run.Status, run.Trigger, run.AdminID)
	if err != nil {
		return fmt.Errorf("create feed run %s: %w", run.ID, err)
	}
	return nil
}

// MarkRunRunning flips the run to RUNNING and stamps started_at. Replayed
// jobs (queue retry) pass through again; the earliest start wins.
func (r *Repository) MarkRunRunning(ctx context.Context, runID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE feed_runs SET status = 'RUNNING', started_at = COALESCE(started_at, $2)
		WHERE id = $1`, runID, at)
	return err
}

// FinishRun commits the terminal run state: counts, histogram, samples and
// timing. Last write wins, which is what queue retries need.
func (r *Repository) FinishRun(ctx context.Context, run *models.FeedRun) error {
	codes, err := json.Marshal(run.ErrorCodes)
	if err != nil {
		return fmt.Errorf("encode error codes: %w", err)
	}
	if run.ErrorCodes == nil {
		codes = []byte("{}")
	}
	samples, err := json.Marshal(run.ErrorSamples)
	if err != nil {
		return fmt.Errorf("encode error samples: %w", err)
	}
	if run.ErrorSamples == nil {
		samples = []byte("[]")
	}

	_, err = r.db.Exec(ctx, `
		UPDATE feed_runs SET
			status = $2,
			total = $3,
			indexed = $4,
			quarantined = $5,
			rejected = $6,
			coercions = $7,
			primary_error_code = $8,
			error_codes = $9,
			error_samples = $10,
			error_message = $11,
			skip_reason = $12,
			finished_at = $13,
			duration_ms = $14
		WHERE id = $1`,
		run.ID, run.Status, run.Total, run.Indexed, run.Quarantined, run.Rejected,
		run.Coercions, run.PrimaryErrorCode, codes, samples, run.ErrorMessage,
		run.SkipReason, run.FinishedAt, run.DurationMs)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `
	id, feed_id, dealer_id, status, trigger_kind, total, indexed, quarantined,
	rejected, coercions, primary_error_code, error_codes, error_samples,
	error_message, skip_reason, admin_id, started_at, finished_at, duration_ms,
	created_at`

func scanRun(row pgx.Row) (*models.FeedRun, error) {
	var run models.FeedRun
	var codes, samples []byte
	err := row.Scan(&run.ID, &run.FeedID, &run.DealerID, &run.Status, &run.Trigger,
		&run.Total, &run.Indexed, &run.Quarantined, &run.Rejected, &run.Coercions,
		&run.PrimaryErrorCode, &codes, &samples, &run.ErrorMessage, &run.SkipReason,
		&run.AdminID, &run.StartedAt, &run.FinishedAt, &run.DurationMs, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(codes) > 0 {
		if err := json.Unmarshal(codes, &run.ErrorCodes); err != nil {
			return nil, fmt.Errorf("decode error codes: %w", err)
		}
	}
	if len(samples) > 0 {
		if err := json.Unmarshal(samples, &run.ErrorSamples); err != nil {
			return nil, fmt.Errorf("decode error samples: %w", err)
		}
	}
	return &run, nil
}

// GetFeedRun loads one run. Returns (nil, nil) when absent.
func (r *Repository) GetFeedRun(ctx context.Context, id string) (*models.FeedRun, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM feed_runs WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed run %s: %w", id, err)
	}
	return run, nil
}

// ListFeedRuns returns a feed's recent runs, newest first.
func (r *Repository) ListFeedRuns(ctx context.Context, feedID string, limit int) ([]models.FeedRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+runColumns+` FROM feed_runs
		WHERE feed_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, feedID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FeedRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}
