package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caliberscan/internal/models"

	"github.com/jackc/pgx/v5"
)

const feedColumns = `
	id, dealer_id, name, transport, format, url, username, password,
	schedule_minutes, enabled, status, feed_hash, last_success_at,
	last_failure_at, last_run_at, last_error, primary_error_code,
	created_at, updated_at`

func scanFeed(row pgx.Row) (*models.Feed, error) {
	var f models.Feed
	err := row.Scan(&f.ID, &f.DealerID, &f.Name, &f.Transport, &f.Format, &f.URL,
		&f.Username, &f.Password, &f.ScheduleMinutes, &f.Enabled, &f.Status,
		&f.FeedHash, &f.LastSuccessAt, &f.LastFailureAt, &f.LastRunAt,
		&f.LastError, &f.PrimaryErrorCode, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFeed loads one feed. Returns (nil, nil) when absent.
func (r *Repository) GetFeed(ctx context.Context, id string) (*models.Feed, error) {
	f, err := scanFeed(r.db.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed %s: %w", id, err)
	}
	return f, nil
}

// ListFeeds returns every configured feed, newest first.
func (r *Repository) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	rows, err := r.db.Query(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// SchedulableFeed pairs a feed with its owning dealer for the scheduler's
// due-check; subscription state is evaluated in Go, not SQL.
type SchedulableFeed struct {
	Feed   models.Feed
	Dealer models.Dealer
}

// ListSchedulableFeeds returns enabled, non-FAILED feeds joined with their
// dealers. FAILED feeds stay out until an operator re-enables them.
func (r *Repository) ListSchedulableFeeds(ctx context.Context) ([]SchedulableFeed, error) {
	rows, err := r.db.Query(ctx, `
		SELECT f.id, f.dealer_id, f.name, f.transport, f.format, f.url, f.username, f.password,
		       f.schedule_minutes, f.enabled, f.status, f.feed_hash, f.last_success_at,
		       f.last_failure_at, f.last_run_at, f.last_error, f.primary_error_code,
		       f.created_at, f.updated_at,
		       d.business_name, d.subscription_status, d.expires_at, d.grace_days, d.tier, d.contacts
		FROM feeds f
		JOIN dealers d ON d.id = f.dealer_id
		WHERE f.enabled = TRUE AND f.status <> 'FAILED'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SchedulableFeed
	for rows.Next() {
		var s SchedulableFeed
		var contacts []byte
		err := rows.Scan(&s.Feed.ID, &s.Feed.DealerID, &s.Feed.Name, &s.Feed.Transport,
			&s.Feed.Format, &s.Feed.URL, &s.Feed.Username, &s.Feed.Password,
			&s.Feed.ScheduleMinutes, &s.Feed.Enabled, &s.Feed.Status, &s.Feed.FeedHash,
			&s.Feed.LastSuccessAt, &s.Feed.LastFailureAt, &s.Feed.LastRunAt,
			&s.Feed.LastError, &s.Feed.PrimaryErrorCode, &s.Feed.CreatedAt, &s.Feed.UpdatedAt,
			&s.Dealer.BusinessName, &s.Dealer.SubscriptionStatus, &s.Dealer.ExpiresAt,
			&s.Dealer.GraceDays, &s.Dealer.Tier, &contacts)
		if err != nil {
			return nil, err
		}
		s.Dealer.ID = s.Feed.DealerID
		if len(contacts) > 0 {
			if err := json.Unmarshal(contacts, &s.Dealer.Contacts); err != nil {
				return nil, fmt.Errorf("decode contacts for dealer %s: %w", s.Dealer.ID, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TouchFeedLastRun stamps last_run_at after the scheduler wins the enqueue.
func (r *Repository) TouchFeedLastRun(ctx context.Context, feedID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE feeds SET last_run_at = $2, updated_at = NOW() WHERE id = $1`, feedID, at)
	return err
}

// ClearFeedFailure resets a FAILED feed so manual ingest can run it again.
func (r *Repository) ClearFeedFailure(ctx context.Context, feedID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE feeds SET status = 'PENDING', last_error = '', primary_error_code = '', updated_at = NOW()
		WHERE id = $1 AND status = 'FAILED'`, feedID)
	return err
}

// SetFeedEnabled flips the scheduler gate for one feed.
func (r *Repository) SetFeedEnabled(ctx context.Context, feedID string, enabled bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE feeds SET enabled = $2, updated_at = NOW() WHERE id = $1`, feedID, enabled)
	return err
}

// CommitFeedSuccess writes the post-run feed row in one statement: new
// content hash, health status, timestamps and triage fields.
func (r *Repository) CommitFeedSuccess(ctx context.Context, feedID, feedHash, status, primaryErrorCode string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE feeds SET
			feed_hash = $2,
			status = $3,
			primary_error_code = $4,
			last_error = '',
			last_success_at = $5,
			last_run_at = $5,
			updated_at = NOW()
		WHERE id = $1`,
		feedID, feedHash, status, primaryErrorCode, at)
	if err != nil {
		return fmt.Errorf("commit feed %s: %w", feedID, err)
	}
	return nil
}

// CommitFeedFailure marks the feed FAILED with the classified error. The
// scheduler skips FAILED feeds until an operator clears them.
func (r *Repository) CommitFeedFailure(ctx context.Context, feedID, primaryErrorCode, lastError string, at time.Time) error {
	if len(lastError) > 2000 {
		lastError = lastError[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE feeds SET
			status = 'FAILED',
			primary_error_code = $2,
			last_error = $3,
			last_failure_at = $4,
			last_run_at = $4,
			updated_at = NOW()
		WHERE id = $1`,
		feedID, primaryErrorCode, lastError, at)
	if err != nil {
		return fmt.Errorf("fail feed %s: %w", feedID, err)
	}
	return nil
}

// TouchFeedUnchanged stamps a successful no-change run without altering
// hash, status or error fields.
func (r *Repository) TouchFeedUnchanged(ctx context.Context, feedID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE feeds SET last_success_at = $2, last_run_at = $2, updated_at = NOW()
		WHERE id = $1`, feedID, at)
	return err
}

// CountFeedsByStatus powers the status endpoint.
func (r *Repository) CountFeedsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM feeds GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
