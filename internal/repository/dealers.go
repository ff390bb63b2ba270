package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caliberscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// GetDealer loads one dealer with its contact list. Returns (nil, nil)
// when the dealer does not exist.
func (r *Repository) GetDealer(ctx context.Context, id string) (*models.Dealer, error) {
	var d models.Dealer
	var contacts []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, business_name, email, contacts, subscription_status,
		       expires_at, grace_days, last_subscription_notify_at, tier,
		       webhook_url, created_at, updated_at
		FROM dealers WHERE id = $1`, id,
	).Scan(&d.ID, &d.BusinessName, &d.Email, &contacts, &d.SubscriptionStatus,
		&d.ExpiresAt, &d.GraceDays, &d.LastSubscriptionNotifyAt, &d.Tier,
		&d.WebhookURL, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dealer %s: %w", id, err)
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &d.Contacts); err != nil {
			return nil, fmt.Errorf("decode contacts for dealer %s: %w", id, err)
		}
	}
	return &d, nil
}

// ClaimSubscriptionNotice atomically claims the right to send one
// subscription-expiry notification. The conditional update enforces the
// 24-hour limit without a read-modify-write race: only the replica whose
// UPDATE matches gets true.
func (r *Repository) ClaimSubscriptionNotice(ctx context.Context, dealerID string, now time.Time) (bool, error) {
	var id string
	err := r.db.QueryRow(ctx, `
		UPDATE dealers SET last_subscription_notify_at = $2, updated_at = NOW()
		WHERE id = $1
		  AND (last_subscription_notify_at IS NULL
		       OR last_subscription_notify_at <= $2 - INTERVAL '24 hours')
		RETURNING id`, dealerID, now,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim subscription notice for %s: %w", dealerID, err)
	}
	return true, nil
}

// InsertNotification appends one row to the notification audit trail.
func (r *Repository) InsertNotification(ctx context.Context, id, dealerID, feedID, kind, recipient, subject, body string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, dealer_id, feed_id, kind, recipient, subject, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		id, dealerID, feedID, kind, recipient, subject, body)
	return err
}

// ListInsights returns a dealer's most recent insights.
func (r *Repository) ListInsights(ctx context.Context, dealerID string, limit int) ([]models.Insight, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, dealer_id, canonical_sku_id, type, severity,
		       dealer_price, benchmark_median, diff_pct, detail, computed_at
		FROM insights
		WHERE dealer_id = $1
		ORDER BY computed_at DESC
		LIMIT $2`, dealerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Insight
	for rows.Next() {
		var in models.Insight
		if err := rows.Scan(&in.ID, &in.DealerID, &in.CanonicalSkuID, &in.Type, &in.Severity,
			&in.DealerPrice, &in.BenchmarkMedian, &in.DiffPct, &in.Detail, &in.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
