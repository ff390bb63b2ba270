package repository

import (
	"context"
	"fmt"

	"caliberscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertBenchmark writes one canonical's price statistics, last write wins.
func (r *Repository) UpsertBenchmark(ctx context.Context, b *models.Benchmark) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO benchmarks (canonical_sku_id, min_price, median_price, max_price,
		                        mean_price, seller_count, confidence, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (canonical_sku_id) DO UPDATE SET
			min_price = EXCLUDED.min_price,
			median_price = EXCLUDED.median_price,
			max_price = EXCLUDED.max_price,
			mean_price = EXCLUDED.mean_price,
			seller_count = EXCLUDED.seller_count,
			confidence = EXCLUDED.confidence,
			computed_at = EXCLUDED.computed_at`,
		b.CanonicalSkuID, b.MinPrice, b.MedianPrice, b.MaxPrice, b.MeanPrice,
		b.SellerCount, b.Confidence, b.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert benchmark %s: %w", b.CanonicalSkuID, err)
	}
	return nil
}

// GetBenchmark loads one canonical's benchmark. Returns (nil, nil) when
// none has been computed.
func (r *Repository) GetBenchmark(ctx context.Context, canonicalID string) (*models.Benchmark, error) {
	var b models.Benchmark
	err := r.db.QueryRow(ctx, `
		SELECT canonical_sku_id, min_price, median_price, max_price, mean_price,
		       seller_count, confidence, computed_at
		FROM benchmarks WHERE canonical_sku_id = $1`, canonicalID,
	).Scan(&b.CanonicalSkuID, &b.MinPrice, &b.MedianPrice, &b.MaxPrice,
		&b.MeanPrice, &b.SellerCount, &b.Confidence, &b.ComputedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get benchmark %s: %w", canonicalID, err)
	}
	return &b, nil
}

// ReplaceInsights swaps a (dealer, canonical) pair's insights in one
// transaction, so a recompute never leaves stale findings behind.
func (r *Repository) ReplaceInsights(ctx context.Context, dealerID, canonicalID string, insights []models.Insight) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM insights WHERE dealer_id = $1 AND canonical_sku_id = $2`,
		dealerID, canonicalID)
	if err != nil {
		return fmt.Errorf("clear insights %s/%s: %w", dealerID, canonicalID, err)
	}

	for _, in := range insights {
		_, err = tx.Exec(ctx, `
			INSERT INTO insights (id, dealer_id, canonical_sku_id, type, severity,
			                      dealer_price, benchmark_median, diff_pct, detail, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			in.ID, in.DealerID, in.CanonicalSkuID, in.Type, in.Severity,
			in.DealerPrice, in.BenchmarkMedian, in.DiffPct, in.Detail, in.ComputedAt)
		if err != nil {
			return fmt.Errorf("insert insight %s: %w", in.ID, err)
		}
	}

	return tx.Commit(ctx)
}
