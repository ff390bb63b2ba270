package repository

import (
	"context"
	"fmt"
	"time"

	"caliberscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertDealerSkus writes one ingest batch. New rows get the full parsed
// record; existing rows refresh the mutable fields (price, stock,
// description, image, coercions) and are re-activated under the current
// run. Immutable identity fields (title, upc, sku) are part of the hash
// key, so an update can never change them.
func (r *Repository) UpsertDealerSkus(ctx context.Context, skus []models.DealerSku) error {
	if len(skus) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range skus {
		batch.Queue(`
			INSERT INTO dealer_skus (
				dealer_id, sku_hash, feed_id, feed_run_id,
				title, upc, sku, price, sale_price, description, brand,
				in_stock, quantity, url, image_url, category,
				caliber, grain, bullet_type, case_material, round_count,
				coercions_applied, is_active, first_seen_at, last_seen_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			        $14, $15, $16, $17, $18, $19, $20, $21, $22, TRUE, NOW(), NOW())
			ON CONFLICT (dealer_id, sku_hash) DO UPDATE SET
				feed_id = EXCLUDED.feed_id,
				feed_run_id = EXCLUDED.feed_run_id,
				price = EXCLUDED.price,
				sale_price = EXCLUDED.sale_price,
				description = EXCLUDED.description,
				in_stock = EXCLUDED.in_stock,
				quantity = EXCLUDED.quantity,
				url = EXCLUDED.url,
				image_url = EXCLUDED.image_url,
				category = EXCLUDED.category,
				coercions_applied = EXCLUDED.coercions_applied,
				is_active = TRUE,
				last_seen_at = NOW()`,
			s.DealerID, s.SkuHash, s.FeedID, s.FeedRunID,
			s.Title, s.UPC, s.SKU, s.Price, s.SalePrice, s.Description, s.Brand,
			s.InStock, s.Quantity, s.URL, s.ImageURL, s.Category,
			s.Caliber, s.Grain, s.BulletType, s.CaseMaterial, s.RoundCount,
			s.CoercionsApplied)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range skus {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert dealer skus: %w", err)
		}
	}
	return nil
}

// DeactivateMissing implements active-set reconciliation: every SKU of the
// (dealer, feed) pair not sighted by the current run goes inactive. After
// this, is_active holds exactly for rows with feed_run_id = runID.
func (r *Repository) DeactivateMissing(ctx context.Context, dealerID, feedID, runID string) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE dealer_skus SET is_active = FALSE
		WHERE dealer_id = $1 AND feed_id = $2 AND feed_run_id <> $3 AND is_active = TRUE`,
		dealerID, feedID, runID)
	if err != nil {
		return 0, fmt.Errorf("deactivate missing skus: %w", err)
	}
	return cmd.RowsAffected(), nil
}

const skuColumns = `
	dealer_id, sku_hash, feed_id, feed_run_id, title, upc, sku, price,
	sale_price, description, brand, in_stock, quantity, url, image_url,
	category, caliber, grain, bullet_type, case_material, round_count,
	coercions_applied, is_active, first_seen_at, last_seen_at`

func scanSku(row pgx.Row) (*models.DealerSku, error) {
	var s models.DealerSku
	err := row.Scan(&s.DealerID, &s.SkuHash, &s.FeedID, &s.FeedRunID, &s.Title,
		&s.UPC, &s.SKU, &s.Price, &s.SalePrice, &s.Description, &s.Brand,
		&s.InStock, &s.Quantity, &s.URL, &s.ImageURL, &s.Category, &s.Caliber,
		&s.Grain, &s.BulletType, &s.CaseMaterial, &s.RoundCount,
		&s.CoercionsApplied, &s.IsActive, &s.FirstSeenAt, &s.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetDealerSkusByHashes loads one match batch.
func (r *Repository) GetDealerSkusByHashes(ctx context.Context, dealerID string, hashes []string) ([]models.DealerSku, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+skuColumns+` FROM dealer_skus
		WHERE dealer_id = $1 AND sku_hash = ANY($2)`, dealerID, hashes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DealerSku
	for rows.Next() {
		s, err := scanSku(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpsertQuarantined writes quarantine rows. Re-sighting refreshes the
// payload and last_seen_at but never regresses a RESOLVED record: the
// status column keeps its stored value on conflict.
func (r *Repository) UpsertQuarantined(ctx context.Context, recs []models.QuarantinedRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(`
			INSERT INTO quarantined_records (
				feed_id, match_key, dealer_id, raw_data, parsed_fields,
				blocking_errors, status, first_seen_at, last_seen_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, 'QUARANTINED', NOW(), NOW())
			ON CONFLICT (feed_id, match_key) DO UPDATE SET
				raw_data = EXCLUDED.raw_data,
				parsed_fields = EXCLUDED.parsed_fields,
				blocking_errors = EXCLUDED.blocking_errors,
				last_seen_at = NOW()`,
			rec.FeedID, rec.MatchKey, rec.DealerID, rec.RawData, rec.ParsedFields,
			rec.BlockingErrors)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert quarantined records: %w", err)
		}
	}
	return nil
}

// ResolveQuarantined flips one record QUARANTINED -> RESOLVED. The WHERE
// clause makes the transition monotonic; resolving twice reports false.
func (r *Repository) ResolveQuarantined(ctx context.Context, feedID, matchKey, resolvedBy string, at time.Time) (bool, error) {
	var key string
	err := r.db.QueryRow(ctx, `
		UPDATE quarantined_records SET
			status = 'RESOLVED',
			resolved_at = $4,
			resolved_by = $3
		WHERE feed_id = $1 AND match_key = $2 AND status = 'QUARANTINED'
		RETURNING match_key`,
		feedID, matchKey, resolvedBy, at,
	).Scan(&key)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve quarantined %s/%s: %w", feedID, matchKey, err)
	}
	return true, nil
}

// ListQuarantined returns a feed's quarantine lane, optionally filtered by
// status, most recently sighted first.
func (r *Repository) ListQuarantined(ctx context.Context, feedID, status string, limit int) ([]models.QuarantinedRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT feed_id, match_key, dealer_id, raw_data, parsed_fields,
		       blocking_errors, status, first_seen_at, last_seen_at,
		       resolved_at, resolved_by
		FROM quarantined_records
		WHERE feed_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY last_seen_at DESC
		LIMIT $3`, feedID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QuarantinedRecord
	for rows.Next() {
		var rec models.QuarantinedRecord
		if err := rows.Scan(&rec.FeedID, &rec.MatchKey, &rec.DealerID, &rec.RawData,
			&rec.ParsedFields, &rec.BlockingErrors, &rec.Status, &rec.FirstSeenAt,
			&rec.LastSeenAt, &rec.ResolvedAt, &rec.ResolvedBy); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
