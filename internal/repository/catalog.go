package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"caliberscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// Pipeline meta keys.
const (
	MetaCatalogVersion     = "catalog_version"
	MetaBenchmarkWatermark = "benchmark_watermark"
	MetaLastSchedulerTick  = "last_scheduler_tick"
)

// GetMeta reads a pipeline_meta value; absent keys return "".
func (r *Repository) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM pipeline_meta WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a pipeline_meta value.
func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO pipeline_meta (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	return err
}

// CatalogVersion returns the monotonic counter bumped on every canonical
// insert. Match replicas compare it against their snapshot.
func (r *Repository) CatalogVersion(ctx context.Context) (int64, error) {
	v, err := r.GetMeta(ctx, MetaCatalogVersion)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse catalog version %q: %w", v, err)
	}
	return n, nil
}

// ListCanonicalSkus loads the whole canonical catalog for a match snapshot.
func (r *Repository) ListCanonicalSkus(ctx context.Context) ([]models.CanonicalSku, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title, caliber, brand, grain, pack_size, upc, created_at
		FROM canonical_skus`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CanonicalSku
	for rows.Next() {
		var c models.CanonicalSku
		if err := rows.Scan(&c.ID, &c.Title, &c.Caliber, &c.Brand, &c.Grain,
			&c.PackSize, &c.UPC, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCanonicalSku creates an auto-matched canonical and bumps the
// catalog version in the same transaction. A UPC collision with a
// concurrently created canonical returns the surviving row instead.
func (r *Repository) InsertCanonicalSku(ctx context.Context, c *models.CanonicalSku) (*models.CanonicalSku, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO canonical_skus (id, title, caliber, brand, grain, pack_size, upc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (upc) WHERE upc <> '' DO NOTHING
		RETURNING id`,
		c.ID, c.Title, c.Caliber, c.Brand, c.Grain, c.PackSize, c.UPC,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		// Another replica created the same UPC first; adopt its row.
		var winner models.CanonicalSku
		err = tx.QueryRow(ctx, `
			SELECT id, title, caliber, brand, grain, pack_size, upc, created_at
			FROM canonical_skus WHERE upc = $1`, c.UPC,
		).Scan(&winner.ID, &winner.Title, &winner.Caliber, &winner.Brand,
			&winner.Grain, &winner.PackSize, &winner.UPC, &winner.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("load canonical by upc %s: %w", c.UPC, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert canonical sku: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_meta (key, value, updated_at)
		VALUES ($1, '1', NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = (pipeline_meta.value::bigint + 1)::text,
			updated_at = NOW()`,
		MetaCatalogVersion)
	if err != nil {
		return nil, fmt.Errorf("bump catalog version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// UpsertProductLinks writes match results. One link per dealer SKU; a
// re-match overwrites the previous link.
func (r *Repository) UpsertProductLinks(ctx context.Context, links []models.ProductLink) error {
	if len(links) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(`
			INSERT INTO product_links (dealer_id, sku_hash, canonical_sku_id, feed_run_id, match_method, matched_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (dealer_id, sku_hash) DO UPDATE SET
				canonical_sku_id = EXCLUDED.canonical_sku_id,
				feed_run_id = EXCLUDED.feed_run_id,
				match_method = EXCLUDED.match_method,
				matched_at = EXCLUDED.matched_at`,
			l.DealerID, l.SkuHash, l.CanonicalSkuID, l.FeedRunID, l.MatchMethod, l.MatchedAt)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range links {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert product links: %w", err)
		}
	}
	return nil
}

// ActiveSellerPrices returns one effective price per dealer for a
// canonical: the cheapest active linked offering, sale price winning over
// regular when positive.
func (r *Repository) ActiveSellerPrices(ctx context.Context, canonicalID string) (map[string]float64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.dealer_id,
		       MIN(CASE WHEN s.sale_price IS NOT NULL AND s.sale_price > 0
		                THEN s.sale_price ELSE s.price END)
		FROM product_links l
		JOIN dealer_skus s ON s.dealer_id = l.dealer_id AND s.sku_hash = l.sku_hash
		WHERE l.canonical_sku_id = $1 AND s.is_active = TRUE
		GROUP BY s.dealer_id`, canonicalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var dealerID string
		var price float64
		if err := rows.Scan(&dealerID, &price); err != nil {
			return nil, err
		}
		out[dealerID] = price
	}
	return out, rows.Err()
}

// LinkedSku is one dealer offering joined with its product link, the view
// the insight worker derives from.
type LinkedSku struct {
	Sku         models.DealerSku
	MatchMethod string

	// Canonical attributes, carried along so insight rules can compare the
	// listing against the catalog product without a second lookup.
	CanonicalCaliber string
	CanonicalBrand   string
}

// ListLinkedSkus returns every active dealer SKU linked to a canonical.
func (r *Repository) ListLinkedSkus(ctx context.Context, canonicalID string) ([]LinkedSku, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+prefixedSkuColumns+`, l.match_method, c.caliber, c.brand
		FROM product_links l
		JOIN dealer_skus s ON s.dealer_id = l.dealer_id AND s.sku_hash = l.sku_hash
		JOIN canonical_skus c ON c.id = l.canonical_sku_id
		WHERE l.canonical_sku_id = $1 AND s.is_active = TRUE`, canonicalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LinkedSku
	for rows.Next() {
		var ls LinkedSku
		s := &ls.Sku
		if err := rows.Scan(&s.DealerID, &s.SkuHash, &s.FeedID, &s.FeedRunID, &s.Title,
			&s.UPC, &s.SKU, &s.Price, &s.SalePrice, &s.Description, &s.Brand,
			&s.InStock, &s.Quantity, &s.URL, &s.ImageURL, &s.Category, &s.Caliber,
			&s.Grain, &s.BulletType, &s.CaseMaterial, &s.RoundCount,
			&s.CoercionsApplied, &s.IsActive, &s.FirstSeenAt, &s.LastSeenAt,
			&ls.MatchMethod, &ls.CanonicalCaliber, &ls.CanonicalBrand); err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

const prefixedSkuColumns = `
	s.dealer_id, s.sku_hash, s.feed_id, s.feed_run_id, s.title, s.upc, s.sku,
	s.price, s.sale_price, s.description, s.brand, s.in_stock, s.quantity,
	s.url, s.image_url, s.category, s.caliber, s.grain, s.bullet_type,
	s.case_material, s.round_count, s.coercions_applied, s.is_active,
	s.first_seen_at, s.last_seen_at`

// CanonicalIDsMatchedSince drives the incremental benchmark tick: every
// canonical touched by a match after the watermark.
func (r *Repository) CanonicalIDsMatchedSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT canonical_sku_id FROM product_links WHERE matched_at > $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListCanonicalIDs returns every canonical ID, for a full benchmark pass.
func (r *Repository) ListCanonicalIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM canonical_skus`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
