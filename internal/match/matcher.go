package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"caliberscan/internal/models"
	"caliberscan/internal/queue"

	"github.com/google/uuid"
)

// Store is the repository slice the matcher writes through.
type Store interface {
	GetDealerSkusByHashes(ctx context.Context, dealerID string, hashes []string) ([]models.DealerSku, error)
	UpsertProductLinks(ctx context.Context, links []models.ProductLink) error
}

// Enqueuer hands matched canonicals to the benchmark stage.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) (bool, error)
}

// Matcher links one batch of dealer SKUs to canonical SKUs. Lookup is O(1)
// per record through the snapshot maps: UPC first when the record carries a
// valid one, caliber|brand attributes otherwise, auto-create on miss.
type Matcher struct {
	store    Store
	snapshot *Snapshot
	enq      Enqueuer
	now      func() time.Time
}

func New(store Store, snapshot *Snapshot, enq Enqueuer) *Matcher {
	return &Matcher{store: store, snapshot: snapshot, enq: enq, now: time.Now}
}

// HandleJob is the queue handler for the match queue.
func (m *Matcher) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload queue.MatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode match payload: %w", err)
	}
	return m.MatchBatch(ctx, payload)
}

// MatchBatch resolves every SKU in the payload and commits the links, then
// enqueues a benchmark recompute for the touched canonicals.
func (m *Matcher) MatchBatch(ctx context.Context, payload queue.MatchPayload) error {
	if err := m.snapshot.Ensure(ctx); err != nil {
		return fmt.Errorf("refresh catalog snapshot: %w", err)
	}

	skus, err := m.store.GetDealerSkusByHashes(ctx, payload.DealerID, payload.SkuHashes)
	if err != nil {
		return fmt.Errorf("load match batch: %w", err)
	}

	now := m.now()
	links := make([]models.ProductLink, 0, len(skus))
	touched := make(map[string]struct{})
	var created int

	for i := range skus {
		canonical, method, err := m.resolve(ctx, &skus[i])
		if err != nil {
			return err
		}
		if canonical == nil {
			// Not enough signal to place or create a canonical; the SKU
			// stays unlinked until a richer sighting.
			continue
		}
		if method == models.MatchMethodCreated {
			created++
		}
		links = append(links, models.ProductLink{
			DealerID:       skus[i].DealerID,
			SkuHash:        skus[i].SkuHash,
			CanonicalSkuID: canonical.ID,
			FeedRunID:      payload.FeedRunID,
			MatchMethod:    method,
			MatchedAt:      now,
		})
		touched[canonical.ID] = struct{}{}
	}

	if err := m.store.UpsertProductLinks(ctx, links); err != nil {
		return err
	}

	log.Printf("[match] run %s dealer %s: %d skus, %d linked, %d canonicals created",
		payload.FeedRunID, payload.DealerID, len(skus), len(links), created)

	if len(touched) > 0 && m.enq != nil {
		ids := make([]string, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		body, _ := json.Marshal(queue.BenchmarkPayload{CanonicalSkuIDs: ids})
		_, err := m.enq.Enqueue(ctx, queue.Job{
			ID:          "benchmark:" + payload.FeedRunID + ":" + uuid.NewString()[:8],
			Queue:       queue.QueueBenchmark,
			Payload:     body,
			MaxAttempts: 3,
			BackoffBase: 5 * time.Second,
		})
		if err != nil {
			// Best-effort: the periodic benchmark tick covers the gap.
			log.Printf("[match] benchmark enqueue for run %s failed: %v", payload.FeedRunID, err)
		}
	}
	return nil
}

// resolve finds or creates the canonical for one dealer SKU.
func (m *Matcher) resolve(ctx context.Context, sku *models.DealerSku) (*models.CanonicalSku, string, error) {
	if models.ValidUPC(sku.UPC) {
		if c := m.snapshot.ByUPC(sku.UPC); c != nil {
			return c, models.MatchMethodUPC, nil
		}
	}

	caliber := ExtractCaliber(sku.Caliber, sku.Title)
	brand := ExtractBrand(sku.Brand, sku.Title)

	if caliber != "" && brand != "" {
		if candidates := m.snapshot.ByAttrs(caliber, brand); len(candidates) > 0 {
			if c := bestCandidate(candidates, sku); c != nil {
				return c, models.MatchMethodAttributes, nil
			}
		}
	}

	// Auto-create needs either a valid UPC or the full attribute pair;
	// anything weaker would pollute the catalog with unmatchable rows.
	if !models.ValidUPC(sku.UPC) && (caliber == "" || brand == "") {
		return nil, "", nil
	}

	c := &models.CanonicalSku{
		ID:       uuid.NewString(),
		Title:    sku.Title,
		Caliber:  caliber,
		Brand:    brand,
		Grain:    sku.Grain,
		PackSize: sku.RoundCount,
	}
	if models.ValidUPC(sku.UPC) {
		c.UPC = sku.UPC
	}
	created, err := m.snapshot.Create(ctx, c)
	if err != nil {
		return nil, "", fmt.Errorf("create canonical for %s: %w", sku.SkuHash, err)
	}
	return created, models.MatchMethodCreated, nil
}

// bestCandidate narrows an attribute bucket by grain and pack size when the
// dealer record carries them; otherwise the first candidate wins.
func bestCandidate(candidates []*models.CanonicalSku, sku *models.DealerSku) *models.CanonicalSku {
	var fallback *models.CanonicalSku
	for _, c := range candidates {
		if sku.Grain != nil && c.Grain != nil && *sku.Grain != *c.Grain {
			continue
		}
		if sku.RoundCount != nil && c.PackSize != nil && *sku.RoundCount != *c.PackSize {
			continue
		}
		if sku.Grain != nil && c.Grain != nil {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}
