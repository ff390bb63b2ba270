package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"caliberscan/internal/models"
	"caliberscan/internal/queue"
	"caliberscan/internal/repository"

	"github.com/google/uuid"
)

// Pricing thresholds on (price - median) / median.
const (
	highThreshold   = 0.25
	mediumThreshold = 0.15
)

// Store is the repository slice the insight worker needs.
type Store interface {
	GetBenchmark(ctx context.Context, canonicalID string) (*models.Benchmark, error)
	ListLinkedSkus(ctx context.Context, canonicalID string) ([]repository.LinkedSku, error)
	ReplaceInsights(ctx context.Context, dealerID, canonicalID string, insights []models.Insight) error
}

// Worker derives per-dealer findings from benchmarks: pricing outliers,
// stock opportunities and attribute gaps.
type Worker struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Worker {
	return &Worker{store: store, now: time.Now}
}

// HandleJob is the queue handler for the insight queue.
func (w *Worker) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload queue.InsightPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode insight payload: %w", err)
	}
	return w.Recompute(ctx, payload.CanonicalSkuIDs)
}

// Recompute rebuilds insights for every dealer linked to the given
// canonicals. Each (dealer, canonical) pair is replaced wholesale so a
// recompute never leaves stale findings.
func (w *Worker) Recompute(ctx context.Context, canonicalIDs []string) error {
	var derived int
	for _, canonicalID := range canonicalIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := w.recomputeOne(ctx, canonicalID)
		if err != nil {
			return err
		}
		derived += n
	}
	log.Printf("[insight] derived %d insights across %d canonicals", derived, len(canonicalIDs))
	return nil
}

func (w *Worker) recomputeOne(ctx context.Context, canonicalID string) (int, error) {
	bench, err := w.store.GetBenchmark(ctx, canonicalID)
	if err != nil {
		return 0, err
	}
	if bench == nil || bench.Confidence == models.ConfidenceNone {
		return 0, nil
	}

	linked, err := w.store.ListLinkedSkus(ctx, canonicalID)
	if err != nil {
		return 0, fmt.Errorf("load linked skus for %s: %w", canonicalID, err)
	}

	// One dealer may link several SKUs to the same canonical; derive from
	// the cheapest in-assortment offering, like the benchmark does.
	byDealer := make(map[string][]repository.LinkedSku)
	for _, ls := range linked {
		byDealer[ls.Sku.DealerID] = append(byDealer[ls.Sku.DealerID], ls)
	}

	now := w.now()
	var total int
	for dealerID, skus := range byDealer {
		insights := Derive(dealerID, canonicalID, skus, bench, now)
		if err := w.store.ReplaceInsights(ctx, dealerID, canonicalID, insights); err != nil {
			return 0, err
		}
		total += len(insights)
	}
	return total, nil
}

// Derive applies the insight rules for one (dealer, canonical) pair.
func Derive(dealerID, canonicalID string, skus []repository.LinkedSku, bench *models.Benchmark, now time.Time) []models.Insight {
	if len(skus) == 0 || bench.MedianPrice <= 0 {
		return nil
	}

	var out []models.Insight
	add := func(typ, severity, detail string, price, diff float64) {
		out = append(out, models.Insight{
			ID:              uuid.NewString(),
			DealerID:        dealerID,
			CanonicalSkuID:  canonicalID,
			Type:            typ,
			Severity:        severity,
			DealerPrice:     price,
			BenchmarkMedian: bench.MedianPrice,
			DiffPct:         diff,
			Detail:          detail,
			ComputedAt:      now,
		})
	}

	price := skus[0].Sku.EffectivePrice()
	anyInStock := false
	missingAttrs := false
	for _, ls := range skus {
		if p := ls.Sku.EffectivePrice(); p > 0 && p < price {
			price = p
		}
		if ls.Sku.InStock {
			anyInStock = true
		}
		// A gap only exists when the catalog product actually has both
		// attributes; a thin UPC-created canonical proves nothing.
		if (ls.Sku.Caliber == "" || ls.Sku.Brand == "") &&
			ls.CanonicalCaliber != "" && ls.CanonicalBrand != "" {
			missingAttrs = true
		}
	}

	if price > 0 {
		diff := (price - bench.MedianPrice) / bench.MedianPrice
		switch {
		case diff > highThreshold:
			add(models.InsightOverpriced, models.SeverityHigh,
				fmt.Sprintf("price %.2f is %.0f%% above the market median %.2f", price, diff*100, bench.MedianPrice), price, diff)
		case diff > mediumThreshold:
			add(models.InsightOverpriced, models.SeverityMedium,
				fmt.Sprintf("price %.2f is %.0f%% above the market median %.2f", price, diff*100, bench.MedianPrice), price, diff)
		case diff < -highThreshold:
			add(models.InsightUnderpriced, models.SeverityHigh,
				fmt.Sprintf("price %.2f is %.0f%% below the market median %.2f", price, -diff*100, bench.MedianPrice), price, diff)
		case diff < -mediumThreshold:
			add(models.InsightUnderpriced, models.SeverityMedium,
				fmt.Sprintf("price %.2f is %.0f%% below the market median %.2f", price, -diff*100, bench.MedianPrice), price, diff)
		}
	}

	// Out of stock on a product other sellers actively move.
	if !anyInStock {
		severity := models.SeverityMedium
		if bench.Confidence == models.ConfidenceHigh {
			severity = models.SeverityHigh
		}
		add(models.InsightStockOpportunity, severity,
			fmt.Sprintf("out of stock while %d sellers list this product", bench.SellerCount), price, 0)
	}

	if missingAttrs {
		add(models.InsightAttributeGap, models.SeverityMedium,
			"listing lacks caliber or brand while the catalog product has both", price, 0)
	}

	return out
}
