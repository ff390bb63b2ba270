package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"caliberscan/internal/models"
	"caliberscan/internal/queue"
)

// Store is the repository slice the benchmark worker needs.
type Store interface {
	ActiveSellerPrices(ctx context.Context, canonicalID string) (map[string]float64, error)
	UpsertBenchmark(ctx context.Context, b *models.Benchmark) error
	CanonicalIDsMatchedSince(ctx context.Context, since time.Time) ([]string, error)
	ListCanonicalIDs(ctx context.Context) ([]string, error)
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Enqueuer hands recomputed canonicals to the insight stage.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) (bool, error)
}

// Worker recomputes cross-seller price statistics per canonical SKU.
// Writes are last-write-wins per canonical, so overlapping jobs converge.
type Worker struct {
	store Store
	enq   Enqueuer
	now   func() time.Time
}

func New(store Store, enq Enqueuer) *Worker {
	return &Worker{store: store, enq: enq, now: time.Now}
}

// HandleJob is the queue handler for the benchmark queue.
func (w *Worker) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload queue.BenchmarkPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode benchmark payload: %w", err)
	}
	return w.Recompute(ctx, payload)
}

const watermarkLayout = time.RFC3339Nano

// Recompute refreshes benchmarks for the named canonicals. An empty list
// means an incremental pass: everything matched since the stored
// watermark; Full forces the whole catalog.
func (w *Worker) Recompute(ctx context.Context, payload queue.BenchmarkPayload) error {
	ids := payload.CanonicalSkuIDs
	started := w.now()
	advanceWatermark := false

	if len(ids) == 0 {
		var err error
		if payload.Full {
			ids, err = w.store.ListCanonicalIDs(ctx)
		} else {
			since := time.Time{}
			if raw, merr := w.store.GetMeta(ctx, "benchmark_watermark"); merr == nil && raw != "" {
				since, _ = time.Parse(watermarkLayout, raw)
			}
			ids, err = w.store.CanonicalIDsMatchedSince(ctx, since)
		}
		if err != nil {
			return fmt.Errorf("resolve benchmark scope: %w", err)
		}
		advanceWatermark = true
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.recomputeOne(ctx, id); err != nil {
			return err
		}
	}

	if advanceWatermark {
		if err := w.store.SetMeta(ctx, "benchmark_watermark", started.Format(watermarkLayout)); err != nil {
			log.Printf("[benchmark] watermark write failed: %v", err)
		}
	}

	if len(ids) > 0 && w.enq != nil {
		body, _ := json.Marshal(queue.InsightPayload{CanonicalSkuIDs: ids})
		_, err := w.enq.Enqueue(ctx, queue.Job{
			ID:          fmt.Sprintf("insight:%d", started.UnixNano()),
			Queue:       queue.QueueInsight,
			Payload:     body,
			MaxAttempts: 3,
			BackoffBase: 5 * time.Second,
		})
		if err != nil {
			log.Printf("[benchmark] insight enqueue failed: %v", err)
		}
	}

	log.Printf("[benchmark] recomputed %d canonicals", len(ids))
	return nil
}

func (w *Worker) recomputeOne(ctx context.Context, canonicalID string) error {
	sellerPrices, err := w.store.ActiveSellerPrices(ctx, canonicalID)
	if err != nil {
		return fmt.Errorf("load seller prices for %s: %w", canonicalID, err)
	}

	prices := make([]float64, 0, len(sellerPrices))
	for _, p := range sellerPrices {
		prices = append(prices, p)
	}

	b := Compute(canonicalID, prices, w.now())
	if err := w.store.UpsertBenchmark(ctx, b); err != nil {
		return err
	}
	return nil
}

// Compute derives one canonical's benchmark from distinct-seller prices.
// Fewer than two sellers yields no statistics, only confidence NONE.
func Compute(canonicalID string, prices []float64, at time.Time) *models.Benchmark {
	b := &models.Benchmark{
		CanonicalSkuID: canonicalID,
		Confidence:     models.ConfidenceNone,
		ComputedAt:     at,
	}
	if len(prices) < 2 {
		return b
	}

	sort.Float64s(prices)
	n := len(prices)

	var sum float64
	for _, p := range prices {
		sum += p
	}

	b.MinPrice = prices[0]
	b.MaxPrice = prices[n-1]
	b.MeanPrice = sum / float64(n)
	b.MedianPrice = median(prices)
	b.SellerCount = n
	if b.SellerCount > 10 {
		b.SellerCount = 10
	}

	switch {
	case n >= 5:
		b.Confidence = models.ConfidenceHigh
	case n >= 3:
		b.Confidence = models.ConfidenceMedium
	default:
		b.Confidence = models.ConfidenceNone
	}
	return b
}

// median of a sorted slice: middle element for odd length, lower middle
// for even.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1]
}
