package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"caliberscan/internal/connector"
	"caliberscan/internal/eventbus"
	"caliberscan/internal/fetch"
	"caliberscan/internal/models"
	"caliberscan/internal/queue"
)

// Store is the repository slice the ingest worker needs.
type Store interface {
	GetFeed(ctx context.Context, id string) (*models.Feed, error)
	GetDealer(ctx context.Context, id string) (*models.Dealer, error)
	MarkRunRunning(ctx context.Context, runID string, at time.Time) error
	FinishRun(ctx context.Context, run *models.FeedRun) error
	CommitFeedSuccess(ctx context.Context, feedID, feedHash, status, primaryErrorCode string, at time.Time) error
	CommitFeedFailure(ctx context.Context, feedID, primaryErrorCode, lastError string, at time.Time) error
	TouchFeedUnchanged(ctx context.Context, feedID string, at time.Time) error
	UpsertDealerSkus(ctx context.Context, skus []models.DealerSku) error
	DeactivateMissing(ctx context.Context, dealerID, feedID, runID string) (int64, error)
	UpsertQuarantined(ctx context.Context, recs []models.QuarantinedRecord) error
}

// Fetcher retrieves the raw feed document.
type Fetcher interface {
	Fetch(ctx context.Context, src fetch.Source) ([]byte, error)
}

// Enqueuer hands indexed batches to the match stage.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) (bool, error)
}

// Notifications is the notify gate surface the worker calls. Both methods
// are fire-and-forget; the gate swallows delivery failures.
type Notifications interface {
	FeedTransition(ctx context.Context, dealer *models.Dealer, feed *models.Feed, previous, current string, run *models.FeedRun)
	SubscriptionExpired(ctx context.Context, dealer *models.Dealer)
}

// matchBatchSize hashes per match job. Small enough that one job's DB work
// stays bounded, large enough to amortize the queue round-trip.
const matchBatchSize = 100

// Worker executes one feed run end to end: gate, fetch, parse, classify,
// store, reconcile, commit. Each stage's failure mode maps onto a run
// error code so triage never has to read logs.
type Worker struct {
	store    Store
	fetcher  Fetcher
	registry *connector.Registry
	enq      Enqueuer
	gate     Notifications
	bus      *eventbus.Bus
	now      func() time.Time
}

func New(store Store, fetcher Fetcher, registry *connector.Registry, enq Enqueuer, gate Notifications, bus *eventbus.Bus) *Worker {
	return &Worker{
		store:    store,
		fetcher:  fetcher,
		registry: registry,
		enq:      enq,
		gate:     gate,
		bus:      bus,
		now:      time.Now,
	}
}

// HandleJob is the queue handler for the ingest queue.
func (w *Worker) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload queue.IngestPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode ingest payload: %w", err)
	}
	return w.Run(ctx, payload)
}

// Run executes one feed run. Errors returned here put the job back on the
// queue for retry; terminal outcomes (skip, quality failure) return nil
// after recording themselves on the run row.
func (w *Worker) Run(ctx context.Context, payload queue.IngestPayload) error {
	started := w.now()

	feed, err := w.store.GetFeed(ctx, payload.FeedID)
	if err != nil {
		return fmt.Errorf("load feed %s: %w", payload.FeedID, err)
	}
	if feed == nil {
		// Feed deleted between enqueue and claim.
		return w.skipRun(ctx, payload, "", started, "feed_deleted", "")
	}

	dealer, err := w.store.GetDealer(ctx, feed.DealerID)
	if err != nil {
		return fmt.Errorf("load dealer %s: %w", feed.DealerID, err)
	}
	if dealer == nil {
		return w.skipRun(ctx, payload, feed.DealerID, started, "dealer_deleted", "")
	}

	// Subscription gate. An admin override runs the feed regardless; a
	// dealer inside the grace window runs but gets the expiry notice.
	if !payload.AdminOverride && !dealer.SubscriptionActiveAt(started) {
		if w.gate != nil {
			w.gate.SubscriptionExpired(ctx, dealer)
		}
		return w.skipRun(ctx, payload, feed.DealerID, started, "subscription_expired", models.ErrSubscriptionExpired)
	}
	if dealer.InGracePeriod(started) && w.gate != nil {
		w.gate.SubscriptionExpired(ctx, dealer)
	}

	if err := w.store.MarkRunRunning(ctx, payload.FeedRunID, started); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	w.publish(eventbus.TypeRunStarted, feed, payload.FeedRunID, nil)

	data, err := w.fetcher.Fetch(ctx, fetch.Source{
		Transport: feed.Transport,
		URL:       feed.URL,
		Username:  feed.Username,
		Password:  feed.Password,
	})
	if err != nil {
		return w.failRun(ctx, dealer, feed, payload, started, fetch.ErrorCode(err), err)
	}

	// Content-hash gate: byte-identical payloads skip the whole pipeline.
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if feed.FeedHash != "" && hash == feed.FeedHash {
		finished := w.now()
		if err := w.store.TouchFeedUnchanged(ctx, feed.ID, finished); err != nil {
			return fmt.Errorf("touch unchanged feed: %w", err)
		}
		run := &models.FeedRun{
			ID:         payload.FeedRunID,
			FeedID:     feed.ID,
			DealerID:   feed.DealerID,
			Status:     models.RunSuccess,
			SkipReason: "no_changes",
			FinishedAt: &finished,
			DurationMs: finished.Sub(started).Milliseconds(),
		}
		if err := w.store.FinishRun(ctx, run); err != nil {
			return err
		}
		w.publish(eventbus.TypeRunCompleted, feed, run.ID, run)
		log.Printf("[ingest] feed %s unchanged (hash %s), run %s skipped", feed.ID, hash[:12], run.ID)
		return nil
	}

	doc, err := connector.ParseDocument(data)
	if err != nil {
		return w.failRun(ctx, dealer, feed, payload, started, models.ErrParse, err)
	}

	conn := w.registry.Resolve(feed.Format, doc)
	result := conn.Parse(doc)
	log.Printf("[ingest] feed %s via %s: %d total, %d indexed, %d quarantined, %d rejected",
		feed.ID, conn.Name(), result.Total, len(result.Indexed), len(result.Quarantined), len(result.Rejected))

	// A store failure is infrastructure trouble, not a feed problem: leave
	// the feed untouched and let the queue retry the whole run.
	if err := w.storeResult(ctx, feed, payload.FeedRunID, result); err != nil {
		return fmt.Errorf("store parsed records: %w", err)
	}

	deactivated, err := w.store.DeactivateMissing(ctx, feed.DealerID, feed.ID, payload.FeedRunID)
	if err != nil {
		return fmt.Errorf("reconcile active set: %w", err)
	}
	if deactivated > 0 {
		log.Printf("[ingest] feed %s: %d skus left the feed, deactivated", feed.ID, deactivated)
	}

	health := models.RunHealth(len(result.Indexed), len(result.Quarantined), len(result.Rejected))
	primaryCode := result.PrimaryErrorCode()
	finished := w.now()

	run := &models.FeedRun{
		ID:               payload.FeedRunID,
		FeedID:           feed.ID,
		DealerID:         feed.DealerID,
		Status:           models.RunStatusFor(health),
		Total:            result.Total,
		Indexed:          len(result.Indexed),
		Quarantined:      len(result.Quarantined),
		Rejected:         len(result.Rejected),
		Coercions:        result.Coercions,
		PrimaryErrorCode: primaryCode,
		ErrorCodes:       result.ErrorCodes,
		ErrorSamples:     result.Samples,
		FinishedAt:       &finished,
		DurationMs:       finished.Sub(started).Milliseconds(),
	}

	previous := feed.Status
	if health == models.FeedFailed {
		msg := fmt.Sprintf("reject rate over 50%% (%d of %d records)", run.Rejected, run.Total)
		if err := w.store.CommitFeedFailure(ctx, feed.ID, primaryCode, msg, finished); err != nil {
			return err
		}
	} else {
		// The hash is committed only on a processed run, so a failed run's
		// content is re-processed on the next attempt.
		if err := w.store.CommitFeedSuccess(ctx, feed.ID, hash, health, primaryCode, finished); err != nil {
			return err
		}
	}

	if err := w.store.FinishRun(ctx, run); err != nil {
		return err
	}

	if w.gate != nil {
		w.gate.FeedTransition(ctx, dealer, feed, previous, health, run)
	}
	w.publish(eventbus.TypeRunCompleted, feed, run.ID, run)
	w.publish(eventbus.TypeFeedStatus, feed, run.ID, health)

	w.enqueueMatchJobs(ctx, feed, payload.FeedRunID, result.Indexed)
	return nil
}

// storeResult writes the indexed and quarantine lanes. Rejected records
// are counted on the run but never stored.
func (w *Worker) storeResult(ctx context.Context, feed *models.Feed, runID string, result *connector.Result) error {
	skus := make([]models.DealerSku, 0, len(result.Indexed))
	for _, ix := range result.Indexed {
		s := ix.Sku
		s.DealerID = feed.DealerID
		s.FeedID = feed.ID
		s.FeedRunID = runID
		skus = append(skus, s)
	}
	if err := w.store.UpsertDealerSkus(ctx, skus); err != nil {
		return err
	}

	recs := make([]models.QuarantinedRecord, 0, len(result.Quarantined))
	for _, q := range result.Quarantined {
		recs = append(recs, models.QuarantinedRecord{
			FeedID:         feed.ID,
			MatchKey:       q.MatchKey,
			DealerID:       feed.DealerID,
			RawData:        q.Raw,
			ParsedFields:   q.Parsed,
			BlockingErrors: q.Errors,
		})
	}
	return w.store.UpsertQuarantined(ctx, recs)
}

// enqueueMatchJobs slices the indexed lane into match batches. Enqueue
// failures retry in place a few times and are then dropped: the next
// scheduled benchmark pass sweeps unmatched skus up anyway.
func (w *Worker) enqueueMatchJobs(ctx context.Context, feed *models.Feed, runID string, indexed []connector.Indexed) {
	if w.enq == nil || len(indexed) == 0 {
		return
	}
	for batch := 0; batch*matchBatchSize < len(indexed); batch++ {
		lo := batch * matchBatchSize
		hi := lo + matchBatchSize
		if hi > len(indexed) {
			hi = len(indexed)
		}
		hashes := make([]string, 0, hi-lo)
		for _, ix := range indexed[lo:hi] {
			hashes = append(hashes, ix.Sku.SkuHash)
		}
		body, err := json.Marshal(queue.MatchPayload{
			FeedRunID: runID,
			DealerID:  feed.DealerID,
			SkuHashes: hashes,
		})
		if err != nil {
			log.Printf("[ingest] encode match batch %d: %v", batch, err)
			continue
		}
		job := queue.Job{
			ID:          fmt.Sprintf("sku-match:%s:%d", runID, batch),
			Queue:       queue.QueueMatch,
			Payload:     body,
			MaxAttempts: 3,
			BackoffBase: 5 * time.Second,
		}
		var enqErr error
		for attempt := 0; attempt < 3; attempt++ {
			if _, enqErr = w.enq.Enqueue(ctx, job); enqErr == nil {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
		if enqErr != nil {
			log.Printf("[ingest] match batch %d for run %s dropped: %v", batch, runID, enqErr)
		}
	}
}

// skipRun records a SKIPPED terminal run and consumes the job.
func (w *Worker) skipRun(ctx context.Context, payload queue.IngestPayload, dealerID string, started time.Time, reason, errorCode string) error {
	finished := w.now()
	run := &models.FeedRun{
		ID:               payload.FeedRunID,
		FeedID:           payload.FeedID,
		DealerID:         dealerID,
		Status:           models.RunSkipped,
		PrimaryErrorCode: errorCode,
		SkipReason:       reason,
		FinishedAt:       &finished,
		DurationMs:       finished.Sub(started).Milliseconds(),
	}
	if err := w.store.FinishRun(ctx, run); err != nil {
		return err
	}
	log.Printf("[ingest] run %s skipped: %s", payload.FeedRunID, reason)
	return nil
}

// failRun commits the feed failure and the FAILURE run, then re-raises so
// the queue retries with backoff until the job goes DEAD.
func (w *Worker) failRun(ctx context.Context, dealer *models.Dealer, feed *models.Feed, payload queue.IngestPayload, started time.Time, code string, cause error) error {
	finished := w.now()
	if err := w.store.CommitFeedFailure(ctx, feed.ID, code, cause.Error(), finished); err != nil {
		log.Printf("[ingest] commit failure for feed %s: %v", feed.ID, err)
	}

	run := &models.FeedRun{
		ID:               payload.FeedRunID,
		FeedID:           feed.ID,
		DealerID:         feed.DealerID,
		Status:           models.RunFailure,
		PrimaryErrorCode: code,
		ErrorMessage:     cause.Error(),
		FinishedAt:       &finished,
		DurationMs:       finished.Sub(started).Milliseconds(),
	}
	if err := w.store.FinishRun(ctx, run); err != nil {
		log.Printf("[ingest] finish failed run %s: %v", run.ID, err)
	}

	if w.gate != nil {
		w.gate.FeedTransition(ctx, dealer, feed, feed.Status, models.FeedFailed, run)
	}
	w.publish(eventbus.TypeRunFailed, feed, run.ID, run)

	return fmt.Errorf("feed %s run %s: %s: %w", feed.ID, payload.FeedRunID, code, cause)
}

func (w *Worker) publish(eventType string, feed *models.Feed, runID string, data interface{}) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{
		Type:      eventType,
		DealerID:  feed.DealerID,
		FeedID:    feed.ID,
		RunID:     runID,
		Timestamp: w.now(),
		Data:      data,
	})
}
