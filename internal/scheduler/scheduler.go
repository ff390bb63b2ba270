package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"caliberscan/internal/models"
	"caliberscan/internal/queue"
	"caliberscan/internal/repository"

	"github.com/google/uuid"
)

// Store is the repository slice the scheduler needs.
type Store interface {
	ListSchedulableFeeds(ctx context.Context) ([]repository.SchedulableFeed, error)
	TouchFeedLastRun(ctx context.Context, feedID string, at time.Time) error
	CreateFeedRun(ctx context.Context, run *models.FeedRun) error
	ClearFeedFailure(ctx context.Context, feedID string) error
	GetFeed(ctx context.Context, id string) (*models.Feed, error)
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
	SetMeta(ctx context.Context, key, value string) error
}

// Enqueuer is the queue slice the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) (bool, error)
}

const (
	lockName = "scheduler"
	lockTTL  = 90 * time.Second

	feedWindow      = 5 * time.Minute
	benchmarkWindow = 2 * time.Hour

	maxJitter = 2 * time.Minute

	ingestMaxAttempts = 3
	ingestBackoffBase = 30 * time.Second
)

// Scheduler emits ingest and benchmark jobs on repeat. It is a singleton
// across replicas: only the holder of the scheduler lock ticks, and
// windowed job IDs make a lock handover within the same window harmless.
type Scheduler struct {
	store  Store
	enq    Enqueuer
	holder string

	feedTick      time.Duration
	benchmarkTick time.Duration

	now    func() time.Time
	jitter func() time.Duration
}

func New(store Store, enq Enqueuer) *Scheduler {
	hostname, _ := os.Hostname()
	return &Scheduler{
		store:         store,
		enq:           enq,
		holder:        fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		feedTick:      feedWindow,
		benchmarkTick: benchmarkWindow,
		now:           time.Now,
		jitter:        func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) },
	}
}

// Start runs the scheduler loop on wg until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run(ctx)
	}()
}

func (s *Scheduler) run(ctx context.Context) {
	log.Printf("[scheduler] starting (holder %s)", s.holder)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var lastFeedTick, lastBenchmarkTick time.Time
	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.store.ReleaseLock(releaseCtx, lockName, s.holder); err != nil {
				log.Printf("[scheduler] lock release failed: %v", err)
			}
			cancel()
			log.Printf("[scheduler] stopped")
			return
		case <-ticker.C:
			ok, err := s.acquireLockRetry(ctx)
			if err != nil {
				log.Printf("[scheduler] lock acquire failed: %v", err)
				continue
			}
			if !ok {
				continue
			}

			now := s.now()
			if now.Sub(lastFeedTick) >= s.feedTick {
				if err := s.FeedTick(ctx); err != nil {
					log.Printf("[scheduler] feed tick failed: %v", err)
				} else {
					lastFeedTick = now
				}
			}
			if now.Sub(lastBenchmarkTick) >= s.benchmarkTick {
				if err := s.BenchmarkTick(ctx); err != nil {
					log.Printf("[scheduler] benchmark tick failed: %v", err)
				} else {
					lastBenchmarkTick = now
				}
			}
		}
	}
}

// acquireLockRetry wraps the lock claim in the connection-failure retry
// policy: 5 attempts, base 5s, cap 60s. Other errors fail immediately.
func (s *Scheduler) acquireLockRetry(ctx context.Context) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		ok, err := s.store.AcquireLock(ctx, lockName, s.holder, lockTTL)
		if err == nil {
			return ok, nil
		}
		if !isConnectionError(err) {
			return false, err
		}
		lastErr = err
		delay := queue.Backoff(5*time.Second, attempt)
		if delay > time.Minute {
			delay = time.Minute
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	return false, lastErr
}

func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") || strings.Contains(msg, "econnrefused")
}

// WindowToken floors t to the period and returns a stable token for
// idempotent job IDs: every replica in the same window derives the same ID.
func WindowToken(t time.Time, period time.Duration) int64 {
	return t.Truncate(period).Unix()
}

// FeedTick walks every schedulable feed and enqueues due ones. Exactly one
// job per (feed, window) exists fleet-wide: the loser of the enqueue race
// observes created=false and skips the run bookkeeping.
func (s *Scheduler) FeedTick(ctx context.Context) error {
	now := s.now()
	feeds, err := s.store.ListSchedulableFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list schedulable feeds: %w", err)
	}

	window := WindowToken(now, feedWindow)
	var enqueued int
	for i := range feeds {
		feed := &feeds[i].Feed
		dealer := &feeds[i].Dealer
		if !s.feedDue(feed, now) {
			continue
		}
		// Inactive dealers are skipped here rather than in the worker so
		// they don't burn queue slots; the ingest worker re-checks anyway.
		if !dealer.SubscriptionActiveAt(now) {
			continue
		}

		_, created, err := s.enqueueIngest(ctx, feed, queue.IngestPayload{Trigger: models.TriggerSchedule},
			fmt.Sprintf("feed-%s-%d", feed.ID, window), 0, s.jitter())
		if err != nil {
			log.Printf("[scheduler] enqueue feed %s failed: %v", feed.ID, err)
			continue
		}
		if created {
			enqueued++
		}
	}
	if enqueued > 0 {
		log.Printf("[scheduler] feed tick: %d of %d feeds enqueued", enqueued, len(feeds))
	}

	if err := s.store.SetMeta(ctx, repository.MetaLastSchedulerTick, now.Format(time.RFC3339)); err != nil {
		log.Printf("[scheduler] tick meta write failed: %v", err)
	}
	return nil
}

// feedDue applies the schedule interval against the latest of the feed's
// run/success/created timestamps.
func (s *Scheduler) feedDue(feed *models.Feed, now time.Time) bool {
	if feed.ScheduleMinutes <= 0 {
		return false
	}
	last := feed.CreatedAt
	if feed.LastRunAt != nil && feed.LastRunAt.After(last) {
		last = *feed.LastRunAt
	}
	if feed.LastSuccessAt != nil && feed.LastSuccessAt.After(last) {
		last = *feed.LastSuccessAt
	}
	return now.Sub(last) >= time.Duration(feed.ScheduleMinutes)*time.Minute
}

// enqueueIngest creates the job and, when the enqueue wins, the PENDING
// FeedRun and the last_run_at stamp. Returns the run ID the payload carries.
func (s *Scheduler) enqueueIngest(ctx context.Context, feed *models.Feed, payload queue.IngestPayload, jobID string, priority int, jitter time.Duration) (string, bool, error) {
	now := s.now()
	runID := uuid.NewString()
	payload.FeedID = feed.ID
	payload.FeedRunID = runID

	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("encode ingest payload: %w", err)
	}

	created, err := s.enq.Enqueue(ctx, queue.Job{
		ID:          jobID,
		Queue:       queue.QueueIngest,
		Payload:     body,
		Priority:    priority,
		MaxAttempts: ingestMaxAttempts,
		BackoffBase: ingestBackoffBase,
		RunAt:       now.Add(jitter),
	})
	if err != nil || !created {
		return "", false, err
	}

	run := &models.FeedRun{
		ID:       runID,
		FeedID:   feed.ID,
		DealerID: feed.DealerID,
		Status:   models.RunPending,
		Trigger:  payload.Trigger,
		AdminID:  payload.AdminID,
	}
	if err := s.store.CreateFeedRun(ctx, run); err != nil {
		return runID, true, err
	}
	if err := s.store.TouchFeedLastRun(ctx, feed.ID, now); err != nil {
		return runID, true, err
	}
	return runID, true, nil
}

// BenchmarkTick enqueues one incremental benchmark pass per window.
func (s *Scheduler) BenchmarkTick(ctx context.Context) error {
	window := WindowToken(s.now(), benchmarkWindow)
	body, _ := json.Marshal(queue.BenchmarkPayload{})
	created, err := s.enq.Enqueue(ctx, queue.Job{
		ID:          fmt.Sprintf("benchmark-incremental-%d", window),
		Queue:       queue.QueueBenchmark,
		Payload:     body,
		MaxAttempts: 3,
		BackoffBase: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("enqueue benchmark: %w", err)
	}
	if created {
		log.Printf("[scheduler] benchmark pass enqueued for window %d", window)
	}
	return nil
}

// TriggerManual runs one feed now, bypassing the enabled gate and the
// schedule. It clears a FAILED state first and carries the admin override
// through the job so the subscription gate honors it.
func (s *Scheduler) TriggerManual(ctx context.Context, feedID, adminID string, adminOverride bool) (string, error) {
	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return "", err
	}
	if feed == nil {
		return "", fmt.Errorf("feed %s not found", feedID)
	}

	if feed.Status == models.FeedFailed {
		if err := s.store.ClearFeedFailure(ctx, feedID); err != nil {
			return "", fmt.Errorf("clear failed state: %w", err)
		}
	}

	payload := queue.IngestPayload{
		Trigger:       models.TriggerManual,
		AdminOverride: adminOverride,
		AdminID:       adminID,
	}
	jobID := fmt.Sprintf("feed-%s-manual-%s", feedID, uuid.NewString()[:8])
	runID, created, err := s.enqueueIngest(ctx, feed, payload, jobID, 1, 0)
	if err != nil {
		return "", err
	}
	if !created {
		return "", fmt.Errorf("manual job for feed %s was not enqueued", feedID)
	}
	return runID, nil
}
