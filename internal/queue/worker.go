package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// Handler processes one claimed job. A returned error counts as a failed
// attempt and the queue's retry policy applies.
type Handler func(ctx context.Context, job *Job) error

// Pool runs N goroutines polling one queue. Shutdown is cooperative: each
// goroutine finishes its in-flight job, commits the outcome, then exits.
type Pool struct {
	q            *Queue
	name         string
	concurrency  int
	handler      Handler
	workerID     string
	pollInterval time.Duration
}

func NewPool(q *Queue, name string, concurrency int, handler Handler) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	hostname, _ := os.Hostname()
	return &Pool{
		q:            q,
		name:         name,
		concurrency:  concurrency,
		handler:      handler,
		workerID:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		pollInterval: time.Second,
	}
}

// Start launches the pool's goroutines, registered on wg.
func (p *Pool) Start(ctx context.Context, wg *sync.WaitGroup) {
	log.Printf("[queue:%s] starting %d workers", p.name, p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.runLoop(ctx, n)
		}(i)
	}
}

func (p *Pool) runLoop(ctx context.Context, n int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[queue:%s] worker %d stopping", p.name, n)
			return
		case <-ticker.C:
			// Drain until empty so a burst doesn't wait on the ticker.
			for p.runOne(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// runOne claims and processes a single job; reports whether one was found.
func (p *Pool) runOne(ctx context.Context) bool {
	job, err := p.q.Claim(ctx, p.name, p.workerID)
	if err == ErrNoJob {
		return false
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[queue:%s] claim failed: %v", p.name, err)
		}
		return false
	}

	jobErr := p.invoke(ctx, job)
	if jobErr != nil {
		log.Printf("[queue:%s] job %s attempt %d failed: %v", p.name, job.ID, job.Attempt+1, jobErr)
		if err := p.q.Fail(context.WithoutCancel(ctx), job, jobErr); err != nil {
			log.Printf("[queue:%s] failed to record failure for %s: %v", p.name, job.ID, err)
		}
		return true
	}

	// Commit with a detached context so shutdown cannot lose a finished job.
	if err := p.q.Complete(context.WithoutCancel(ctx), job.ID); err != nil {
		log.Printf("[queue:%s] failed to complete %s: %v", p.name, job.ID, err)
	}
	return true
}

// invoke runs the handler with panic containment; a panicking job fails
// like any other instead of taking the worker down.
func (p *Pool) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.handler(ctx, job)
}

// StartReaper periodically returns expired leases to PENDING. One reaper
// per process is plenty; the update is idempotent across replicas.
func StartReaper(ctx context.Context, q *Queue, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := q.ReapExpired(ctx); err != nil {
					if ctx.Err() == nil {
						log.Printf("[queue] reaper error: %v", err)
					}
				} else if n > 0 {
					log.Printf("[queue] reaper returned %d expired jobs to PENDING", n)
				}
			}
		}
	}()
}
