package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"caliberscan/internal/queue"
	"caliberscan/internal/repository"
)

// Requeues DEAD jobs so they run again with a fresh attempt budget.
// Intended for after an outage whose root cause has been fixed.
func main() {
	var (
		queueName string
		dryRun    bool
	)
	flag.StringVar(&queueName, "queue", "", "queue to requeue (ingest, match, benchmark, insight); required")
	flag.BoolVar(&dryRun, "dry-run", false, "show depths only, requeue nothing")
	flag.Parse()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DB_URL is required")
		os.Exit(1)
	}

	repo, err := repository.New(dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	jobs := queue.New(repo.Pool())
	depths, err := jobs.Depths(ctx)
	if err != nil {
		log.Fatalf("read queue depths: %v", err)
	}
	for name, byStatus := range depths {
		fmt.Printf("%-10s pending=%d active=%d dead=%d\n",
			name, byStatus[queue.StatusPending], byStatus[queue.StatusActive], byStatus[queue.StatusDead])
	}

	if dryRun {
		return
	}
	if queueName == "" {
		fmt.Fprintln(os.Stderr, "-queue is required (or use -dry-run)")
		os.Exit(1)
	}

	n, err := jobs.RequeueDead(ctx, queueName)
	if err != nil {
		log.Fatalf("requeue: %v", err)
	}
	fmt.Printf("requeued %d dead job(s) on %s\n", n, queueName)
}
