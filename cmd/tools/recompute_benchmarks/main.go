package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"caliberscan/internal/queue"
	"caliberscan/internal/repository"
)

// Enqueues a benchmark recompute: the whole catalog, or specific
// canonical SKUs. The running workers pick the job up.
func main() {
	var (
		full bool
		ids  string
	)
	flag.BoolVar(&full, "full", false, "recompute every canonical sku")
	flag.StringVar(&ids, "ids", "", "comma-separated canonical sku ids")
	flag.Parse()

	if !full && ids == "" {
		fmt.Fprintln(os.Stderr, "pass -full or -ids")
		os.Exit(1)
	}

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

	payload := queue.BenchmarkPayload{Full: full}
	if ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				payload.CanonicalSkuIDs = append(payload.CanonicalSkuIDs, id)
			}
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("encode payload: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, err := queue.New(repo.Pool()).Enqueue(ctx, queue.Job{
		ID:          fmt.Sprintf("benchmark-manual-%d", time.Now().UnixNano()),
		Queue:       queue.QueueBenchmark,
		Payload:     body,
		Priority:    1,
		MaxAttempts: 3,
	})
	if err != nil {
		log.Fatalf("enqueue: %v", err)
	}
	if !created {
		log.Fatal("job was not created")
	}
	fmt.Println("benchmark recompute enqueued")
}
