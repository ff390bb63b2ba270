package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"caliberscan/internal/api"
	"caliberscan/internal/benchmark"
	"caliberscan/internal/config"
	"caliberscan/internal/connector"
	"caliberscan/internal/eventbus"
	"caliberscan/internal/fetch"
	"caliberscan/internal/ingest"
	"caliberscan/internal/insight"
	"caliberscan/internal/match"
	"caliberscan/internal/notify"
	"caliberscan/internal/queue"
	"caliberscan/internal/repository"
	"caliberscan/internal/scheduler"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing Caliberscan Backend...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("API Port: %d", cfg.APIPort)

	repo, err := repository.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer repo.Close()

	// Auto-migration (skip with SKIP_MIGRATION=true for API-only containers).
	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Println("Database Migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Println("Running Database Migration...")
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database Migration Complete.")
	}

	jobs := queue.New(repo.Pool())
	bus := eventbus.New()
	registry := connector.NewRegistry()
	fetcher := fetch.New(fetch.Config{
		Timeout:   time.Duration(cfg.FetchTimeoutSec) * time.Second,
		MaxBytes:  cfg.FetchMaxBytes,
		UserAgent: cfg.UserAgent,
		UploadDir: cfg.UploadDir,
	})

	var notifier notify.Notifier = notify.LogNotifier{}
	if webhookURL := os.Getenv("NOTIFY_WEBHOOK_URL"); webhookURL != "" {
		notifier = notify.NewWebhookNotifier(webhookURL)
	}
	gate := notify.NewGate(repo, notifier)

	snapshot := match.NewSnapshot(repo)
	if err := snapshot.Warm(context.Background()); err != nil {
		log.Printf("Warning: catalog snapshot warm failed: %v", err)
	}

	ingestWorker := ingest.New(repo, fetcher, registry, jobs, gate, bus)
	matchWorker := match.New(repo, snapshot, jobs)
	benchmarkWorker := benchmark.New(repo, jobs)
	insightWorker := insight.New(repo)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	queue.NewPool(jobs, queue.QueueIngest, envInt("INGEST_CONCURRENCY", 5), ingestWorker.HandleJob).Start(ctx, &wg)
	queue.NewPool(jobs, queue.QueueMatch, envInt("MATCH_CONCURRENCY", 10), matchWorker.HandleJob).Start(ctx, &wg)
	queue.NewPool(jobs, queue.QueueBenchmark, envInt("BENCHMARK_CONCURRENCY", 10), benchmarkWorker.HandleJob).Start(ctx, &wg)
	queue.NewPool(jobs, queue.QueueInsight, envInt("INSIGHT_CONCURRENCY", 10), insightWorker.HandleJob).Start(ctx, &wg)
	queue.StartReaper(ctx, jobs, &wg)

	sched := scheduler.New(repo, jobs)
	if os.Getenv("SCHEDULER_ENABLED") != "false" {
		sched.Start(ctx, &wg)
	} else {
		log.Println("Scheduler DISABLED (SCHEDULER_ENABLED=false)")
	}

	api.BuildCommit = BuildCommit
	apiPort := strconv.Itoa(cfg.APIPort)
	server := api.NewServer(repo, sched, jobs, bus, cfg.JWTSecret, apiPort)
	api.GlobalHub().BridgeEvents(bus)

	go func() {
		log.Printf("API listening on :%s", apiPort)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}

	wg.Wait()
	bus.Close()
	log.Println("Shutdown complete.")
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// redactDatabaseURL hides the password in log output.
func redactDatabaseURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "(unparseable database url)"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
