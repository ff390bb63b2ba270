package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"caliberscan/internal/eventbus"
	"caliberscan/internal/models"
	"caliberscan/internal/repository"

	"github.com/gorilla/mux"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Store is the repository surface the API reads and writes.
type Store interface {
	ListFeeds(ctx context.Context) ([]models.Feed, error)
	GetFeed(ctx context.Context, id string) (*models.Feed, error)
	SetFeedEnabled(ctx context.Context, feedID string, enabled bool) error
	ClearFeedFailure(ctx context.Context, feedID string) error
	ListFeedRuns(ctx context.Context, feedID string, limit int) ([]models.FeedRun, error)
	GetFeedRun(ctx context.Context, id string) (*models.FeedRun, error)
	ListQuarantined(ctx context.Context, feedID, status string, limit int) ([]models.QuarantinedRecord, error)
	ResolveQuarantined(ctx context.Context, feedID, matchKey, resolvedBy string, at time.Time) (bool, error)
	GetBenchmark(ctx context.Context, canonicalID string) (*models.Benchmark, error)
	ListInsights(ctx context.Context, dealerID string, limit int) ([]models.Insight, error)
	CountFeedsByStatus(ctx context.Context) (map[string]int, error)
	CatalogVersion(ctx context.Context) (int64, error)
	GetMeta(ctx context.Context, key string) (string, error)
}

// Trigger is the scheduler surface for manual runs.
type Trigger interface {
	TriggerManual(ctx context.Context, feedID, adminID string, adminOverride bool) (string, error)
}

// QueueStats exposes queue depths for the status endpoint.
type QueueStats interface {
	Depths(ctx context.Context) (map[string]map[string]int, error)
}

type Server struct {
	store      Store
	trigger    Trigger
	queue      QueueStats
	bus        *eventbus.Bus
	auth       *AuthMiddleware
	httpServer *http.Server

	statusCache struct {
		mu        sync.Mutex
		payload   []byte
		expiresAt time.Time
	}
}

func NewServer(store Store, trigger Trigger, queue QueueStats, bus *eventbus.Bus, jwtSecret, port string) *Server {
	s := &Server{
		store:   store,
		trigger: trigger,
		queue:   queue,
		bus:     bus,
		auth:    NewAuthMiddleware(jwtSecret),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/feeds", s.handleListFeeds).Methods("GET")
	v1.HandleFunc("/feeds/{id}", s.handleGetFeed).Methods("GET")
	v1.HandleFunc("/feeds/{id}/runs", s.handleListRuns).Methods("GET")
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	v1.HandleFunc("/feeds/{id}/quarantine", s.handleListQuarantine).Methods("GET")
	v1.HandleFunc("/benchmarks/{canonicalId}", s.handleGetBenchmark).Methods("GET")
	v1.HandleFunc("/dealers/{id}/insights", s.handleListInsights).Methods("GET")
	v1.HandleFunc("/live", s.handleLive).Methods("GET")

	// Mutations require an admin token.
	admin := r.PathPrefix("/api/v1").Subrouter()
	admin.Use(s.auth.Middleware)
	admin.HandleFunc("/feeds/{id}/ingest", s.handleTriggerIngest).Methods("POST")
	admin.HandleFunc("/feeds/{id}/enable", s.handleEnableFeed).Methods("POST")
	admin.HandleFunc("/feeds/{id}/quarantine/{matchKey}/resolve", s.handleResolveQuarantine).Methods("POST")

	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusPayload is what /api/v1/status serves, cached briefly since every
// dashboard polls it.
func (s *Server) buildStatusPayload(ctx context.Context) ([]byte, error) {
	feedCounts, err := s.store.CountFeedsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	resp := map[string]interface{}{
		"status":       "ok",
		"build":        BuildCommit,
		"feeds":        feedCounts,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}

	if version, err := s.store.CatalogVersion(ctx); err == nil {
		resp["catalog_version"] = version
	}
	if tick, err := s.store.GetMeta(ctx, repository.MetaLastSchedulerTick); err == nil && tick != "" {
		resp["last_scheduler_tick"] = tick
	}
	if s.queue != nil {
		if depths, err := s.queue.Depths(ctx); err == nil {
			resp["queues"] = depths
		}
	}

	return json.Marshal(resp)
}
