package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caliberscan/internal/models"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type fakeAPIStore struct {
	feeds      []models.Feed
	feed       *models.Feed
	runs       []models.FeedRun
	run        *models.FeedRun
	quarantine []models.QuarantinedRecord
	benchmark  *models.Benchmark
	insights   []models.Insight

	resolveOK  bool
	resolvedBy string
	enabled    map[string]bool
	cleared    []string
}

func (f *fakeAPIStore) ListFeeds(context.Context) ([]models.Feed, error) { return f.feeds, nil }
func (f *fakeAPIStore) GetFeed(context.Context, string) (*models.Feed, error) {
	return f.feed, nil
}

func (f *fakeAPIStore) SetFeedEnabled(_ context.Context, feedID string, enabled bool) error {
	if f.enabled == nil {
		f.enabled = make(map[string]bool)
	}
	f.enabled[feedID] = enabled
	return nil
}

func (f *fakeAPIStore) ClearFeedFailure(_ context.Context, feedID string) error {
	f.cleared = append(f.cleared, feedID)
	return nil
}

func (f *fakeAPIStore) ListFeedRuns(context.Context, string, int) ([]models.FeedRun, error) {
	return f.runs, nil
}

func (f *fakeAPIStore) GetFeedRun(context.Context, string) (*models.FeedRun, error) {
	return f.run, nil
}

func (f *fakeAPIStore) ListQuarantined(context.Context, string, string, int) ([]models.QuarantinedRecord, error) {
	return f.quarantine, nil
}

func (f *fakeAPIStore) ResolveQuarantined(_ context.Context, _, _, resolvedBy string, _ time.Time) (bool, error) {
	f.resolvedBy = resolvedBy
	return f.resolveOK, nil
}

func (f *fakeAPIStore) GetBenchmark(context.Context, string) (*models.Benchmark, error) {
	return f.benchmark, nil
}

func (f *fakeAPIStore) ListInsights(context.Context, string, int) ([]models.Insight, error) {
	return f.insights, nil
}

func (f *fakeAPIStore) CountFeedsByStatus(context.Context) (map[string]int, error) {
	return map[string]int{models.FeedHealthy: 2}, nil
}

func (f *fakeAPIStore) CatalogVersion(context.Context) (int64, error) { return 7, nil }
func (f *fakeAPIStore) GetMeta(context.Context, string) (string, error) {
	return "2026-03-01T12:00:00Z", nil
}

type fakeTrigger struct {
	feedID   string
	adminID  string
	override bool
}

func (f *fakeTrigger) TriggerManual(_ context.Context, feedID, adminID string, override bool) (string, error) {
	f.feedID, f.adminID, f.override = feedID, adminID, override
	return "run-42", nil
}

const testSecret = "test-secret"

func adminToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testServer(store Store, trigger Trigger) *Server {
	return NewServer(store, trigger, nil, nil, testSecret, "0")
}

func TestHealth(t *testing.T) {
	srv := testServer(&fakeAPIStore{}, &fakeTrigger{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	srv := testServer(&fakeAPIStore{}, &fakeTrigger{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["catalog_version"] != float64(7) {
		t.Errorf("catalog_version = %v", body["catalog_version"])
	}
	if _, ok := body["feeds"]; !ok {
		t.Error("status should include feed counts")
	}
}

func TestGetFeedNotFound(t *testing.T) {
	srv := testServer(&fakeAPIStore{}, &fakeTrigger{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/feeds/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestTriggerIngestRequiresAuth(t *testing.T) {
	srv := testServer(&fakeAPIStore{}, &fakeTrigger{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/feeds/f1/ingest", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated trigger should 401, got %d", rec.Code)
	}
}

func TestTriggerIngest(t *testing.T) {
	trigger := &fakeTrigger{}
	srv := testServer(&fakeAPIStore{}, trigger)

	req := httptest.NewRequest("POST", "/api/v1/feeds/f1/ingest",
		strings.NewReader(`{"admin_override": true}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-7"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if trigger.feedID != "f1" || trigger.adminID != "admin-7" || !trigger.override {
		t.Errorf("trigger called with %+v", trigger)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["run_id"] != "run-42" {
		t.Errorf("run_id = %s", body["run_id"])
	}
}

func TestResolveQuarantine(t *testing.T) {
	store := &fakeAPIStore{resolveOK: true}
	srv := testServer(store, &fakeTrigger{})

	req := httptest.NewRequest("POST", "/api/v1/feeds/f1/quarantine/abc123/resolve", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-2"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if store.resolvedBy != "admin-2" {
		t.Errorf("resolved_by = %s", store.resolvedBy)
	}
}

func TestResolveQuarantineAlreadyResolved(t *testing.T) {
	srv := testServer(&fakeAPIStore{resolveOK: false}, &fakeTrigger{})

	req := httptest.NewRequest("POST", "/api/v1/feeds/f1/quarantine/abc123/resolve", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-2"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("re-resolving should conflict, got %d", rec.Code)
	}
}

func TestEnableFeedClearsFailure(t *testing.T) {
	store := &fakeAPIStore{feed: &models.Feed{ID: "f1", Status: models.FeedFailed}}
	srv := testServer(store, &fakeTrigger{})

	req := httptest.NewRequest("POST", "/api/v1/feeds/f1/enable",
		strings.NewReader(`{"enabled": true}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-1"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !store.enabled["f1"] {
		t.Error("feed should be enabled")
	}
	if len(store.cleared) != 1 {
		t.Error("re-enabling should clear the FAILED verdict")
	}
}

func TestGetBenchmarkNotFound(t *testing.T) {
	srv := testServer(&fakeAPIStore{}, &fakeTrigger{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/benchmarks/c1", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	srv := testServer(&fakeAPIStore{}, &fakeTrigger{})

	req := httptest.NewRequest("POST", "/api/v1/feeds/f1/ingest", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	srv := testServer(&fakeAPIStore{}, &fakeTrigger{})

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "admin-1"})
	signed, _ := token.SignedString([]byte("other-secret"))

	req := httptest.NewRequest("POST", "/api/v1/feeds/f1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}
