package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"caliberscan/internal/models"
)

func TestFetchPublicURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "caliberscan") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Write([]byte("title,price\nFederal 9mm,24.99\n"))
	}))
	defer srv.Close()

	f := New(Config{})
	data, err := f.Fetch(context.Background(), Source{Transport: models.TransportPublicURL, URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.HasPrefix(string(data), "title,price") {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestFetchBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "dealer" || pass != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{})

	// Without credentials the server rejects us.
	_, err := f.Fetch(context.Background(), Source{Transport: models.TransportPublicURL, URL: srv.URL})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}

	// AUTH_URL attaches the credentials.
	data, err := f.Fetch(context.Background(), Source{
		Transport: models.TransportAuthURL,
		URL:       srv.URL,
		Username:  "dealer",
		Password:  "hunter2",
	})
	if err != nil {
		t.Fatalf("auth fetch: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), Source{Transport: models.TransportPublicURL, URL: srv.URL})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != 500 {
		t.Errorf("expected 500, got %d", se.StatusCode)
	}
	if ErrorCode(err) != models.ErrFetch {
		t.Errorf("500 should classify as FETCH_ERROR, got %s", ErrorCode(err))
	}
}

func TestFetchNonRedirect3xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 304 carries no Location, so the client never follows it.
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), Source{Transport: models.TransportPublicURL, URL: srv.URL})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304 StatusError, got %v", err)
	}
	if ErrorCode(err) != models.ErrFetch {
		t.Errorf("304 should classify as FETCH_ERROR, got %s", ErrorCode(err))
	}
}

func TestFetchSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	f := New(Config{MaxBytes: 1024})
	_, err := f.Fetch(context.Background(), Source{Transport: models.TransportPublicURL, URL: srv.URL})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetchGzipMagic(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("sku,price\nA,1.50\n"))
	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Served as opaque bytes, no Content-Encoding header.
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := New(Config{})
	data, err := f.Fetch(context.Background(), Source{Transport: models.TransportPublicURL, URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "sku,price\nA,1.50\n" {
		t.Errorf("gzip not unwrapped: %q", data)
	}
}

func TestFetchUpload(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "feed.csv"), []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(Config{UploadDir: dir})
	data, err := f.Fetch(context.Background(), Source{Transport: models.TransportUpload, URL: "feed.csv"})
	if err != nil {
		t.Fatalf("upload fetch: %v", err)
	}
	if string(data) != "a,b\n" {
		t.Errorf("unexpected body %q", data)
	}

	// Traversal attempts collapse to the base name.
	_, err = f.Fetch(context.Background(), Source{Transport: models.TransportUpload, URL: "../../etc/passwd"})
	if err == nil {
		t.Fatal("expected missing file error for traversal path")
	}
}

func TestFetchUnknownTransport(t *testing.T) {
	f := New(Config{})
	_, err := f.Fetch(context.Background(), Source{Transport: "CARRIER_PIGEON", URL: "x"})
	if err == nil || !strings.Contains(err.Error(), "unsupported transport") {
		t.Fatalf("expected unsupported transport error, got %v", err)
	}
}

func TestFetchTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 20 * time.Millisecond})
	_, err := f.Fetch(context.Background(), Source{Transport: models.TransportPublicURL, URL: srv.URL})
	if err == nil {
		t.Fatal("expected timeout")
	}
	if got := ErrorCode(err); got != models.ErrTimeout {
		t.Errorf("expected TIMEOUT_ERROR, got %s (%v)", got, err)
	}
}

func TestErrorCodeTable(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, models.ErrTimeout},
		{errors.New("dial tcp: i/o timeout"), models.ErrTimeout},
		{errors.New("context deadline exceeded during read"), models.ErrTimeout},
		{errors.New("connection refused"), models.ErrFetch},
		{&StatusError{URL: "http://x", StatusCode: 404}, models.ErrFetch},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
