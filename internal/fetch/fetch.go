package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"caliberscan/internal/models"
)

// Source describes where one feed document lives and how to reach it.
type Source struct {
	Transport string
	URL       string
	Username  string
	Password  string
}

// Config tunes the fetcher. Zero values fall back to sane defaults.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	UploadDir string
}

// Fetcher retrieves raw feed documents over the supported transports.
// One instance is shared by all ingest workers.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	uploadDir string
}

func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "caliberscan-fetcher/1.0"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
		timeout:   cfg.Timeout,
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
		uploadDir: cfg.UploadDir,
	}
}

// Fetch downloads the feed document and returns its raw bytes. Gzipped
// payloads are decompressed transparently regardless of transport.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch src.Transport {
	case models.TransportPublicURL, models.TransportAuthURL:
		data, err = f.fetchHTTP(ctx, src)
	case models.TransportFTP:
		data, err = f.fetchFTP(ctx, src)
	case models.TransportSFTP:
		data, err = f.fetchSFTP(ctx, src)
	case models.TransportUpload:
		data, err = f.fetchUpload(src)
	default:
		return nil, fmt.Errorf("unsupported transport %q", src.Transport)
	}
	if err != nil {
		return nil, err
	}
	return f.maybeGunzip(data)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, src Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	if src.Transport == models.TransportAuthURL && src.Username != "" {
		req.SetBasicAuth(src.Username, src.Password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	// Redirects were already followed by the client, so any surviving
	// non-2xx (including 304) means no usable feed body.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: src.URL, StatusCode: resp.StatusCode}
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", src.URL, err)
	}
	return data, nil
}

func (f *Fetcher) fetchUpload(src Source) ([]byte, error) {
	// Uploaded files are stored by name under the upload dir. Base strips
	// any path components a caller might smuggle in.
	name := filepath.Base(filepath.Clean(src.URL))
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid upload name %q", src.URL)
	}
	path := filepath.Join(f.uploadDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", name, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// readLimited reads at most maxBytes and fails when the stream exceeds it.
func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// maybeGunzip unwraps a gzip envelope when the magic bytes match. Some
// dealers serve .gz exports without setting Content-Encoding.
func (f *Fetcher) maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()
	out, err := f.readLimited(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
