// Package document retrieves submitted documents and extracts their text.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/rest"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 20 << 20
)

// Config holds document retrieval settings.
type Config struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
	S3       S3Config      `yaml:"s3"`
	GCS      GCSConfig     `yaml:"gcs"`
}

// Source reads an object for one URL scheme.
type Source interface {
	Fetch(ctx context.Context, ref *url.URL, maxBytes int64) ([]byte, error)
}

// Fetcher dispatches references to sources by scheme.
type Fetcher struct {
	sources  map[string]Source
	timeout  time.Duration
	maxBytes int64
}

// NewFetcher creates a fetcher serving http and https references.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	web := NewHTTPSource(timeout)
	return &Fetcher{
		sources:  map[string]Source{"http": web, "https": web},
		timeout:  timeout,
		maxBytes: maxBytes,
	}
}

// Register adds or replaces the source for scheme.
func (f *Fetcher) Register(scheme string, src Source) {
	f.sources[strings.ToLower(scheme)] = src
}

// Fetch downloads the referenced document.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty document reference: %w", domain.ErrValidation)
	}

	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse document reference: %w: %w", domain.ErrValidation, err)
	}

	src, ok := f.sources[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("document scheme %q: %w", u.Scheme, domain.ErrUnsupported)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	data, err := src.Fetch(ctx, u, f.maxBytes)
	if err != nil {
		return nil, recordScoped(err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("document %s is empty: %w", u.Redacted(), domain.ErrValidation)
	}
	return data, nil
}

// recordScoped reports a denied download as a rejection of that record. It
// never surfaces as a credential failure.
func recordScoped(err error) error {
	if errors.Is(err, domain.ErrAuth) {
		return fmt.Errorf("%w: %s", domain.ErrRejected, err.Error())
	}
	return err
}

// readLimited reads at most max bytes and fails when the body is larger.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w: %w", domain.ErrUnavailable, err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("document exceeds %d bytes: %w", max, domain.ErrValidation)
	}
	return data, nil
}

// HTTPSource downloads documents over http(s).
type HTTPSource struct {
	client *http.Client
}

func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Fetch(ctx context.Context, ref *url.URL, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create document request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w: %w", ref.Redacted(), domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download %s: http %d: %w", ref.Redacted(), resp.StatusCode, rest.Classify(resp.StatusCode))
	}
	return readLimited(resp.Body, maxBytes)
}
