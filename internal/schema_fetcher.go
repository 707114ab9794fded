package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// maxSchemaBytes bounds a single downloaded schema document.
const maxSchemaBytes = 32 << 20

// SchemaFetcher retrieves the raw bytes of a schema document.
type SchemaFetcher interface {
	Fetch(ctx context.Context, source *url.URL) ([]byte, error)
}

// FetcherSet dispatches on the source URI scheme. Bare paths use the "file" entry.
type FetcherSet map[string]SchemaFetcher

// Fetch parses source and hands it to the fetcher registered for its scheme.
func (s FetcherSet) Fetch(ctx context.Context, source string) ([]byte, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source %q: %w", source, err)
	}
	scheme := u.Scheme
	if scheme == "" || len(scheme) == 1 { // bare path, or a Windows drive letter
		scheme = "file"
		u = &url.URL{Scheme: "file", Path: source}
	}
	fetcher, ok := s[scheme]
	if !ok {
		return nil, fmt.Errorf("no fetcher for scheme %q", scheme)
	}
	return fetcher.Fetch(ctx, u)
}

// Host breaker settings: after hostFailureThreshold network or 5xx failures
// within a minute, further requests to that host fail immediately.
const (
	hostFailureThreshold = 3
	hostFailureWindow    = time.Minute
	hostOpenDuration     = 30 * time.Second
)

// HTTPSchemaFetcher downloads schemas over http and https.
type HTTPSchemaFetcher struct {
	client    *http.Client
	userAgent string
	breakers  *hostBreakers
}

// NewHTTPSchemaFetcher creates a fetcher with the given request timeout.
func NewHTTPSchemaFetcher(timeout time.Duration, userAgent string) *HTTPSchemaFetcher {
	return &HTTPSchemaFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		breakers:  newHostBreakers(hostFailureThreshold, hostFailureWindow, hostOpenDuration),
	}
}

func (f *HTTPSchemaFetcher) Fetch(ctx context.Context, source *url.URL) ([]byte, error) {
	breaker := f.breakers.get(source.Host)
	if breaker.IsOpen() {
		return nil, fmt.Errorf("GET %s: host %s unavailable after repeated failures until %s",
			source.Redacted(), source.Host, breaker.OpenUntil().Format(time.TimeOnly))
	}
	data, err := f.get(ctx, source, breaker)
	if err != nil {
		return nil, err
	}
	breaker.RecordSuccess()
	return data, nil
}

func (f *HTTPSchemaFetcher) get(ctx context.Context, source *url.URL, breaker *CircuitBreaker) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			breaker.RecordFailure()
		}
		return nil, fmt.Errorf("GET %s: %w", source.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		breaker.RecordFailure()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s: unexpected status %d: %s", source.Redacted(), resp.StatusCode, snippet)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", source.Redacted(), err)
	}
	if len(data) > maxSchemaBytes {
		return nil, fmt.Errorf("GET %s: schema larger than %d bytes", source.Redacted(), maxSchemaBytes)
	}
	return data, nil
}

// FileSchemaFetcher copies schemas from the local file system.
type FileSchemaFetcher struct{}

func (FileSchemaFetcher) Fetch(_ context.Context, source *url.URL) ([]byte, error) {
	path := source.Path
	if source.Opaque != "" {
		path = source.Opaque
	}
	data, err := os.ReadFile(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
