// Package fetcher downloads raw feed bodies and computes their transport hash.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultMaxBodyBytes = 10 * 1024 * 1024

// Result holds the outcome of fetching a feed.
type Result struct {
	// Unchanged is true when the body digest matches the previously
	// recorded transport hash; Body is empty in that case.
	Unchanged bool
	Body      []byte
	// Hash is the hex sha256 digest of the fetched body.
	Hash string
}

// Fetcher downloads feed bodies over HTTP.
type Fetcher struct {
	client   HTTPClient
	timeout  time.Duration
	maxBytes int64
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:   client,
		timeout:  30 * time.Second,
		maxBytes: defaultMaxBodyBytes,
	}
}

// SetMaxBodyBytes overrides the response body size limit.
func (f *Fetcher) SetMaxBodyBytes(n int64) {
	if n > 0 {
		f.maxBytes = n
	}
}

// Fetch downloads the feed at url and compares its digest against
// prevHash. No retries happen here; retry policy belongs to the
// scheduling layer.
func (f *Fetcher) Fetch(ctx context.Context, url, prevHash string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "calsync/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	hash := BodyHash(body)
	if prevHash != "" && hash == prevHash {
		return &Result{Unchanged: true, Hash: hash}, nil
	}
	return &Result{Body: body, Hash: hash}, nil
}

// BodyHash returns the hex sha256 digest of a raw feed body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
