package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// HTTPFetcher downloads the dataset CSV with a bounded timeout and a
// small retry budget. Callers fall back to the cached payload when the
// budget runs out.
type HTTPFetcher struct {
	Client     *http.Client
	MaxRetries int
}

func NewHTTPFetcher(cfg FetchConfig) *HTTPFetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPFetcher{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		MaxRetries: retries,
	}
}

// Fetch implements the Fetcher interface with retries and exponential
// backoff on transient failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	var lastErr error

	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 0.5s, 1s, 2s + jitter
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "text/csv,application/csv,text/plain;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.5")
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := f.Client.Do(req)
		if err != nil {
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return &FetchedDocument{
				URL:         rawURL,
				StatusCode:  resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        resp.Body,
				FetchedAt:   time.Now(),
				Headers:     resp.Header,
			}, nil
		}

		resp.Body.Close()
		if shouldRetry(nil, resp.StatusCode) {
			lastErr = fmt.Errorf("status code %d", resp.StatusCode)
			continue
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// IsCSVContentType reports whether a Content-Type header plausibly
// carries CSV. Some hosts serve the export as text/plain, which is fine;
// anything else is worth a warning but not a failure.
func IsCSVContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/csv") ||
		strings.Contains(ct, "application/csv") ||
		strings.Contains(ct, "text/plain")
}

// shouldRetry determines if an error or status code should trigger a retry
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return true
		}
		return false
	}

	retryStatusCodes := map[int]bool{
		429: true, // Too Many Requests
		500: true, // Internal Server Error
		502: true, // Bad Gateway
		503: true, // Service Unavailable
		504: true, // Gateway Timeout
	}
	return retryStatusCodes[statusCode]
}
