// Package fetch downloads and parses syndication feeds.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sethvargo/go-retry"
)

// maxBodyBytes caps how much of a feed response is read.
const maxBodyBytes = 10 * 1024 * 1024

// Error wraps a fetch or parse failure for one URL, letting callers map
// feed trouble separately from storage trouble.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses feeds. Transport-level failures and 5xx
// responses are retried with backoff; malformed documents are not.
type Fetcher struct {
	client     HTTPClient
	maxRetries uint64
	backoff    time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:     client,
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
	}
}

// SetBackoff overrides the initial retry backoff (useful for testing).
func (f *Fetcher) SetBackoff(d time.Duration) {
	f.backoff = d
}

// Fetch downloads the feed at url and parses it into a structured document.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	var body []byte
	b := retry.WithMaxRetries(f.maxRetries, retry.NewFibonacci(f.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "feedbarn/1.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("http get: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("server status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	return feed, nil
}
