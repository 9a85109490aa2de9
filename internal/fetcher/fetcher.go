// Package fetcher downloads search-result and listing pages from the source site.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when no other User-Agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxBodySize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportError is returned for every failed download: network errors,
// timeouts and non-200 responses alike.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fetcher downloads HTML pages.
type Fetcher struct {
	client        HTTPClient
	userAgent     string
	limiter       *rate.Limiter
	pageTimeout   time.Duration
	detailTimeout time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithLimiter paces outgoing requests. The limiter may be shared with other
// components that hit the same site.
func WithLimiter(l *rate.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithTimeouts sets per-request timeouts for search pages and listing pages.
func WithTimeouts(page, detail time.Duration) Option {
	return func(f *Fetcher) {
		if page > 0 {
			f.pageTimeout = page
		}
		if detail > 0 {
			f.detailTimeout = detail
		}
	}
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:        client,
		userAgent:     DefaultUserAgent,
		pageTimeout:   30 * time.Second,
		detailTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchPage downloads a search-results page.
func (f *Fetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url, f.pageTimeout)
}

// FetchDetail downloads a single listing page.
func (f *Fetcher) FetchDetail(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url, f.detailTimeout)
}

func (f *Fetcher) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{URL: url, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru,uz;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("http get: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
