package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrBodyTooLarge = errors.New("response body too large")

type FetcherConfig struct {
	RateLimit      float64 // requests per second
	Timeout        time.Duration
	UserAgent      string
	MaxBytes       int64
	MaxRetries     int
	RetryBackoff   time.Duration
	IgnorePatterns []string
}

// FetchError is returned for any failed fetch. StatusCode is zero for
// transport errors.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch failed because a deadline passed.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

func (e *FetchError) retryable() bool {
	if e.StatusCode != 0 {
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	}
	return !e.Timeout() &&
		!errors.Is(e.Err, context.Canceled) &&
		!errors.Is(e.Err, ErrBodyTooLarge)
}

// Fetcher downloads single documents. It is safe for concurrent use.
type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewFetcher(config FetcherConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "inkdrop/1.0"
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 32 << 20
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}

	return &Fetcher{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func (f *Fetcher) allowed(u *url.URL) bool {
	for _, pattern := range f.config.IgnorePatterns {
		if strings.Contains(u.String(), pattern) {
			return false
		}
	}
	return true
}

// Fetch GETs rawURL and returns the body and Content-Type header. Server
// errors and transport failures are retried with exponential backoff.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	if !f.allowed(u) {
		return nil, "", &FetchError{URL: rawURL, Err: errors.New("url matches ignore pattern")}
	}

	var lastErr *FetchError
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, "", &FetchError{URL: rawURL, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		body, mediaType, ferr := f.fetchOnce(ctx, rawURL)
		if ferr == nil {
			return body, mediaType, nil
		}
		lastErr = ferr
		if !ferr.retryable() {
			break
		}
	}
	return nil, "", lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, string, *FetchError) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/markdown,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, "", &FetchError{URL: rawURL, Err: fmt.Errorf("%w: limit %d", ErrBodyTooLarge, f.config.MaxBytes)}
	}
	return body, resp.Header.Get("Content-Type"), nil
}
