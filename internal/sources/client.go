// Package sources fetches raw topic observations from public upstreams: the GDELT
// DOC API, Google Trends daily trending RSS and Wikipedia top pageviews.
//
// Each client issues rate-limited GET requests with retry on transport errors, 429
// and 5xx responses. A Collector fans out to all configured sources for one country
// and only fails when every source fails.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/observatory/internal/models"
)

// Source fetches the current observations of one country from one upstream.
type Source interface {
	Name() models.Source
	Fetch(ctx context.Context, country string) ([]models.TopicObservation, error)
}

// ClientOptions are shared by all HTTP source clients.
type ClientOptions struct {
	BaseURL    string
	Timeout    time.Duration
	Confidence float64
	// RatePerSecond limits outbound requests; zero disables limiting.
	RatePerSecond float64
	MaxRetries    int
	// Backoff is the base delay between retries, doubled after each attempt.
	Backoff   time.Duration
	UserAgent string
	// Limit caps the observations returned per fetch.
	Limit int
}

const defaultUserAgent = "observatory/1.0 (+https://github.com/rewired-gh/observatory)"

type httpClient struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	userAgent  string
}

func newHTTPClient(opts ClientOptions, defaultBaseURL string) *httpClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return &httpClient{
		baseURL:    opts.BaseURL,
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		userAgent:  opts.UserAgent,
	}
}

// StatusError is returned for non-retryable HTTP responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// get performs a GET request with retry logic and returns the body.
func (c *httpClient) get(ctx context.Context, url, accept string) ([]byte, error) {
	var lastErr error
	delay := c.backoff

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
