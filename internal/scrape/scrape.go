// Package scrape provides the polite HTTP fetcher shared by all source
// fetchers. It enforces a per-host delay, retries transient failures
// with exponential backoff, and maps upstream responses onto the
// pipeline error codes.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/regscope/regscope/internal/errors"
)

const userAgent = "regscope/1.0 (regulatory research; contact@regscope.dev)"

// maxBodyBytes caps fetched document size. Regulatory pages are text;
// anything past this is a misbehaving endpoint.
const maxBodyBytes = 32 << 20

// Client fetches documents with per-host rate limiting.
type Client struct {
	httpClient *http.Client
	delay      time.Duration
	backoff    errors.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a fetcher with the given per-host delay between
// requests.
func NewClient(perHostDelay time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		delay:      perHostDelay,
		backoff:    errors.BackoffSchedule(),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// limiter returns the rate limiter for a host, creating it on first use.
func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		if c.delay > 0 {
			lim = rate.NewLimiter(rate.Every(c.delay), 1)
		} else {
			lim = rate.NewLimiter(rate.Inf, 1)
		}
		c.limiters[host] = lim
	}
	return lim
}

// Fetch retrieves rawURL and returns the response body.
//
// A 404 returns ERR_401_NOT_FOUND so fetchers can skip gone sections.
// Network errors, 429, and 5xx are retried on the standard backoff
// schedule, honoring Retry-After; exhaustion surfaces as the last
// error. Other failures return ERR_302_SCRAPING without retrying.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New(errors.ErrCodeScraping, fmt.Sprintf("invalid url %q", rawURL), err)
	}

	cfg := c.backoff
	var retryAfter time.Duration
	cfg.ShouldRetry = errors.IsRetryable
	cfg.DelayOverride = func(error) time.Duration {
		return retryAfter
	}

	lim := c.limiter(u.Host)

	return errors.RetryWithResult(ctx, cfg, func() ([]byte, error) {
		retryAfter = 0

		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeScraping, err)
		}
		req.Header.Set("User-Agent", userAgent)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(errors.ErrCodeTimeout, err)
			}
			return nil, errors.New(errors.ErrCodeScraping, fmt.Sprintf("fetch %s", rawURL), err).WithRetryable()
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
			// Fall through to body read.
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.NotFound(fmt.Sprintf("%s returned 404", rawURL))
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
			return nil, errors.Newf(errors.ErrCodeRateLimit, "%s returned 429", rawURL)
		case resp.StatusCode >= 500:
			return nil, errors.Newf(errors.ErrCodeScraping, "%s returned %d", rawURL, resp.StatusCode).WithRetryable()
		default:
			return nil, errors.Newf(errors.ErrCodeScraping, "%s returned %d", rawURL, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, errors.New(errors.ErrCodeScraping, fmt.Sprintf("read %s", rawURL), err)
		}

		slog.Debug("fetch_complete",
			slog.String("url", rawURL),
			slog.Int("bytes", len(body)),
			slog.Duration("elapsed", time.Since(start)))
		return body, nil
	})
}
