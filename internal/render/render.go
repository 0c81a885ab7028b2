// Package render drives the headless rendering service that converts
// JavaScript-heavy municipal code portals into Markdown.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/errors"
)

// Renderer converts a page URL into its rendered Markdown.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// RendererFunc adapts a function to Renderer; used by tests.
type RendererFunc func(ctx context.Context, pageURL string) (string, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, pageURL string) (string, error) {
	return f(ctx, pageURL)
}

// HTTPRenderer implements Renderer against the rendering service's
// JSON API.
type HTTPRenderer struct {
	client   *http.Client
	endpoint string
	apiKey   string
	backoff  errors.RetryConfig
}

// Compile-time interface check.
var _ Renderer = (*HTTPRenderer)(nil)

// NewHTTPRenderer creates a renderer client from configuration.
func NewHTTPRenderer(cfg config.RendererConfig) (*HTTPRenderer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.ConfigError("renderer.endpoint is required for municipal ingestion", nil)
	}
	return &HTTPRenderer{
		// Rendering a heavy portal page can take minutes.
		client:   &http.Client{Timeout: 5 * time.Minute},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		backoff:  errors.BackoffSchedule(),
	}, nil
}

type renderRequest struct {
	URL string `json:"url"`
}

type renderResponse struct {
	Markdown string `json:"markdown"`
}

// Render converts pageURL to Markdown with backoff retries on
// transient failures.
func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	body, err := json.Marshal(renderRequest{URL: pageURL})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err)
	}

	cfg := r.backoff
	var retryAfter time.Duration
	cfg.ShouldRetry = errors.IsRetryable
	cfg.DelayOverride = func(error) time.Duration {
		return retryAfter
	}

	return errors.RetryWithResult(ctx, cfg, func() (string, error) {
		retryAfter = 0

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/render", bytes.NewReader(body))
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeInternal, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.Wrap(errors.ErrCodeTimeout, err)
			}
			return "", errors.New(errors.ErrCodeScraping, fmt.Sprintf("render %s", pageURL), err).WithRetryable()
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
			return "", errors.Newf(errors.ErrCodeRateLimit, "renderer returned 429 for %s", pageURL)
		case resp.StatusCode >= 500:
			return "", errors.Newf(errors.ErrCodeScraping, "renderer returned %d for %s", resp.StatusCode, pageURL).WithRetryable()
		default:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return "", errors.Newf(errors.ErrCodeScraping, "renderer returned %d for %s: %s",
				resp.StatusCode, pageURL, string(respBody))
		}

		var out renderResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", errors.Wrap(errors.ErrCodeAPI, err)
		}
		if out.Markdown == "" {
			return "", errors.Newf(errors.ErrCodeScraping, "renderer returned empty markdown for %s", pageURL)
		}
		return out.Markdown, nil
	})
}
