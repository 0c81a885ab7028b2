package vecindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/errors"
)

// RESTIndex implements Index against the index service's HTTP API.
type RESTIndex struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	dimension int
	backoff   errors.RetryConfig
}

// Compile-time interface check.
var _ Index = (*RESTIndex)(nil)

// NewRESTIndex creates a client for the configured index endpoint.
func NewRESTIndex(cfg config.VectorIndexConfig) (*RESTIndex, error) {
	if cfg.Endpoint == "" {
		return nil, errors.ConfigError("vector_index.endpoint is required", nil)
	}
	if cfg.Dimension <= 0 {
		return nil, errors.ConfigError("vector_index.dimension must be positive", nil)
	}
	return &RESTIndex{
		client:    &http.Client{Timeout: 60 * time.Second},
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		backoff:   errors.BackoffSchedule(),
	}, nil
}

type upsertRequest struct {
	Vectors []Record `json:"vectors"`
}

type upsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type statsResponse struct {
	TotalVectorCount int `json:"totalVectorCount"`
	Dimension        int `json:"dimension"`
}

// Upsert writes records, validating dimensions before any request.
func (r *RESTIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if len(rec.Values) != r.dimension {
			return errors.Newf(errors.ErrCodeValidation,
				"record %s has dimension %d, index expects %d",
				rec.ID, len(rec.Values), r.dimension)
		}
	}

	var out upsertResponse
	if err := r.post(ctx, "/vectors/upsert", upsertRequest{Vectors: records}, &out); err != nil {
		return err
	}
	if out.UpsertedCount != len(records) {
		slog.Warn("upsert_count_mismatch",
			slog.Int("sent", len(records)),
			slog.Int("upserted", out.UpsertedCount))
	}
	return nil
}

// Search runs a similarity query.
func (r *RESTIndex) Search(ctx context.Context, q Query) ([]Match, error) {
	if len(q.Vector) != r.dimension {
		return nil, errors.Newf(errors.ErrCodeValidation,
			"query vector has dimension %d, index expects %d",
			len(q.Vector), r.dimension)
	}
	if q.TopK <= 0 {
		return nil, errors.ValidationError("query topK must be positive", nil)
	}

	req := queryRequest{
		Vector:          q.Vector,
		TopK:            q.TopK,
		Filter:          q.Filter,
		IncludeValues:   q.IncludeValues,
		IncludeMetadata: q.IncludeMetadata,
	}
	var out queryResponse
	if err := r.post(ctx, "/query", req, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// DeleteByIDs removes records by ID.
func (r *RESTIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.post(ctx, "/vectors/delete", deleteRequest{IDs: ids}, nil)
}

// Describe returns index statistics.
func (r *RESTIndex) Describe(ctx context.Context) (Stats, error) {
	var out statsResponse
	if err := r.post(ctx, "/describe_index_stats", struct{}{}, &out); err != nil {
		return Stats{}, err
	}
	return Stats{VectorCount: out.TotalVectorCount, Dimension: out.Dimension}, nil
}

// post sends one JSON request with the index-service backoff schedule.
// Network errors, 429, and 5xx responses are retried; a Retry-After
// header overrides the computed delay.
func (r *RESTIndex) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	cfg := r.backoff
	var retryAfter time.Duration
	cfg.ShouldRetry = errors.IsRetryable
	cfg.DelayOverride = func(error) time.Duration {
		return retryAfter
	}

	return errors.Retry(ctx, cfg, func() error {
		retryAfter = 0

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Api-Key", r.apiKey)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrap(errors.ErrCodeTimeout, err)
			}
			return errors.Wrap(errors.ErrCodeAPI, err).WithRetryable()
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			msg := fmt.Sprintf("index %s returned %d: %s", path, resp.StatusCode, string(respBody))
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
					retryAfter = time.Duration(secs) * time.Second
				}
				return errors.New(errors.ErrCodeRateLimit, msg, nil)
			case resp.StatusCode >= 500:
				return errors.New(errors.ErrCodeAPI, msg, nil).WithRetryable()
			case resp.StatusCode == http.StatusNotFound:
				return errors.NotFound(msg)
			default:
				return errors.New(errors.ErrCodeAPI, msg, nil)
			}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(errors.ErrCodeAPI, err)
		}
		return nil
	})
}
