package embed

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/regscope/regscope/internal/cite"
	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/errors"
)

// interBatchDelay spaces consecutive embedding batches to stay under
// the provider's requests-per-minute limit.
const interBatchDelay = 100 * time.Millisecond

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API.
//
// The SDK's built-in retries are disabled; retries run on the shared
// backoff schedule so rate-limit handling matches every other external
// client.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimension  int
	batchSize  int
	tokenLimit int
	counter    cite.Counter
	backoff    errors.RetryConfig
	sleep      func(context.Context, time.Duration) error
}

// Compile-time interface check.
var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder from configuration. counter is
// used for the pre-flight token check on every input.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig, dimension int, counter cite.Counter) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigError("OPENAI_API_KEY is required for embedding", nil)
	}
	if counter == nil {
		return nil, errors.ConfigError("token counter is required", nil)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimension:  dimension,
		batchSize:  cfg.BatchSize,
		tokenLimit: cfg.HardTokenLimit,
		counter:    counter,
		backoff:    errors.BackoffSchedule(),
		sleep:      sleepCtx,
	}, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimension
}

// EmbedBatch embeds texts in provider-sized sub-batches, preserving
// input order. Every input is token-checked before any request is made,
// so an oversized text fails fast instead of mid-run.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	for i, text := range texts {
		if n := e.counter.Count(text); n > e.tokenLimit {
			return nil, errors.Newf(errors.ErrCodeTokenLimit,
				"input %d has %d tokens, limit is %d", i, n, e.tokenLimit)
		}
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if start > 0 {
			if err := e.sleep(ctx, interBatchDelay); err != nil {
				return nil, err
			}
		}

		vectors, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		results = append(results, vectors...)

		slog.Debug("embed_batch_complete",
			slog.Int("completed", end),
			slog.Int("total", len(texts)))
	}
	return results, nil
}

// EmbedQuery embeds a single retrieval query.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if n := e.counter.Count(text); n > e.tokenLimit {
		return nil, errors.Newf(errors.ErrCodeTokenLimit,
			"query has %d tokens, limit is %d", n, e.tokenLimit)
	}
	vectors, err := e.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedOnce sends one embeddings request with backoff retries.
func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := e.backoff
	var retryAfter time.Duration
	cfg.ShouldRetry = errors.IsRetryable
	cfg.DelayOverride = func(error) time.Duration {
		return retryAfter
	}

	return errors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		retryAfter = 0

		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, e.classify(ctx, err, &retryAfter)
		}

		if len(resp.Data) != len(texts) {
			return nil, errors.Newf(errors.ErrCodeAPI,
				"embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
		}

		vectors := make([][]float32, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || int(item.Index) >= len(texts) {
				return nil, errors.Newf(errors.ErrCodeAPI, "embedding index %d out of range", item.Index)
			}
			vec := make([]float32, len(item.Embedding))
			for j, v := range item.Embedding {
				vec[j] = float32(v)
			}
			if len(vec) != e.dimension {
				return nil, errors.Newf(errors.ErrCodeAPI,
					"embedding has dimension %d, expected %d", len(vec), e.dimension)
			}
			vectors[item.Index] = vec
		}
		return vectors, nil
	})
}

// classify maps SDK errors onto pipeline error codes.
func (e *OpenAIEmbedder) classify(ctx context.Context, err error, retryAfter *time.Duration) error {
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			if apiErr.Response != nil {
				if secs, convErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); convErr == nil && secs > 0 {
					*retryAfter = time.Duration(secs) * time.Second
				}
			}
			return errors.New(errors.ErrCodeRateLimit, "embedding service rate limited", err)
		case apiErr.StatusCode >= 500:
			return errors.New(errors.ErrCodeAPI, "embedding service unavailable", err).WithRetryable()
		default:
			return errors.New(errors.ErrCodeAPI, "embedding request rejected", err)
		}
	}
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCodeTimeout, err)
	}
	// Transport-level failure; the next attempt may reach the service.
	return errors.Wrap(errors.ErrCodeAPI, err).WithRetryable()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
