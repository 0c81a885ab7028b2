package llm

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/regscope/regscope/internal/config"
	"github.com/regscope/regscope/internal/errors"
)

// AnthropicGenerator implements Generator against the Anthropic
// Messages API. Temperature is pinned to zero: answers must be
// reproducible for the same retrieved context.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	backoff   errors.RetryConfig
}

// Compile-time interface check.
var _ Generator = (*AnthropicGenerator)(nil)

// NewAnthropicGenerator creates a generator from configuration.
func NewAnthropicGenerator(cfg config.LLMConfig, opts ...option.RequestOption) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigError("ANTHROPIC_API_KEY is required for answer generation", nil)
	}

	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &AnthropicGenerator{
		client:    anthropic.NewClient(clientOpts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		backoff:   errors.BackoffSchedule(),
	}, nil
}

// Generate runs one completion with backoff retries on transient
// failures. A refusal surfaces as ERR_403_CONTENT_FILTER so the caller
// can produce a structured low-confidence answer instead of crashing.
func (g *AnthropicGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	cfg := g.backoff
	var retryAfter time.Duration
	cfg.ShouldRetry = errors.IsRetryable
	cfg.DelayOverride = func(error) time.Duration {
		return retryAfter
	}

	return errors.RetryWithResult(ctx, cfg, func() (string, error) {
		retryAfter = 0

		msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(g.model),
			MaxTokens:   g.maxTokens,
			Temperature: anthropic.Float(0),
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err != nil {
			return "", classify(ctx, err, &retryAfter)
		}

		if msg.StopReason == "refusal" {
			return "", errors.New(errors.ErrCodeContentFilter, "model refused to answer", nil)
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		text := sb.String()
		if text == "" {
			return "", errors.New(errors.ErrCodeAPI, "empty completion", nil)
		}
		return text, nil
	})
}

func classify(ctx context.Context, err error, retryAfter *time.Duration) error {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			if apiErr.Response != nil {
				if secs, convErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); convErr == nil && secs > 0 {
					*retryAfter = time.Duration(secs) * time.Second
				}
			}
			return errors.New(errors.ErrCodeRateLimit, "llm rate limited", err)
		case apiErr.StatusCode >= 500:
			return errors.New(errors.ErrCodeAPI, "llm unavailable", err).WithRetryable()
		default:
			return errors.New(errors.ErrCodeAPI, "llm request rejected", err)
		}
	}
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCodeTimeout, err)
	}
	// Transport-level failure; the next attempt may reach the service.
	return errors.Wrap(errors.ErrCodeAPI, err).WithRetryable()
}
