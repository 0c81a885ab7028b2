package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(4), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(4), func() error {
		calls++
		return fmt.Errorf("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
}

func TestRetry_NonRetryableStopsEarly(t *testing.T) {
	cfg := fastRetryConfig(4)
	cfg.ShouldRetry = IsRetryable

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(ErrCodeValidation, "bad input", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeValidation, GetCode(err))
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, Multiplier: 2.0}
	errCh := make(chan error, 1)
	go func() {
		errCh <- Retry(ctx, cfg, func() error {
			calls++
			return fmt.Errorf("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult_DelayOverride(t *testing.T) {
	cfg := fastRetryConfig(2)
	overridden := false
	cfg.DelayOverride = func(err error) time.Duration {
		overridden = true
		return time.Millisecond
	}

	calls := 0
	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, fmt.Errorf("429")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, overridden)
}
