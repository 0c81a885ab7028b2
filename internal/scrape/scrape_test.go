package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regscope/regscope/internal/errors"
)

func newTestClient() *Client {
	c := NewClient(0)
	c.backoff.InitialDelay = 0
	c.backoff.MaxDelay = 0
	return c
}

func TestFetch_ReturnsBody(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("<html>section text</html>"))
	}))
	defer srv.Close()

	body, err := newTestClient().Fetch(context.Background(), srv.URL+"/section")
	require.NoError(t, err)
	assert.Equal(t, "<html>section text</html>", string(body))
	assert.Contains(t, gotUA, "regscope")
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 1, attempts)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 3, attempts)
}

func TestFetch_RetriesNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient()
	c.backoff.MaxAttempts = 3

	_, err := c.Fetch(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.True(t, errors.HasCode(err, errors.ErrCodeScraping))
}

func TestFetch_ServerErrorExhaustionKeepsScrapingCode(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.True(t, errors.HasCode(err, errors.ErrCodeScraping))
	assert.False(t, errors.HasCode(err, errors.ErrCodeTimeout))
}

func TestFetch_RateLimitExhaustion(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRateLimit))
	assert.Equal(t, 4, attempts)
}

func TestFetch_ForbiddenIsScrapingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeScraping))
}

func TestFetch_PerHostDelaySpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	_, err := c.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := newTestClient().Fetch(context.Background(), "://bad")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeScraping))
}
