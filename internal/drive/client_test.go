package drive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// staticToken is a test TokenSource that returns a fixed token.
type staticToken string

func (t staticToken) Token() (string, error) {
	return string(t), nil
}

// failingToken is a test TokenSource that always returns an error.
type failingToken struct{}

func (failingToken) Token() (string, error) {
	return "", errors.New("token error")
}

// newTestClient creates a Client pointing at the given httptest server URL
// for both endpoints, with instant retry sleeps.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(http.DefaultClient, staticToken("test-token"), slog.Default(), Options{
		BaseURL:       url,
		UploadBaseURL: url,
		UserAgent:     "topdf-test",
	})
	c.sleepFunc = noopSleep

	return c
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "topdf-test", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	resp, err := c.Do(context.Background(), http.MethodGet, "/about", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoSetsJSONContentTypeForBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	resp, err := c.Do(context.Background(), http.MethodPost, "/files", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	resp, err := c.Do(context.Background(), http.MethodGet, "/files/abc", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestDoClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		reason   string
	}{
		{
			name:     "400 bad request with drive envelope",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":400,"message":"Invalid mime type","errors":[{"reason":"badRequest"}]}}`,
			sentinel: ErrBadRequest,
			reason:   "badRequest",
		},
		{
			name:     "401 unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"code":401,"message":"Invalid Credentials","errors":[{"reason":"authError"}]}}`,
			sentinel: ErrUnauthorized,
			reason:   "authError",
		},
		{
			name:     "403 forbidden",
			status:   http.StatusForbidden,
			body:     `{"error":{"code":403,"message":"quota exceeded"}}`,
			sentinel: ErrForbidden,
		},
		{
			name:     "404 not found with plain body",
			status:   http.StatusNotFound,
			body:     "gone",
			sentinel: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)

			_, err := c.Do(context.Background(), http.MethodGet, "/files/x", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)

			if tt.reason != "" {
				assert.Equal(t, tt.reason, apiErr.Reason)
			}
		})
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Do(context.Background(), http.MethodGet, "/files/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	var slept []time.Duration

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp, err := c.Do(context.Background(), http.MethodGet, "/files/x", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
}

func TestDoDoesNotRetryUnseekableBody(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	// io.MultiReader is not an io.Seeker, so the attempt must not be retried.
	_, err := c.Do(context.Background(), http.MethodPost, "/files", io.MultiReader(strings.NewReader("x")))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Do(ctx, http.MethodGet, "/files/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.token = failingToken{}

	_, err := c.Do(context.Background(), http.MethodGet, "/about", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obtaining token")
}

func TestCalcBackoffIsCappedAndJittered(t *testing.T) {
	c := newTestClient(t, "http://unused")

	for attempt := range 12 {
		d := c.calcBackoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		// Cap plus the 25% jitter margin.
		assert.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus(400), ErrBadRequest)
	assert.ErrorIs(t, classifyStatus(429), ErrRateLimited)
	assert.ErrorIs(t, classifyStatus(502), ErrServerError)
	assert.NoError(t, classifyStatus(200))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(408))
	assert.True(t, isRetryable(429))
	assert.True(t, isRetryable(503))
	assert.False(t, isRetryable(400))
	assert.False(t, isRetryable(404))
}
