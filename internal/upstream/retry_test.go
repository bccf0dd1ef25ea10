package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseWait: 10 * time.Millisecond, MaxWait: 40 * time.Millisecond}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseWait: time.Second, MaxWait: 10 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5), "delay is capped")
	assert.Equal(t, 10*time.Second, p.Delay(30), "large shifts stay capped")
}

func TestPolicyFromConfig_Defaults(t *testing.T) {
	p := PolicyFromConfig(0, 0, 0)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseWait)
	assert.Equal(t, 10*time.Second, p.MaxWait)
}

func TestStreamWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"content\",\"content\":\"ok\"}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var retries int
	start := time.Now()
	stream, err := c.StreamWithRetry(context.Background(), &Request{}, fastPolicy(3), func(attempt int, err error) {
		retries++
	})
	require.NoError(t, err)
	defer stream.Close()

	elapsed := time.Since(start)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, retries)
	// Backoff waits 10ms then 20ms before the successful attempt.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", ev.Content)
}

func TestStreamWithRetry_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.StreamWithRetry(context.Background(), &Request{}, fastPolicy(3), nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStreamWithRetry_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	start := time.Now()
	_, err := c.StreamWithRetry(context.Background(), &Request{}, fastPolicy(3), nil)
	require.Error(t, err)

	assert.True(t, IsClientError(err))
	assert.Equal(t, int32(1), calls.Load(), "client errors must fail immediately")
	assert.Less(t, time.Since(start), 10*time.Millisecond, "no backoff wait for client errors")
}

func TestStreamWithRetry_CancellationStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv.URL)

	// Cancel during the first backoff wait.
	_, err := c.StreamWithRetry(ctx, &Request{}, RetryPolicy{
		MaxAttempts: 3,
		BaseWait:    200 * time.Millisecond,
		MaxWait:     time.Second,
	}, func(attempt int, err error) {
		cancel()
	})
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.Equal(t, int32(1), calls.Load(), "no retry may start after cancellation")
}

func TestStreamWithRetry_CancelledBeforeFirstAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, srv.URL)
	_, err := c.StreamWithRetry(ctx, &Request{}, fastPolicy(3), nil)
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.Equal(t, int32(0), calls.Load())
}
