package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/common/config"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLimiter(zap.NewNop(), client), mr
}

func TestLimiter_WindowExhaustionAndReset(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	const limit = 5
	window := time.Minute

	for i := 0; i < limit; i++ {
		d := l.Allow(ctx, "user-1", limit, window)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, limit-i-1, d.Remaining)
	}

	// limit+1-th request in the same window is rejected
	d := l.Allow(ctx, "user-1", limit, window)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// rejected requests must not consume quota
	count, err := l.Current(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, limit, count)

	// after window expiry admission resets
	mr.FastForward(window + time.Second)
	d = l.Allow(ctx, "user-1", limit, window)
	assert.True(t, d.Allowed)
	assert.Equal(t, limit-1, d.Remaining)
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "a", 1, time.Minute).Allowed)
	assert.False(t, l.Allow(ctx, "a", 1, time.Minute).Allowed)
	assert.True(t, l.Allow(ctx, "b", 1, time.Minute).Allowed)
}

func TestLimiter_FailOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close() // store unreachable from here on

	l := NewLimiter(zap.NewNop(), client)
	d := l.Allow(context.Background(), "user-1", 3, time.Minute)
	assert.True(t, d.Allowed, "store failure must admit the request")
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	l.Allow(ctx, "user-1", 2, time.Minute)
	l.Allow(ctx, "user-1", 2, time.Minute)
	assert.False(t, l.Allow(ctx, "user-1", 2, time.Minute).Allowed)

	require.NoError(t, l.Reset(ctx, "user-1"))
	assert.True(t, l.Allow(ctx, "user-1", 2, time.Minute).Allowed)
}

func TestLimiter_CurrentMissingWindow(t *testing.T) {
	l, _ := newTestLimiter(t)
	count, err := l.Current(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMiddleware_HeadersAnd429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t)

	r := gin.New()
	rule := config.RateLimitRule{Limit: 1, Window: time.Minute}
	r.GET("/ping", l.Middleware(rule), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-User-ID", "alice")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Window"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
	assert.Contains(t, w.Body.String(), "retry_after")
}
