package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/helixchat/helix/internal/common/cnst"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Window    time.Duration
}

// Limiter is a fixed-window request counter backed by redis.
//
// The window is fixed, not sliding: the counter key expires windowSeconds
// after the first request of the window, so a caller can burst up to twice
// the limit across a window boundary. This imprecision is accepted in
// exchange for a single counter key and no per-request log.
type Limiter struct {
	logger *zap.Logger
	client redis.Cmdable
	stats  AdmissionRecorder
}

// AdmissionRecorder receives admission decisions. May be nil.
type AdmissionRecorder interface {
	Admitted(allowed bool)
}

// NewLimiter creates a limiter on top of the shared counter store.
func NewLimiter(logger *zap.Logger, client redis.Cmdable) *Limiter {
	return &Limiter{
		logger: logger.Named("ratelimit"),
		client: client,
	}
}

// WithStats attaches an admission recorder and returns the limiter.
func (l *Limiter) WithStats(stats AdmissionRecorder) *Limiter {
	l.stats = stats
	return l
}

// Allow checks and consumes one unit of quota for identity. The counter
// store being unreachable is not a reason to turn users away: on any store
// error the request is admitted and the condition logged (fail-open).
func (l *Limiter) Allow(ctx context.Context, identity string, limit int, window time.Duration) Decision {
	d := l.allow(ctx, identity, limit, window)
	if l.stats != nil {
		l.stats.Admitted(d.Allowed)
	}
	return d
}

func (l *Limiter) allow(ctx context.Context, identity string, limit int, window time.Duration) Decision {
	key := cnst.RateLimitKey(identity)

	val, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// First request in a new window.
			if err := l.client.Set(ctx, key, 1, window).Err(); err != nil {
				return l.failOpen(identity, limit, window, err)
			}
			return Decision{Allowed: true, Limit: limit, Remaining: limit - 1, Window: window}
		}
		return l.failOpen(identity, limit, window, err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return l.failOpen(identity, limit, window, err)
	}

	if count >= limit {
		l.logger.Warn("rate limit exceeded",
			zap.String("identity", identity),
			zap.Int("count", count),
			zap.Int("limit", limit))
		return Decision{Allowed: false, Limit: limit, Remaining: 0, Window: window}
	}

	newCount, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return l.failOpen(identity, limit, window, err)
	}

	remaining := limit - int(newCount)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining, Window: window}
}

// Current returns the number of requests counted in the active window.
// A missing window counts as zero.
func (l *Limiter) Current(ctx context.Context, identity string) (int, error) {
	val, err := l.client.Get(ctx, cnst.RateLimitKey(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.Atoi(val)
}

// Reset clears the active window for identity.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	return l.client.Del(ctx, cnst.RateLimitKey(identity)).Err()
}

func (l *Limiter) failOpen(identity string, limit int, window time.Duration, err error) Decision {
	l.logger.Warn("counter store unavailable, admitting request",
		zap.String("identity", identity),
		zap.Error(err))
	return Decision{Allowed: true, Limit: limit, Remaining: limit, Window: window}
}
