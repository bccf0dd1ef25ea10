package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/common/cnst"
)

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// StatsRecorder receives hit/miss observations. May be nil.
type StatsRecorder interface {
	CacheHit()
	CacheMiss()
}

// Coordinator is a read-through cache over the shared counter store.
//
// The store is an accelerator, never a dependency: every operation that
// touches redis degrades to computing (or doing nothing) when redis errors,
// and the error stays inside this package.
type Coordinator struct {
	logger  *zap.Logger
	client  redis.Cmdable
	stats   StatsRecorder
	enabled bool
}

// NewCoordinator creates a cache coordinator. A nil stats recorder disables
// hit/miss accounting. Passing enabled=false turns every read into a
// straight compute, which keeps call sites unconditional.
func NewCoordinator(logger *zap.Logger, client redis.Cmdable, stats StatsRecorder, enabled bool) *Coordinator {
	return &Coordinator{
		logger:  logger.Named("cache"),
		client:  client,
		stats:   stats,
		enabled: enabled && client != nil,
	}
}

// GetOrCompute returns the cached bytes for key, computing and storing them
// on a miss. A present key is a hit even when the payload is empty: an
// empty list serializes to bytes too. Store errors degrade to a direct
// compute and are never returned to the caller.
func (c *Coordinator) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	if !c.enabled {
		return compute(ctx)
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		c.logger.Debug("cache hit", zap.String("key", key))
		if c.stats != nil {
			c.stats.CacheHit()
		}
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache read failed, bypassing",
			zap.String("key", key),
			zap.Error(err))
		return compute(ctx)
	}

	c.logger.Debug("cache miss", zap.String("key", key))
	if c.stats != nil {
		c.stats.CacheMiss()
	}

	result, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, result, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
	return result, nil
}

// Invalidate removes a single key. Removing an absent key is a no-op.
func (c *Coordinator) Invalidate(ctx context.Context, key string) {
	if !c.enabled {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache invalidation failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// InvalidatePattern deletes every stored key containing substr. This walks
// the whole keyspace and runs only on mutation events, never on the read
// path.
func (c *Coordinator) InvalidatePattern(ctx context.Context, substr string) {
	if !c.enabled {
		return
	}

	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "*", 100).Result()
		if err != nil {
			c.logger.Warn("cache pattern scan failed",
				zap.String("pattern", substr),
				zap.Error(err))
			return
		}
		for _, key := range keys {
			if !strings.Contains(key, substr) {
				continue
			}
			if err := c.client.Del(ctx, key).Err(); err != nil {
				c.logger.Warn("cache invalidation failed",
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			deleted++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if deleted > 0 {
		c.logger.Debug("cache pattern invalidated",
			zap.String("pattern", substr),
			zap.Int("deleted", deleted))
	}
}

// InvalidateConversation removes every cached view of a conversation: the
// detail entry, message and file list entries, and the owner's conversation
// list. Safe to call when nothing is cached.
func (c *Coordinator) InvalidateConversation(ctx context.Context, conversationID, ownerID string) {
	c.Invalidate(ctx, cnst.ConversationKey(conversationID))
	c.InvalidatePattern(ctx, cnst.MessageListKey(conversationID))
	c.InvalidatePattern(ctx, cnst.FileListKey(conversationID))
	if ownerID != "" {
		c.Invalidate(ctx, cnst.ConversationListKey(ownerID))
	}
}

// GetOrComputeJSON is a typed wrapper over Coordinator.GetOrCompute that
// stores values as JSON.
func GetOrComputeJSON[T any](ctx context.Context, c *Coordinator, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, err
	}
	return out, nil
}
