package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/common/cnst"
)

// ErrSessionNotFound is returned when a session id has no registry entry.
var ErrSessionNotFound = errors.New("stream session not found")

// indexKey is the set holding every registered session id.
const indexKey = cnst.PrefixStream + "ids"

// Session records one in-flight (or recently finished) streaming relay.
type Session struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Registry tracks active streaming sessions in redis with TTL-based expiry
// as a safety net and an explicit periodic sweep as the guaranteed cleanup
// path. Redis eviction timing is not exact, so expiry is always re-checked
// against ExpiresAt on read.
type Registry struct {
	logger *zap.Logger
	client redis.Cmdable
	ttl    time.Duration

	sweepInterval time.Duration
	stopCh        chan struct{}
	startOnce     sync.Once
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// NewRegistry creates a stream registry. ttl bounds session lifetime between
// touches; sweepInterval is the period of the background sweep.
func NewRegistry(logger *zap.Logger, client redis.Cmdable, ttl, sweepInterval time.Duration) *Registry {
	return &Registry{
		logger:        logger.Named("stream.registry"),
		client:        client,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Register creates a session for owner streaming into conversationID.
func (r *Registry) Register(ctx context.Context, owner, conversationID string) (*Session, error) {
	now := r.now()
	sess := &Session{
		ID:             uuid.New().String(),
		Owner:          owner,
		ConversationID: conversationID,
		CreatedAt:      now,
		LastActiveAt:   now,
		ExpiresAt:      now.Add(r.ttl),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, cnst.StreamKey(sess.ID), data, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	// Index entries carry the same TTL so an abandoned index cannot outlive
	// its sessions forever.
	if err := r.client.SAdd(ctx, indexKey, sess.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}
	if err := r.client.Expire(ctx, indexKey, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to set session index TTL", zap.Error(err))
	}

	ownerKey := cnst.UserStreamsKey(owner)
	if err := r.client.SAdd(ctx, ownerKey, sess.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index session for owner: %w", err)
	}
	if err := r.client.Expire(ctx, ownerKey, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to set owner index TTL",
			zap.String("owner", owner),
			zap.Error(err))
	}

	r.logger.Debug("stream session registered",
		zap.String("id", sess.ID),
		zap.String("owner", owner),
		zap.String("conversation", conversationID))
	return sess, nil
}

// Get returns the session for id, or ErrSessionNotFound. Sessions past
// their expiry are reported as not found even when redis has not evicted
// them yet.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, cnst.StreamKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.Expired(r.now()) {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

// Touch refreshes the session's activity timestamps and TTL.
func (r *Registry) Touch(ctx context.Context, id string) error {
	sess, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	now := r.now()
	sess.LastActiveAt = now
	sess.ExpiresAt = now.Add(r.ttl)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, cnst.StreamKey(id), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if err := r.client.Expire(ctx, indexKey, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to renew session index TTL", zap.Error(err))
	}
	if err := r.client.Expire(ctx, cnst.UserStreamsKey(sess.Owner), r.ttl).Err(); err != nil {
		r.logger.Warn("failed to renew owner index TTL", zap.Error(err))
	}
	return nil
}

// Deregister removes the session entry and its index references.
// Deregistering an unknown session is a no-op.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	data, err := r.client.Get(ctx, cnst.StreamKey(id)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get session: %w", err)
	}

	var owner string
	if err == nil {
		var sess Session
		if jsonErr := json.Unmarshal(data, &sess); jsonErr == nil {
			owner = sess.Owner
		}
	}

	if err := r.client.Del(ctx, cnst.StreamKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := r.client.SRem(ctx, indexKey, id).Err(); err != nil {
		return fmt.Errorf("failed to remove session from index: %w", err)
	}
	if owner != "" {
		if err := r.client.SRem(ctx, cnst.UserStreamsKey(owner), id).Err(); err != nil {
			return fmt.Errorf("failed to remove session from owner index: %w", err)
		}
	}

	r.logger.Debug("stream session deregistered", zap.String("id", id))
	return nil
}

// ListActive returns all non-expired sessions.
func (r *Registry) ListActive(ctx context.Context) ([]*Session, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}
	return r.collect(ctx, ids)
}

// ListByOwner returns all non-expired sessions registered by owner.
func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]*Session, error) {
	ids, err := r.client.SMembers(ctx, cnst.UserStreamsKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list owner session ids: %w", err)
	}
	return r.collect(ctx, ids)
}

// Count returns the number of active sessions.
func (r *Registry) Count(ctx context.Context) (int, error) {
	sessions, err := r.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (r *Registry) collect(ctx context.Context, ids []string) ([]*Session, error) {
	now := r.now()
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, cnst.StreamKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Entry evicted but id still indexed; drop the reference.
				_ = r.client.SRem(ctx, indexKey, id).Err()
				continue
			}
			r.logger.Error("failed to get session",
				zap.String("id", id),
				zap.Error(err))
			continue
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			r.logger.Error("failed to unmarshal session",
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		if sess.Expired(now) {
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

// StartSweeper launches the singleton background sweep task. It must be
// called once at process startup; subsequent calls are ignored.
func (r *Registry) StartSweeper() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.sweepLoop()
	})
}

// Stop terminates the sweep task and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	r.logger.Info("stream sweeper started",
		zap.Duration("interval", r.sweepInterval),
		zap.Duration("session_ttl", r.ttl))

	for {
		select {
		case <-ticker.C:
			r.Sweep(context.Background())
		case <-r.stopCh:
			r.logger.Info("stream sweeper stopped")
			return
		}
	}
}

// Sweep deregisters every session past its expiry. Exposed so tests and
// operators can trigger a pass without waiting for the ticker.
func (r *Registry) Sweep(ctx context.Context) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		r.logger.Warn("sweep failed to list sessions", zap.Error(err))
		return
	}

	now := r.now()
	swept := 0
	for _, id := range ids {
		data, err := r.client.Get(ctx, cnst.StreamKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = r.client.SRem(ctx, indexKey, id).Err()
			}
			continue
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if !sess.Expired(now) {
			continue
		}
		if err := r.Deregister(ctx, id); err != nil {
			r.logger.Warn("sweep failed to deregister session",
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		r.logger.Info("swept expired stream sessions", zap.Int("count", swept))
	}
}
