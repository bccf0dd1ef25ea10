package stream

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRegistry(zap.NewNop(), client, ttl, time.Minute), mr
}

func TestRegistry_RegisterGetDeregister(t *testing.T) {
	r, _ := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	sess, err := r.Register(ctx, "alice", "conv-1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "alice", sess.Owner)
	assert.Equal(t, "conv-1", sess.ConversationID)
	assert.Equal(t, sess.LastActiveAt.Add(5*time.Minute), sess.ExpiresAt)

	got, err := r.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.Deregister(ctx, sess.ID))
	_, err = r.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	n, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRegistry_DeregisterUnknownIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	assert.NoError(t, r.Deregister(context.Background(), "no-such-session"))
}

func TestRegistry_ListByOwner(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	s1, err := r.Register(ctx, "alice", "conv-1")
	require.NoError(t, err)
	_, err = r.Register(ctx, "alice", "conv-2")
	require.NoError(t, err)
	_, err = r.Register(ctx, "bob", "conv-3")
	require.NoError(t, err)

	alice, err := r.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	bob, err := r.ListByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bob, 1)

	// Deregister removes the owner index reference too.
	require.NoError(t, r.Deregister(ctx, s1.ID))
	alice, err = r.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 1)
}

func TestRegistry_TouchExtendsExpiry(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	base := time.Now()
	r.now = func() time.Time { return base }

	sess, err := r.Register(ctx, "alice", "conv-1")
	require.NoError(t, err)

	r.now = func() time.Time { return base.Add(30 * time.Second) }
	require.NoError(t, r.Touch(ctx, sess.ID))

	got, err := r.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(30*time.Second).Add(time.Minute), got.ExpiresAt, 0)
}

func TestRegistry_ExpiredSessionHiddenAndSwept(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	base := time.Now()
	r.now = func() time.Time { return base }

	sess, err := r.Register(ctx, "alice", "conv-1")
	require.NoError(t, err)

	// Move past expiry without redis evicting anything.
	r.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err = r.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "expired session must not be observable")

	// The sweep removes the entry and its index references for good.
	r.Sweep(ctx)

	owned, err := r.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestRegistry_SweepRemovesDanglingIndexEntries(t *testing.T) {
	r, mr := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	sess, err := r.Register(ctx, "alice", "conv-1")
	require.NoError(t, err)

	// Simulate redis evicting the session entry while the index survives.
	mr.Del("stream:" + sess.ID)

	r.Sweep(ctx)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRegistry_SweeperLifecycle(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	r := NewRegistry(zap.NewNop(), client, time.Minute, 10*time.Millisecond)
	r.StartSweeper()
	r.StartSweeper() // second call must be a no-op
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop() // idempotent
}
