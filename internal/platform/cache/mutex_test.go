package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestMutexExclusive(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := NewMutex(client, "billing:generate:1:2026-02", time.Minute)
	require.NoError(t, first.TryLock(ctx))

	second := NewMutex(client, "billing:generate:1:2026-02", time.Minute)
	require.ErrorIs(t, second.TryLock(ctx), ErrMutexHeld)

	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, second.TryLock(ctx))
}

func TestMutexUnlockOnlyOwner(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := NewMutex(client, "k", time.Minute)
	require.NoError(t, first.TryLock(ctx))

	// A stale mutex instance must not release the current owner's lock.
	stale := NewMutex(client, "k", time.Minute)
	require.NoError(t, stale.Unlock(ctx))

	other := NewMutex(client, "k", time.Minute)
	require.ErrorIs(t, other.TryLock(ctx), ErrMutexHeld)
}

func TestMutexDifferentKeysIndependent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a := NewMutex(client, "billing:generate:1:2026-02", time.Minute)
	b := NewMutex(client, "billing:generate:2:2026-02", time.Minute)
	require.NoError(t, a.TryLock(ctx))
	require.NoError(t, b.TryLock(ctx))
}
