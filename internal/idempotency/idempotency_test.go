package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockedStore(pendingTTL, ttl time.Duration) (*MemoryStore, *time.Time) {
	s := NewMemoryStore(pendingTTL, ttl)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Hour)
	ctx := context.Background()

	claim, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Empty(t, claim.OrderID)
	require.NotEmpty(t, claim.Token)

	_, err = s.Begin(ctx, "k1", "fp")
	require.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, s.Complete(ctx, "k1", claim.Token, "order-1"))

	replay, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, "order-1", replay.OrderID)

	// Release never drops a completed key.
	require.NoError(t, s.Release(ctx, "k1", claim.Token))
	replay, err = s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, "order-1", replay.OrderID)
}

func TestMemoryStore_ReleaseAllowsRetry(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Hour)
	ctx := context.Background()

	claim, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k1", claim.Token))

	retry, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Empty(t, retry.OrderID)
	assert.NotEqual(t, claim.Token, retry.Token)
}

func TestMemoryStore_KeyReused(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Hour)
	ctx := context.Background()

	claim, err := s.Begin(ctx, "k1", "fp-a")
	require.NoError(t, err)

	_, err = s.Begin(ctx, "k1", "fp-b")
	require.ErrorIs(t, err, ErrKeyReused)

	require.NoError(t, s.Complete(ctx, "k1", claim.Token, "order-1"))
	_, err = s.Begin(ctx, "k1", "fp-b")
	require.ErrorIs(t, err, ErrKeyReused)
}

func TestMemoryStore_PendingExpiresBeforeCompleted(t *testing.T) {
	s, now := newClockedStore(10*time.Second, time.Hour)
	ctx := context.Background()

	_, err := s.Begin(ctx, "stuck", "fp")
	require.NoError(t, err)

	*now = now.Add(11 * time.Second)

	claim, err := s.Begin(ctx, "stuck", "fp")
	require.NoError(t, err, "an abandoned claim must not block the key")
	assert.Empty(t, claim.OrderID)

	require.NoError(t, s.Complete(ctx, "stuck", claim.Token, "order-1"))
	*now = now.Add(30 * time.Minute)

	replay, err := s.Begin(ctx, "stuck", "fp")
	require.NoError(t, err)
	assert.Equal(t, "order-1", replay.OrderID)

	*now = now.Add(time.Hour)
	fresh, err := s.Begin(ctx, "stuck", "fp")
	require.NoError(t, err)
	assert.Empty(t, fresh.OrderID)
}

func TestMemoryStore_StaleClaimCannotTouchNewOwner(t *testing.T) {
	s, now := newClockedStore(10*time.Second, time.Hour)
	ctx := context.Background()

	stale, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)

	*now = now.Add(11 * time.Second)
	owner, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, "k1", stale.Token))
	_, err = s.Begin(ctx, "k1", "fp")
	require.ErrorIs(t, err, ErrInFlight, "release with a stale token must keep the new claim")

	require.ErrorIs(t, s.Complete(ctx, "k1", stale.Token, "order-stale"), ErrClaimLost)
	require.NoError(t, s.Complete(ctx, "k1", owner.Token, "order-1"))

	replay, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, "order-1", replay.OrderID)
}
