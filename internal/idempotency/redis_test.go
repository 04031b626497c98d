//go:build integration

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newRedisStore(t *testing.T, pendingTTL time.Duration) *RedisStore {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "orders:test", pendingTTL, time.Minute)
	require.NoError(t, s.Ping(ctx))
	return s
}

func TestRedisStore_Lifecycle(t *testing.T) {
	s := newRedisStore(t, 10*time.Second)
	ctx := context.Background()

	claim, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Empty(t, claim.OrderID)

	_, err = s.Begin(ctx, "k1", "fp")
	require.ErrorIs(t, err, ErrInFlight)
	_, err = s.Begin(ctx, "k1", "other")
	require.ErrorIs(t, err, ErrKeyReused)

	require.NoError(t, s.Complete(ctx, "k1", claim.Token, "order-1"))
	replay, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, "order-1", replay.OrderID)

	ttl, err := s.client.PTTL(ctx, s.key("k1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 10*time.Second, "completed keys use the long TTL")

	second, err := s.Begin(ctx, "k2", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k2", second.Token))
	retry, err := s.Begin(ctx, "k2", "fp")
	require.NoError(t, err)
	assert.Empty(t, retry.OrderID)
}

func TestRedisStore_StaleClaim(t *testing.T) {
	s := newRedisStore(t, 200*time.Millisecond)
	ctx := context.Background()

	stale, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)

	owner, err := s.Begin(ctx, "k1", "fp")
	require.NoError(t, err, "pending claims expire on their own TTL")

	require.NoError(t, s.Release(ctx, "k1", stale.Token))
	_, err = s.Begin(ctx, "k1", "fp")
	require.ErrorIs(t, err, ErrInFlight)

	require.ErrorIs(t, s.Complete(ctx, "k1", stale.Token, "order-stale"), ErrClaimLost)
	require.NoError(t, s.Complete(ctx, "k1", owner.Token, "order-1"))
}
