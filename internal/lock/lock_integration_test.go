//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestLeaseIsExclusiveOnRedis(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	first := NewLocker(client, "test:")
	second := NewLocker(client, "test:")

	token, ok, err := first.TryLock(ctx, "outbox_relay", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx, "outbox_relay", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	err = second.WithLock(ctx, "outbox_relay", time.Minute, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, second.Release(ctx, "outbox_relay", "not-the-owner"))
	_, ok, err = second.TryLock(ctx, "outbox_relay", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release(ctx, "outbox_relay", token))
	_, ok, err = second.TryLock(ctx, "outbox_relay", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
