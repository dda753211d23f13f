package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(connStr)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisPublisherRoundTrip(t *testing.T) {
	rdb := newRedisClient(t)
	pub := NewRedisPublisher(rdb, "")
	assert.Equal(t, DefaultChannel, pub.Channel())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received, err := pub.Subscribe(ctx)
	require.NoError(t, err)

	e, err := New(TypeConfigurationSet, ConfigurationSetPayload{PlayerID: "p1", Configuration: "1001"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, e))

	select {
	case got := <-received:
		assert.Equal(t, TypeConfigurationSet, got.Type)
		payload, err := Decode[ConfigurationSetPayload](got)
		require.NoError(t, err)
		assert.Equal(t, "1001", payload.Configuration)
	case <-ctx.Done():
		t.Fatal("timed out waiting for published event")
	}
}
