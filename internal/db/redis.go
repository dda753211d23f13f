package db

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisAddr is where a local Redis listens by default.
const DefaultRedisAddr = "localhost:6379"

// NewRedisClient creates a Redis client for addr and pings it to make sure
// the server is reachable.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Ping the server to ensure the connection is established.
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}

	return client, nil
}
