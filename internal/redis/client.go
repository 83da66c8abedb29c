// Package redis provides the shared Redis client used by the quota tracker
// and the session lock.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadscout/leadscout/internal/config"
)

const connectionTimeout = 2 * time.Second

// NewClient creates a new Redis client and verifies the connection.
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		return nil, fmt.Errorf("connect to redis: %w", pingErr)
	}

	return client, nil
}

// CheckConnection tests whether Redis is reachable.
func CheckConnection(client *redis.Client) error {
	if client == nil {
		return errors.New("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	return client.Ping(ctx).Err()
}
