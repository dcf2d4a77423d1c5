package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sfm/internal/config"
)

// NewClient builds a Redis client from the configured URL without connecting.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Publish sends body on the channel named by routingKey and returns the
// number of subscribers that received it.
func Publish(ctx context.Context, client *redis.Client, routingKey string, body []byte) (int64, error) {
	receivers, err := client.Publish(ctx, routingKey, body).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return receivers, nil
}
