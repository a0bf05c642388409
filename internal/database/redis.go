package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oakmere/clientdesk/internal/config"
)

// NewRedis connects the client described by the configured URL and
// verifies it answers before returning. Sessions and the login miss
// counter both live here, so a dead Redis means the app cannot serve.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
