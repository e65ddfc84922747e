// Package redisconn opens the shared Redis client.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellara-labs/stellara/internal/config"
)

var ErrDisabled = errors.New("redis is disabled")

// Open parses REDIS_URL and pings the server. It returns ErrDisabled when REDIS_DISABLED is set.
func Open(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	if cfg.Disabled {
		return nil, ErrDisabled
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := Ping(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "Connected to redis", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// Ping is the health check used at start and by /health.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
