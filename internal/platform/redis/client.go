// Package redis connects the relay to the Redis instance shared by presence
// fan-out and the cross-process signing lane.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chainrelay/internal/platform/config"
)

// Client embeds *redis.Client so callers use the full go-redis API.
type Client struct {
	*redis.Client
}

// New dials and pings Redis. An empty URL means Redis is not configured:
// New returns (nil, nil) and the relay runs single-process.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &Client{Client: c}, nil
}

// Health backs the redis entry of /health.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
