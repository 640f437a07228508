// Package cache wraps the Redis client every manager package (StreamBus,
// SessionRegistry, PresenceStore, ChannelManager, SpectatorGroup,
// MatchManager) shares, mirroring the connection pool original_source's
// common/redis_pool.rs builds, realized with github.com/redis/go-redis/v9's
// own built-in pool instead of a hand-rolled deadpool equivalent.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akatsuki/bancho/internal/config"
)

// Client is the shared Redis handle. Every package owns its own key
// namespace function so two packages never collide on a prefix, the way
// original_source/src/repositories/*.rs does.
type Client struct {
	*redis.Client
}

// New builds a pooled Redis client from config, matching the pool/timeout
// knobs spec.md §6 names.
func New(cfg *config.Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}

	opts.PoolSize = cfg.RedisMaxConnections
	opts.DialTimeout = time.Duration(cfg.RedisConnectionTimeoutSecs) * time.Second
	opts.ReadTimeout = time.Duration(cfg.RedisResponseTimeoutSecs) * time.Second
	opts.WriteTimeout = time.Duration(cfg.RedisResponseTimeoutSecs) * time.Second
	opts.PoolTimeout = time.Duration(cfg.RedisWaitTimeoutSecs) * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Client{Client: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}

// KeyPrefix is the namespace every cache key in this module lives under,
// matching original_source's "akatsuki:bancho:" prefix exactly so the
// on-disk layout stays recognizable to the system it was distilled from.
const KeyPrefix = "akatsuki:bancho:"

// Nil is redis.Nil re-exported so callers outside this package don't need
// their own import of github.com/redis/go-redis/v9 just to check for a
// missing key.
var Nil = redis.Nil
