// Package redis backs the harness's signal bus and action lock with
// go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key and channel, e.g. "bundlerlab".
	KeyPrefix string
}

// Client wraps a go-redis client together with the key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects, pings and returns the wrapper.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewFromClient(rdb, cfg.KeyPrefix), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":")}
}

// Key returns name inside the client's namespace.
func (c *Client) Key(parts ...string) string {
	name := strings.Join(parts, ":")
	if c.prefix == "" {
		return name
	}
	return c.prefix + ":" + name
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
