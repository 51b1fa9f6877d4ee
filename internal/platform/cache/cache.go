// Package cache provides the Dragonfly/Redis client used for the snapshot
// read-through cache.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const clientName = "pai-learn"

// Cache wraps a Redis/Dragonfly client.
type Cache struct {
	Client *redis.Client
}

// Option adjusts client options before connecting.
type Option func(*redis.Options)

// WithTimeouts overrides the dial and read/write timeouts.
func WithTimeouts(dial, io time.Duration) Option {
	return func(o *redis.Options) {
		o.DialTimeout = dial
		o.ReadTimeout = io
		o.WriteTimeout = io
	}
}

// WithMaxRetries sets the number of command retries. -1 disables retries.
func WithMaxRetries(n int) Option {
	return func(o *redis.Options) {
		o.MaxRetries = n
	}
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New creates a new cache client and verifies the connection.
func New(ctx context.Context, url string, options ...Option) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.ClientName = clientName
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	for _, o := range options {
		o(opts)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Cache{Client: client}, nil
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
