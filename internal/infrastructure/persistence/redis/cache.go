// Package redis implements the Redis side of the gamification store.
//
// Key components:
//   - Cache: JSON values with TTL and pub/sub on one client
//   - ProfileFeed: per-user push channel of authoritative profile changes
//   - CatalogCache: read-through cache in front of the shop catalog
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns settings for a local single-node Redis.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the config into go-redis client options.
func (c Config) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

var (
	// ErrCacheMiss is returned by Get when the key does not exist or expired.
	ErrCacheMiss = errors.New("cache: key not found")

	ErrCacheConnection    = errors.New("cache: connection failed")
	ErrCacheSerialization = errors.New("cache: serialization failed")
	ErrCacheKeyEmpty      = errors.New("cache: key cannot be empty")
)

const (
	PrefixCatalog = "catalog:"
	PrefixPubSub  = "pubsub:"

	// TTLCatalog is the default lifetime of a cached catalog listing.
	TTLCatalog = 5 * time.Minute
)

// CatalogKey returns the cache key of a catalog listing.
func CatalogKey(activeOnly bool) string {
	if activeOnly {
		return PrefixCatalog + "active"
	}
	return PrefixCatalog + "all"
}

// ProfileChannel returns the push channel of one user's profile.
func ProfileChannel(userID string) string {
	return PrefixPubSub + "profile:" + userID
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache is a Redis client shared by the profile feed, the catalog cache and
// the event relay. Values and messages are JSON.
type Cache struct {
	client redis.UniversalClient
}

// NewCache connects and verifies the connection with a ping bounded by the
// dial timeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.Options())

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr(), err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() redis.UniversalClient { return c.client }
func (c *Cache) Close() error                  { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores value under key. A zero ttl keeps the key forever.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the value under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheSerialization, key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Publish sends message to channel.
func (c *Cache) Publish(ctx context.Context, channel string, message any) error {
	data, err := encode(channel, message)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a subscription. The caller closes the returned PubSub.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}

func encode(key string, v any) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheSerialization, key, err)
	}
	return data, nil
}
