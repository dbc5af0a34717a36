package rcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"capacity-checker/config"
	"capacity-checker/internal/observability"
)

// ErrMiss is returned when a key is absent or the cache is disabled.
var ErrMiss = errors.New("cache miss")

const scanCount = 200

// Cache is a thin JSON layer over Redis. A Cache with a nil client is
// disabled: reads miss and writes are dropped.
type Cache struct {
	client  *redis.Client
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewClient builds a Redis client, or returns nil when no address is configured.
func NewClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// New wraps client. client may be nil.
func New(client *redis.Client, metrics *observability.Metrics, logger *zap.Logger) *Cache {
	return &Cache{client: client, metrics: metrics, logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Ping checks the Redis connection. A disabled cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// GetString returns the raw value stored at key.
func (c *Cache) GetString(ctx context.Context, key string) (string, error) {
	if !c.Enabled() {
		return "", ErrMiss
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.record(key, "miss")
			return "", ErrMiss
		}
		c.record(key, "error")
		return "", err
	}
	c.record(key, "hit")
	return val, nil
}

// SetString stores value at key. A zero ttl keeps the key forever.
func (c *Cache) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// GetJSON decodes the value at key into dst.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) error {
	raw, err := c.GetString(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return ErrMiss
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value for %s: %w", key, err)
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Keys lists the keys matching pattern using SCAN.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	if !c.Enabled() {
		return nil, nil
	}
	var keys []string
	var cursor uint64
	for {
		k, next, err := c.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// DeletePattern removes every key matching pattern and returns how many were removed.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// TTL returns the remaining lifetime of key, or a negative duration when it has none.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	if !c.Enabled() {
		return -1, nil
	}
	return c.client.TTL(ctx, key).Result()
}

func (c *Cache) record(key, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.CacheLookups.WithLabelValues(cacheName(key), result).Inc()
}

// cacheName is the key prefix used as the metrics label.
func cacheName(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
