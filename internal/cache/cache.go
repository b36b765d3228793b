// Package cache is a JSON read-through cache over Redis. Reads never fail:
// a backend error is reported as a miss so callers fall through to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fulfillment/pkg/log"
)

const scanCount = 100

// Recorder receives hit and miss events, keyed by the key namespace
type Recorder interface {
	CacheHit(namespace string)
	CacheMiss(namespace string)
}

// Cache wraps a redis client with JSON encoding
type Cache struct {
	client   redis.UniversalClient
	recorder Recorder
}

// Option configures a Cache
type Option func(*Cache)

// WithRecorder counts hits and misses
func WithRecorder(r Recorder) Option {
	return func(c *Cache) {
		c.recorder = r
	}
}

// New creates a cache on top of client
func New(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{client: client}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get decodes the value at key into dest and reports whether it was found
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithFields(log.Fields{"key": key, "error": err}).Warn("cache read failed, treating as miss")
		}
		c.miss(key)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Warn("cache entry undecodable, treating as miss")
		c.miss(key)
		return false
	}

	c.hit(key)
	return true
}

// Set stores value under key for ttl. Failures are logged only.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Error("cache value not encodable")
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Warn("cache write failed")
	}
}

// Invalidate deletes exact keys and every key matching a glob pattern (contains '*')
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	var exact []string
	for _, key := range keys {
		if strings.Contains(key, "*") {
			if err := c.deletePattern(ctx, key); err != nil {
				return err
			}
			continue
		}
		exact = append(exact, key)
	}

	if len(exact) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, exact...).Err(); err != nil {
		return fmt.Errorf("delete cache keys %v: %w", exact, err)
	}
	return nil
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return fmt.Errorf("scan cache pattern %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete cache pattern %s: %w", pattern, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *Cache) hit(key string) {
	if c.recorder != nil {
		c.recorder.CacheHit(namespace(key))
	}
}

func (c *Cache) miss(key string) {
	if c.recorder != nil {
		c.recorder.CacheMiss(namespace(key))
	}
}

func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
