// Package limiter counts requests per key in a sliding window shared through Redis.
package limiter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a key may make one more request
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
	if redis.call('ZCARD', key) >= limit then
		return 0
	end
	redis.call('ZADD', key, now, ARGV[5])
	redis.call('PEXPIRE', key, window_ms)
	return 1
`)

// SlidingWindow allows at most limit requests per key in any window
type SlidingWindow struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSlidingWindow creates a limiter whose keys live under prefix
func NewSlidingWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Window is the span requests are counted over
func (l *SlidingWindow) Window() time.Duration { return l.window }

// Limit is the number of requests allowed per window
func (l *SlidingWindow) Limit() int { return l.limit }

// Allow records the request and reports whether it fits in the window
func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		now,
		now-l.window.Milliseconds(),
		l.limit,
		l.window.Milliseconds(),
		uuid.NewString(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
