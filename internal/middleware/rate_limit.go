package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"fulfillment/pkg/limiter"
	"fulfillment/pkg/log"
	"fulfillment/pkg/utils"
)

// RateLimitConfig rate limiting middleware configuration
type RateLimitConfig struct {
	// Rate requests per second
	Rate float64
	// Burst maximum burst size
	Burst int
	// KeyFunc selects the bucket a request draws from
	KeyFunc func(c *gin.Context) string
	// SkipFunc exempts requests from limiting
	SkipFunc func(c *gin.Context) bool
	// IdleTTL drops the bucket of a key unseen for this long, 3m by default
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors holds one bucket per key and forgets keys that went quiet
type visitors struct {
	mu        sync.Mutex
	entries   map[string]*visitor
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newVisitors(rps float64, burst int, idle time.Duration) *visitors {
	if idle <= 0 {
		idle = 3 * time.Minute
	}
	return &visitors{
		entries:   make(map[string]*visitor),
		rate:      rate.Limit(rps),
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (v *visitors) get(key string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	// at most one full scan per idle period
	if now.Sub(v.lastSweep) >= v.idle {
		for k, e := range v.entries {
			if now.Sub(e.lastSeen) >= v.idle {
				delete(v.entries, k)
			}
		}
		v.lastSweep = now
	}

	e, ok := v.entries[key]
	if !ok {
		e = &visitor{limiter: rate.NewLimiter(v.rate, v.burst)}
		v.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (v *visitors) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// RateLimit limits each client IP to rps with burst
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Rate:  rps,
		Burst: burst,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}

// RateLimitWithConfig rate limiting middleware with configuration
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	buckets := newVisitors(config.Rate, config.Burst, config.IdleTTL)

	return func(c *gin.Context) {
		if config.SkipFunc != nil && config.SkipFunc(c) {
			c.Next()
			return
		}

		key := config.KeyFunc(c)
		if !buckets.get(key).Allow() {
			log.WithFields(log.Fields{
				"key":    key,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Rate limit exceeded")

			c.Header("X-RateLimit-Limit", strconv.FormatFloat(config.Rate, 'f', 0, 64))
			c.Header("Retry-After", "1")
			utils.Error(c, utils.CodeRateLimit, "Too many requests")
			return
		}

		c.Next()
	}
}

// Throttle limits each authenticated user through a limiter shared by all
// instances. Requests pass when the limiter backend fails.
func Throttle(l *limiter.SlidingWindow) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(l.Window().Seconds()))
	limit := strconv.Itoa(l.Limit())

	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			c.Next()
			return
		}

		key := "user:" + strconv.FormatUint(userID, 10)
		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.WithFields(log.Fields{"key": key, "error": err}).Warn("throttle backend unavailable, allowing request")
			c.Next()
			return
		}
		if !allowed {
			log.WithFields(log.Fields{
				"key":    key,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Throttle limit exceeded")

			c.Header("X-RateLimit-Limit", limit)
			c.Header("Retry-After", retryAfter)
			utils.Error(c, utils.CodeRateLimit, "Too many requests")
			return
		}

		c.Next()
	}
}
