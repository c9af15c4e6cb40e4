package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds per-client token bucket settings.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig allows 20 requests per second with bursts of 40.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// take refills the bucket and consumes one token. When empty it returns the
// number of seconds until a token is available.
func (b *tokenBucket) take(cfg RateLimitConfig, now time.Time) (ok bool, retryAfter int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * cfg.RequestsPerSecond
	if burst := float64(cfg.BurstSize); b.tokens > burst {
		b.tokens = burst
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if cfg.RequestsPerSecond <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/cfg.RequestsPerSecond) + 1
}

// RateLimit limits requests per client IP. Health checks and the websocket
// upgrade are not counted.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	var (
		mu      sync.Mutex
		buckets = map[string]*tokenBucket{}
	)
	bucketFor := func(key string, now time.Time) *tokenBucket {
		mu.Lock()
		defer mu.Unlock()
		b, ok := buckets[key]
		if !ok {
			b = &tokenBucket{tokens: float64(cfg.BurstSize), lastRefill: now}
			buckets[key] = b
		}
		return b
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/ws") || path == "/metrics" {
				return next(c)
			}

			now := time.Now()
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if ok, retryAfter := bucketFor(c.RealIP(), now).take(cfg, now); !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
