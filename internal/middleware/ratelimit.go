package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter is the counting backend, satisfied by the Redis cache.
// Implementations fail open: a backend outage must not take down the
// redirect path.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

// RateLimitConfig holds configuration for the rate limiter
type RateLimitConfig struct {
	// Limit is the maximum number of requests allowed per window
	Limit int

	// Window is the sliding window attached to a counter on first increment
	Window time.Duration

	// KeyFunc generates the rate limit key (default: per client IP)
	KeyFunc func(*gin.Context) string

	// SkipFunc exempts requests from limiting (default: none)
	SkipFunc func(*gin.Context) bool
}

// RateLimit returns a Gin middleware enforcing a per-key request budget
// against the given backend.
func RateLimit(limiter Limiter, config RateLimitConfig) gin.HandlerFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = IPKey
	}
	if config.SkipFunc == nil {
		config.SkipFunc = func(*gin.Context) bool { return false }
	}

	return func(c *gin.Context) {
		if config.SkipFunc(c) {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Limit))

		if !limiter.Allow(c.Request.Context(), config.KeyFunc(c), config.Limit, config.Window) {
			c.Header("Retry-After", strconv.Itoa(int(config.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "Rate limit exceeded. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

// IPKey keys the limit on the client IP
func IPKey(c *gin.Context) string {
	return c.ClientIP()
}

// IPAndPathKey keys the limit on client IP and request path
func IPAndPathKey(c *gin.Context) string {
	return fmt.Sprintf("%s:%s", c.ClientIP(), c.Request.URL.Path)
}

// SkipHealthCheck exempts health endpoints from rate limiting
func SkipHealthCheck(c *gin.Context) bool {
	return c.Request.URL.Path == "/health"
}
