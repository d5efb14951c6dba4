package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/interfaces/http/response"
)

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Rate   int           // requests per period
	Period time.Duration // defaults to one second
	Burst  int           // maximum burst size
}

func (c RateLimitConfig) limit() redis_rate.Limit {
	period := c.Period
	if period <= 0 {
		period = time.Second
	}
	burst := c.Burst
	if burst <= 0 {
		burst = c.Rate
	}
	return redis_rate.Limit{Rate: c.Rate, Burst: burst, Period: period}
}

// PerMinute allows n requests per minute with a burst of n
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{Rate: n, Period: time.Minute, Burst: n}
}

// RateLimiter manages rate limiting using Redis
type RateLimiter struct {
	limiter  *redis_rate.Limiter
	logger   *zap.Logger
	failOpen bool // if true, allow requests when Redis is unavailable
	prefix   string
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redisClient *redis.Client, failOpen bool, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		limiter:  redis_rate.NewLimiter(redisClient),
		logger:   logger,
		failOpen: failOpen,
		prefix:   "ratelimit:",
	}
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware(keyFunc func(*gin.Context) string, config RateLimitConfig) gin.HandlerFunc {
	limit := config.limit()
	return func(c *gin.Context) {
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		res, err := r.limiter.Allow(c.Request.Context(), r.prefix+key, limit)
		if err != nil {
			r.logger.Error("rate limiter error", zap.Error(err))
			if r.failOpen {
				c.Next()
				return
			}
			response.ServiceUnavailable(c, "Rate limiting unavailable")
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.ResetAfter).Unix(), 10))

		if res.Allowed == 0 {
			response.RateLimited(c, int(res.RetryAfter.Seconds())+1)
			c.Abort()
			return
		}

		c.Next()
	}
}

// ByIP limits requests by client IP address
func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByIPAndEndpoint limits requests by IP and route combination
func ByIPAndEndpoint(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return fmt.Sprintf("ip:%s:endpoint:%s", c.ClientIP(), path)
}
