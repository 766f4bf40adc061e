package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shortloop/shortloop/internal/app/metrics"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// DefaultRateLimitConfig returns the default per-IP limit.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit",
	}
}

// RateLimit enforces a fixed window per client IP, counted in Redis so
// the limit holds across instances. Fails open when Redis is down.
func RateLimit(rdb *redis.Client, cfg RateLimitConfig, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.Context()
		key := cfg.KeyPrefix + ":" + c.IP()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			logger.Error("rate limit redis error", zap.Error(err))
			return c.Next()
		}
		if count == 1 {
			rdb.Expire(ctx, key, cfg.Window)
		}

		remaining := cfg.MaxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(cfg.Window).Unix(), 10))

		if count > int64(cfg.MaxRequests) {
			metrics.RateLimited.Inc()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
