package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a fixed-window counter shared by every instance through Redis.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
	log    *zap.SugaredLogger
}

func NewRateLimiter(r *redis.Client, prefix string, limit int, window time.Duration, log *zap.SugaredLogger) *RateLimiter {
	return &RateLimiter{redis: r, prefix: prefix, limit: limit, window: window, log: log}
}

// Allow counts one hit for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(c *fiber.Ctx, key string) (bool, int64, error) {
	ctx := c.UserContext()
	redisKey := fmt.Sprintf("%s:rl:%s", r.prefix, key)
	count, err := r.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		r.redis.Expire(ctx, redisKey, r.window)
	}
	return count <= int64(r.limit), count, nil
}

// MiddlewareByKey fails open when Redis is unreachable: chat stays usable and
// the error is logged.
func (r *RateLimiter) MiddlewareByKey(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if r == nil || r.limit <= 0 {
			return c.Next()
		}
		ok, count, err := r.Allow(c, keyFunc(c))
		if err != nil {
			r.log.Warnw("rate limiter unavailable", "error", err)
			return c.Next()
		}
		remaining := int64(r.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(r.limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !ok {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded", "kind": "rate_limited"})
		}
		return c.Next()
	}
}
