package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pytake/pytake-go/internal/config"
)

// RateLimiter throttles requests per client IP using a Redis counter whose
// expiry is set on the first request of each window, the same fixed-window
// approach the teacher used against its own Redis client.
func RateLimiter(rdb goredis.UniversalClient, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.Background()
		clientIP := c.ClientIP()
		key := fmt.Sprintf("dtq:ratelimit:%s", clientIP)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}

		if count == 1 {
			rdb.Expire(ctx, key, cfg.RateLimit.Duration)
		}

		if count > int64(cfg.RateLimit.Requests) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RateLimit.Requests))
		c.Writer.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.RateLimit.Requests-int(count)))
		c.Writer.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(cfg.RateLimit.Duration).Unix()))

		c.Next()
	}
}
