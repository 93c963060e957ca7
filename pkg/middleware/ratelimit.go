package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unxversal/optionsengine/pkg/ratelimit"
)

// RateLimitMiddleware 按客户端 IP 限流，Redis 故障时放行。
// 键前缀由 ratelimit 包统一追加。
func RateLimitMiddleware(limiter ratelimit.RateLimiter, rate, burst int, period time.Duration) gin.HandlerFunc {
	limit := ratelimit.Limit{Rate: rate, Period: period, Burst: burst}
	return func(c *gin.Context) {
		result, err := limiter.Allow(c.Request.Context(), c.ClientIP(), limit)
		if err != nil {
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
