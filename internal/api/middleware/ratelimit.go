package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pointshub/internal/pkg/metrics"
	"pointshub/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit 按客户端地址限流。limiter 出错时放行并记录日志。
func RateLimit(limiter ratelimit.Limiter, name string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		allowed, wait, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter failed", slog.String("limiter", name), slog.String("error", err.Error()))
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(name).Inc()
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
