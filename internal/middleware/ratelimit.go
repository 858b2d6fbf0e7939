package middleware

import (
	"net/http"
	"sync"

	"github.com/complygate/complygate/internal/config"
	"github.com/complygate/complygate/internal/model"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits each admin independently. Must run after
// AdminMiddleware.
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	qps := cfg.RateLimit.QPS
	burst := cfg.RateLimit.Burst
	if qps <= 0 {
		qps = 25
	}
	if burst <= 0 {
		burst = 50
	}

	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(adminID string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[adminID]
		if !ok {
			l = rate.NewLimiter(rate.Limit(qps), burst)
			limiters[adminID] = l
		}
		return l
	}

	return func(c *gin.Context) {
		val, exists := c.Get(ContextCallerKey)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		caller := val.(model.CallerContext)

		if !limiterFor(caller.AdminID).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
