package middleware

import (
	"net/http"
	"time"

	"github.com/complygate/complygate/internal/config"
	"github.com/complygate/complygate/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderAdminKey   = "X-Admin-Key"
	ContextCallerKey = "caller"
)

// AdminMiddleware authenticates the acting admin and stores an explicit,
// immutable caller context (admin id, IP, timestamp) for the handlers.
// There is no ambient "current admin" anywhere below this point.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	byKey := make(map[string]config.AdminConfig, len(cfg.Auth.Admins))
	for _, admin := range cfg.Auth.Admins {
		if admin.APIKey != "" {
			byKey[admin.APIKey] = admin
		}
	}

	return func(c *gin.Context) {
		if len(byKey) == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "no admins configured"})
			c.Abort()
			return
		}
		admin, ok := byKey[c.GetHeader(HeaderAdminKey)]
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			c.Abort()
			return
		}
		c.Set(ContextCallerKey, model.CallerContext{
			AdminID: admin.ID,
			IP:      c.ClientIP(),
			At:      time.Now(),
		})
		c.Next()
	}
}

// RequestIDMiddleware tags every response with a correlation id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}

// Caller extracts the caller context set by AdminMiddleware. For
// unauthenticated intake routes it falls back to an anonymous caller
// carrying only the client IP.
func Caller(c *gin.Context) model.CallerContext {
	if val, exists := c.Get(ContextCallerKey); exists {
		if caller, ok := val.(model.CallerContext); ok {
			return caller
		}
	}
	return model.CallerContext{IP: c.ClientIP(), At: time.Now()}
}
