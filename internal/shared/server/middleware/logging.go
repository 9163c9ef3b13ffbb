package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callqa-backend/internal/shared/telemetry"
)

// CallIDKey is set by handlers that resolve a call from the path.
const CallIDKey = "callId"

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       route,
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if callID, ok := c.Get(CallIDKey); ok {
			fields["call_id"] = callID
		}
		telemetry.Info("request.complete", fields)
	}
}
