package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"callqa-backend/internal/calls"
	"callqa-backend/internal/shared/config"
	"callqa-backend/internal/shared/metrics"
	"callqa-backend/internal/shared/server/middleware"
	"callqa-backend/internal/shared/server/respond"
)

const (
	groupEnqueue = "ENQUEUE"
	groupPolling = "POLLING"
)

// RouterDeps carries what the HTTP surface needs.
type RouterDeps struct {
	Config       config.Config
	CallsHandler *calls.Handler
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func() error
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !deps.Config.IsDevLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.HTTP.CORSAllowOrigins),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "unavailable", "dependencies not ready", nil)
				return
			}
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	if deps.CallsHandler != nil {
		limited := api.Group("")
		limited.Use(middleware.RateLimit(middleware.RateLimitConfig{
			GroupFor: rateGroup,
			Rules: map[string]middleware.RateLimitRule{
				groupEnqueue: {Rate: deps.Config.HTTP.EnqueueRate, Burst: deps.Config.HTTP.EnqueueBurst},
				groupPolling: {Rate: deps.Config.HTTP.PollRate, Burst: deps.Config.HTTP.PollBurst},
			},
		}))
		deps.CallsHandler.RegisterRoutes(limited)
	}

	return r
}

func rateGroup(c *gin.Context) string {
	switch c.Request.Method {
	case http.MethodGet:
		return groupPolling
	case http.MethodPost:
		return groupEnqueue
	default:
		return ""
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
