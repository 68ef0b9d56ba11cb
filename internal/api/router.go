package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/dbpool"
	"github.com/reqtrail/reqtrail/internal/middleware"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log         *logrus.Logger
	Pool        *dbpool.Pool
	Requests    RequestRepository
	Changes     ChangeRepository
	Sweeper     FlushRunner
	CORSOrigins []string
	Version     string
}

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.PrometheusMiddleware())

	// Metrics endpoint (unauthenticated, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up all API route handlers on the given router group.
func registerRoutes(api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Pool, log, deps.Version)
	requests := NewRequestHandler(deps.Requests, deps.Changes, log)
	changes := NewChangeHandler(deps.Changes, log)
	flush := NewFlushHandler(deps.Sweeper, log)

	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	// Request records.
	api.GET("/requests", requests.List)
	api.GET("/requests/:id", requests.Get)

	// Change records.
	api.GET("/changes", changes.List)
	api.GET("/changes/:id/diff", changes.Diff)

	// Retention.
	api.POST("/flush", flush.Flush)
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(r, deps)
	registerRoutes(r.Group("/api/v1"), deps)

	return r
}
