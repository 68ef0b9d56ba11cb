// Package api provides HTTP handlers for the reqtrail read API.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/dbpool"
)

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	pool      *dbpool.Pool
	log       *logrus.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler with the given dependencies.
func NewHealthHandler(pool *dbpool.Pool, log *logrus.Logger, version string) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		log:       log,
		version:   version,
		startTime: time.Now(),
	}
}

// healthResponse is the JSON payload returned by the health/liveness endpoint.
type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Database      string  `json:"database"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Liveness handles GET /api/v1/health.
func (h *HealthHandler) Liveness(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		Database:      "connected",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	if err := h.pool.HealthCheck(c.Request.Context()); err != nil {
		h.log.WithError(err).Warn("health check database probe failed")
		resp.Status = "degraded"
		resp.Database = "unreachable"
	}

	c.JSON(http.StatusOK, resp)
}

// Readiness handles GET /api/v1/ready. It fails when the database is
// unreachable so orchestrators stop routing traffic here.
func (h *HealthHandler) Readiness(c *gin.Context) {
	if err := h.pool.HealthCheck(c.Request.Context()); err != nil {
		h.log.WithError(err).Warn("readiness probe failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
