package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/scootermap-go/internal/service"
	"github.com/jengzang/scootermap-go/pkg/response"
)

// HealthHandler reports read API health from the snapshot store
type HealthHandler struct {
	service *service.HeatmapService
	name    string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *service.HeatmapService, name string) *HealthHandler {
	return &HealthHandler{service: service, name: name}
}

// GetHealth handles GET /health and GET /api/v1/health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Unavailable(c, gin.H{
			"status":    "degraded",
			"service":   h.name,
			"timestamp": time.Now().UTC(),
		})
		return
	}

	response.Success(c, gin.H{
		"status":    "healthy",
		"service":   h.name,
		"timestamp": stats.Timestamp,
		"database":  stats.Database,
	})
}

// WorkerHealthHandler reports aggregation worker health
type WorkerHealthHandler struct {
	health *service.HealthChecker
}

// NewWorkerHealthHandler creates a new worker health handler
func NewWorkerHealthHandler(health *service.HealthChecker) *WorkerHealthHandler {
	return &WorkerHealthHandler{health: health}
}

// GetHealth handles GET /health on the worker
func (h *WorkerHealthHandler) GetHealth(c *gin.Context) {
	snapshot := h.health.Snapshot()
	if h.health.CheckHealth() != nil {
		c.JSON(http.StatusServiceUnavailable, snapshot)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
