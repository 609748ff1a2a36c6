package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/config"
	"github.com/jengzang/scootermap-go/internal/handler"
	"github.com/jengzang/scootermap-go/internal/middleware"
)

// Handlers groups the read API handlers
type Handlers struct {
	Heatmap *handler.HeatmapHandler
	Health  *handler.HealthHandler
	Admin   *handler.AdminHandler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, logger logrus.FieldLogger, h Handlers, limiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger), corsMiddleware(cfg.Server.CORSOrigins))

	// 健康检查
	r.GET("/health", h.Health.GetHealth)

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(limiter))
	{
		api.GET("/health", h.Health.GetHealth)

		heatmap := api.Group("/heatmap")
		{
			heatmap.GET("", h.Heatmap.GetHeatmap)
			heatmap.GET("/geojson", h.Heatmap.GetGeoJSON)
		}

		api.GET("/stats", h.Heatmap.GetStats)
		api.GET("/cells/:cell", h.Heatmap.GetCell)
		api.GET("/locate", h.Heatmap.Locate)

		admin := api.Group("/admin")
		admin.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			admin.POST("/cleanup", h.Admin.Cleanup)
		}
	}

	return r
}

// SetupWorkerRouter serves worker health and prometheus metrics
func SetupWorkerRouter(logger logrus.FieldLogger, health *handler.WorkerHealthHandler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger))

	r.GET("/health", health.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// corsMiddleware allows the configured origins; "*" allows any.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	_, wildcard := allowed["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := allowed[origin]; origin != "" && (ok || wildcard) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
