package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/scootermap-go/internal/models"
	"github.com/jengzang/scootermap-go/internal/service"
	"github.com/jengzang/scootermap-go/pkg/response"
)

// HeatmapHandler handles HTTP requests for aggregated snapshots
type HeatmapHandler struct {
	service *service.HeatmapService
}

// NewHeatmapHandler creates a new heatmap handler
func NewHeatmapHandler(service *service.HeatmapService) *HeatmapHandler {
	return &HeatmapHandler{service: service}
}

func bindFilter(c *gin.Context) (models.HeatmapFilter, bool) {
	var filter models.HeatmapFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.InvalidParameter(c, "query", c.Request.URL.RawQuery, "resolution and min_count must be integers")
		return filter, false
	}
	return filter, true
}

// GetHeatmap handles GET /api/v1/heatmap
func (h *HeatmapHandler) GetHeatmap(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	heatmap, err := h.service.Heatmap(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, heatmap)
}

// GetGeoJSON handles GET /api/v1/heatmap/geojson. The body is a bare
// FeatureCollection so mapping clients can load it directly.
func (h *HeatmapHandler) GetGeoJSON(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	fc, err := h.service.GeoJSON(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

// GetStats handles GET /api/v1/stats
func (h *HeatmapHandler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, stats)
}

// GetCell handles GET /api/v1/cells/:cell
func (h *HeatmapHandler) GetCell(c *gin.Context) {
	info, err := h.service.Cell(c.Param("cell"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, info)
}

// Locate handles GET /api/v1/locate
func (h *HeatmapHandler) Locate(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		response.InvalidParameter(c, "lat", c.Query("lat"), "decimal degrees")
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		response.InvalidParameter(c, "lon", c.Query("lon"), "decimal degrees")
		return
	}

	cells, err := h.service.Locate(lat, lon)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"lat":   lat,
		"lon":   lon,
		"cells": cells,
	})
}
