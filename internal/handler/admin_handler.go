package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/middleware"
	"github.com/jengzang/scootermap-go/internal/models"
	"github.com/jengzang/scootermap-go/pkg/response"
)

// Cleaner removes rows older than the retention window
type Cleaner interface {
	CleanupOlderThan(ctx context.Context, retention time.Duration) (models.CleanupResult, error)
}

// AdminHandler handles maintenance requests
type AdminHandler struct {
	cleaner   Cleaner
	retention time.Duration
	logger    logrus.FieldLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(cleaner Cleaner, retention time.Duration, logger logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{cleaner: cleaner, retention: retention, logger: logger}
}

// Cleanup handles POST /api/v1/admin/cleanup
func (h *AdminHandler) Cleanup(c *gin.Context) {
	result, err := h.cleaner.CleanupOlderThan(c.Request.Context(), h.retention)
	if err != nil {
		writeError(c, err)
		return
	}

	fields := logrus.Fields{"raw_deleted": result.RawDeleted, "total": result.Total()}
	if claims, ok := c.Get(middleware.ClaimsKey); ok {
		if rc, ok := claims.(*jwt.RegisteredClaims); ok {
			fields["subject"] = rc.Subject
		}
	}
	h.logger.WithFields(fields).Info("Manual cleanup completed")

	response.Success(c, result)
}
