package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/scootermap-go/internal/service"
	"github.com/jengzang/scootermap-go/pkg/response"
)

// writeError maps parameter errors to 400 and everything else to 500.
func writeError(c *gin.Context, err error) {
	var paramErr *service.ParamError
	if errors.As(err, &paramErr) {
		response.InvalidParameter(c, paramErr.Param, paramErr.Value, paramErr.Allowed)
		return
	}
	_ = c.Error(err)
	response.InternalError(c, "internal error")
}
