package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/docflow/docflow/internal/api/middleware"
	"github.com/docflow/docflow/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError writes the status for err's kind. Storage failures are logged
// with their cause and answered with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, services.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrForbidden):
		status, msg = http.StatusForbidden, "not enough permissions"
	case errors.Is(err, services.ErrAlreadySigned):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
		if errors.Is(err, services.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
	case errors.Is(err, services.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "incorrect email or password"
	default:
		logger.Error("Request failed",
			zap.String("request_id", middleware.RequestIDFrom(c.Request.Context())),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return uint(id), true
}

func currentUser(c *gin.Context) uint {
	return c.GetUint(middleware.UserIDKey)
}
