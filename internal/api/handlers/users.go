package handlers

import (
	"net/http"

	"github.com/docflow/docflow/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	users  *services.UserService
	logger *zap.Logger
}

func NewUserHandler(users *services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger.With(zap.String("handler", "user")),
	}
}

func (uh *UserHandler) Me(c *gin.Context) {
	user, err := uh.users.GetUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, uh.logger, err)
		return
	}
	c.JSON(http.StatusOK, user.Profile())
}

func (uh *UserHandler) GetUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	user, err := uh.users.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, uh.logger, err)
		return
	}
	c.JSON(http.StatusOK, user.Profile())
}
