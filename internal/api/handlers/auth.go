package handlers

import (
	"errors"
	"net/http"

	"github.com/docflow/docflow/internal/api/middleware"
	"github.com/docflow/docflow/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	users  *services.UserService
	tokens *services.TokenService
	logger *zap.Logger
}

func NewAuthHandler(users *services.UserService, tokens *services.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		tokens: tokens,
		logger: logger.With(zap.String("handler", "auth")),
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (ah *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	user, err := ah.users.Register(c.Request.Context(), services.RegisterInput{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, ah.logger, err)
		return
	}

	ah.logger.Info("User registered successfully",
		zap.Uint("user_id", user.ID),
		zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusCreated, user.Profile())
}

// Login takes form fields username (the email) and password and returns a
// bearer token.
func (ah *AuthHandler) Login(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		badRequest(c, "username and password required")
		return
	}

	identity, err := ah.users.Authenticate(c.Request.Context(), username, password)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.Header("WWW-Authenticate", "Bearer")
		}
		respondError(c, ah.logger, err)
		return
	}
	if !identity.Active {
		ah.logger.Warn("Inactive account login", zap.Uint("user_id", identity.UserID))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "inactive user"})
		return
	}

	user, err := ah.users.GetUser(c.Request.Context(), identity.UserID)
	if err != nil {
		respondError(c, ah.logger, err)
		return
	}
	token, claims, err := ah.tokens.Issue(user.ID, user.Email)
	if err != nil {
		ah.logger.Error("Could not issue token", zap.Uint("user_id", user.ID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	ah.logger.Info("User logged in", zap.Uint("user_id", user.ID), zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(claims.ExpiresAt.Sub(claims.IssuedAt).Seconds()),
	})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	claims := c.MustGet(middleware.ClaimsKey).(services.Claims)
	if err := ah.tokens.Revoke(c.Request.Context(), claims); err != nil {
		respondError(c, ah.logger, err)
		return
	}
	ah.logger.Info("User logged out",
		zap.Uint("user_id", claims.UserID),
		zap.String("ip", c.ClientIP()))
	c.Status(http.StatusNoContent)
}
