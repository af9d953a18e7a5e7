package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/docflow/docflow/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	UserIDKey = "userID"
	ClaimsKey = "claims"
)

type AuthMiddleware struct {
	tokens *services.TokenService
	users  *services.UserService
	logger *zap.Logger
}

func NewAuthMiddleware(tokens *services.TokenService, users *services.UserService, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		logger: logger.With(zap.String("middleware", "auth")),
	}
}

// RequireAuth accepts a valid, unrevoked bearer token of an active user and
// stores the user id under UserIDKey.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := am.tokens.Parse(c.Request.Context(), raw)
		if err != nil {
			if errors.Is(err, services.ErrStorage) {
				am.logger.Error("Token check failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				return
			}
			abortUnauthorized(c)
			return
		}

		identity, err := am.users.Identify(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, services.ErrStorage) {
				am.logger.Error("User lookup failed", zap.Uint("user_id", claims.UserID), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				return
			}
			abortUnauthorized(c)
			return
		}
		if !identity.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "inactive user"})
			return
		}

		c.Set(UserIDKey, identity.UserID)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "could not validate credentials"})
}
