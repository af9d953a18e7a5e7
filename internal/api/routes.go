package api

import (
	"context"
	"net/http"
	"time"

	"github.com/docflow/docflow/internal/api/handlers"
	"github.com/docflow/docflow/internal/api/middleware"
	"github.com/docflow/docflow/internal/config"
	"github.com/docflow/docflow/internal/services"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// Services groups what the transport needs from the application layer.
type Services struct {
	Documents *services.DocumentService
	Queries   *services.QueryService
	Users     *services.UserService
	Tokens    *services.TokenService
}

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	db             *gorm.DB
	authHandler    *handlers.AuthHandler
	docHandler     *handlers.DocumentHandler
	userHandler    *handlers.UserHandler
	authMiddleware *middleware.AuthMiddleware
	reqMiddleware  *middleware.RequestMiddleware
	logMiddleware  *middleware.LoggingMiddleware
}

func NewRouter(
	cfg *config.Configuration,
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
	db *gorm.DB,
	svc Services,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.MaxMultipartMemory = 8 << 20

	tracker := middleware.NewIPAttemptTracker(cfg.Security.MaxFailedAttempts, cfg.Security.LockoutDuration)
	reqMiddleware := middleware.NewRequestMiddleware(logger, tracker)
	logMiddleware := middleware.NewLoggingMiddleware(logger, metrics)
	authMiddleware := middleware.NewAuthMiddleware(svc.Tokens, svc.Users, logger)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(logMiddleware.LogRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        metrics,
		db:             db,
		authHandler:    handlers.NewAuthHandler(svc.Users, svc.Tokens, logger),
		docHandler:     handlers.NewDocumentHandler(svc.Documents, svc.Queries, logger, cfg.Storage.MaxUploadBytes),
		userHandler:    handlers.NewUserHandler(svc.Users, logger),
		authMiddleware: authMiddleware,
		reqMiddleware:  reqMiddleware,
		logMiddleware:  logMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", r.health)
	r.engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))

	v1 := r.engine.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.POST("/register", r.authHandler.Register)
	auth.POST("/login", r.reqMiddleware.LoginThrottle(), r.authHandler.Login)
	auth.POST("/logout", r.authMiddleware.RequireAuth(), r.authHandler.Logout)

	authorized := v1.Group("/")
	authorized.Use(r.authMiddleware.RequireAuth())
	{
		authorized.GET("/users/me", r.userHandler.Me)
		authorized.GET("/users/:id", r.userHandler.GetUser)

		authorized.GET("/documents", r.docHandler.ListDocuments)
		authorized.POST("/documents", r.docHandler.UploadDocument)
		authorized.GET("/documents/:id", r.docHandler.GetDocument)
		authorized.PATCH("/documents/:id", r.docHandler.UpdateDocument)
		authorized.DELETE("/documents/:id", r.docHandler.DeleteDocument)
		authorized.GET("/documents/:id/download", r.docHandler.DownloadDocument)
		authorized.POST("/documents/:id/share", r.docHandler.ShareDocument)
		authorized.DELETE("/documents/:id/share/:userID", r.docHandler.RevokePermission)
		authorized.GET("/documents/:id/access", r.docHandler.ListAccess)
		authorized.POST("/documents/:id/sign", r.docHandler.SignDocument)
	}
}

func (r *Router) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	sqlDB, err := r.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		r.logger.Error("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "name": "docflow"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "up", "name": "docflow"})
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
