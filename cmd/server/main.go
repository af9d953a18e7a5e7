package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/docflow/docflow/internal/api"
	"github.com/docflow/docflow/internal/cache"
	"github.com/docflow/docflow/internal/config"
	"github.com/docflow/docflow/internal/db"
	"github.com/docflow/docflow/internal/scheduler"
	"github.com/docflow/docflow/internal/services"
	"github.com/docflow/docflow/internal/storage"
	"github.com/docflow/docflow/pkg/logger"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "docflow",
		Usage:   "document sharing and signing service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Sources: cli.EnvVars("DOCFLOW_CONFIG"),
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a yaml, json or toml config file",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema and exit",
				Action: migrate,
			},
			{
				Name:  "set-active",
				Usage: "activate or deactivate a user account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user-id", Required: true, Usage: "id of the user"},
					&cli.BoolFlag{Name: "active", Value: true, Usage: "new state of the account"},
				},
				Action: setActive,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// bootstrap loads configuration and the logger shared by every command.
func bootstrap(c *cli.Command) (*config.Configuration, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	zapLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(zapLogger)
	return cfg, zapLogger, nil
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, zapLogger, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	config.LogConfig(cfg, zapLogger)

	database, err := db.Initialize(cfg.Database, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close(database)

	blobs, err := newBlobStore(ctx, cfg.Storage, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	blacklist, closeBlacklist, err := newBlacklist(ctx, cfg.Redis, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize token blacklist: %w", err)
	}
	defer closeBlacklist()

	metricsCollector := metrics.NewMetricsCollector(nil)
	svc := api.Services{
		Documents: services.NewDocumentService(database, blobs, zapLogger, metricsCollector, cfg.Storage.MaxUploadBytes),
		Queries:   services.NewQueryService(database, blobs, zapLogger),
		Users:     services.NewUserService(database, zapLogger, cfg.Security),
		Tokens:    services.NewTokenService(cfg.Security, blacklist, zapLogger),
	}

	if cfg.Janitor.Enabled {
		janitor := scheduler.NewBlobJanitor(database, blobs, zapLogger, metricsCollector, cfg.Janitor.Grace)
		if err := janitor.Start(cfg.Janitor.Interval); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	router := api.NewRouter(cfg, zapLogger, metricsCollector, database, svc)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("address", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit.Done():
	}

	zapLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	zapLogger.Info("Server gracefully stopped")
	return nil
}

func migrate(_ context.Context, c *cli.Command) error {
	cfg, zapLogger, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	database, err := db.Initialize(cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	defer db.Close(database)
	zapLogger.Info("Database schema is up to date")
	return nil
}

func setActive(ctx context.Context, c *cli.Command) error {
	id, err := strconv.ParseUint(c.String("user-id"), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid user id %q", c.String("user-id"))
	}
	cfg, zapLogger, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	database, err := db.Initialize(cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	defer db.Close(database)

	users := services.NewUserService(database, zapLogger, cfg.Security)
	return users.SetActive(ctx, uint(id), c.Bool("active"))
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig, zapLogger *zap.Logger) (storage.BlobStore, error) {
	if cfg.Backend == "s3" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, zapLogger)
	}
	return storage.NewLocalStore(cfg.UploadDir, zapLogger)
}

// newBlacklist uses Redis when an address is configured and falls back to an
// in-process blacklist otherwise.
func newBlacklist(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) (services.Blacklist, func(), error) {
	if cfg.Addr == "" {
		zapLogger.Warn("Redis not configured, revoked tokens are kept in memory")
		return services.NewMemoryBlacklist(), func() {}, nil
	}
	rb := cache.NewRedisBlacklist(cfg, zapLogger)
	if err := rb.Ping(ctx); err != nil {
		_ = rb.Close()
		return nil, nil, err
	}
	return rb, func() { _ = rb.Close() }, nil
}
