package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "DOCFLOW"

type Configuration struct {
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SecurityConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	PasswordMinLength int           `mapstructure:"password_min_length"`
	PasswordMaxLength int           `mapstructure:"password_max_length"`
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// StorageConfig selects where document bytes live. Backend "local" writes
// under UploadDir, backend "s3" writes to Bucket on an S3 compatible endpoint.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	UploadDir      string `mapstructure:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	S3Endpoint     string `mapstructure:"s3_endpoint"`
	S3Region       string `mapstructure:"s3_region"`
	S3Bucket       string `mapstructure:"s3_bucket"`
	S3AccessKey    string `mapstructure:"s3_access_key"`
	S3SecretKey    string `mapstructure:"s3_secret_key"`
	S3UseSSL       bool   `mapstructure:"s3_use_ssl"`
	S3PathStyle    bool   `mapstructure:"s3_path_style"`
}

// RedisConfig is optional; with an empty Addr revoked tokens are kept in memory.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type JanitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Grace    time.Duration `mapstructure:"grace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "docflow")
	v.SetDefault("security.token_ttl", 30*time.Minute)
	v.SetDefault("security.password_min_length", 8)
	v.SetDefault("security.password_max_length", 64)
	v.SetDefault("security.max_failed_attempts", 5)
	v.SetDefault("security.lockout_duration", 15*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "docflow.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "docflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.max_upload_bytes", int64(50<<20))
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_bucket", "docflow")
	v.SetDefault("storage.s3_access_key", "")
	v.SetDefault("storage.s3_secret_key", "")
	v.SetDefault("storage.s3_use_ssl", false)
	v.SetDefault("storage.s3_path_style", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "docflow:jti:")

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.interval", time.Hour)
	v.SetDefault("janitor.grace", 24*time.Hour)
}

// Load builds the configuration from defaults, an optional config file and
// DOCFLOW_* environment variables, in increasing order of precedence.
// A .env file in the working directory is loaded first when present.
func Load(filePath string) (*Configuration, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Configuration{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func (c *Configuration) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.UploadDir == "" {
			errs = append(errs, errors.New("storage.upload_dir is required for the local backend"))
		}
	case "s3":
		if c.Storage.S3Endpoint == "" || c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("storage.s3_endpoint and storage.s3_bucket are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend %q", c.Storage.Backend))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret is required"))
	}
	if c.Security.TokenTTL <= 0 {
		errs = append(errs, errors.New("security.token_ttl must be positive"))
	}
	if c.Janitor.Enabled {
		if c.Janitor.Interval <= 0 {
			errs = append(errs, errors.New("janitor.interval must be positive"))
		}
		// An upload may hold an uncommitted blob for up to a full request.
		if c.Janitor.Grace <= c.Server.WriteTimeout {
			errs = append(errs, errors.New("janitor.grace must be longer than server.write_timeout"))
		}
	}
	return errors.Join(errs...)
}

func (c *Configuration) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func LogConfig(cfg *Configuration, logger *zap.Logger) {
	redacted := *cfg
	redacted.Security.JWTSecret = "[REDACTED]"
	redacted.Database.Password = "[REDACTED]"
	redacted.Storage.S3SecretKey = "[REDACTED]"
	redacted.Redis.Password = "[REDACTED]"

	logger.Info("Application configuration",
		zap.String("addr", redacted.Addr()),
		zap.Duration("read_timeout", redacted.Server.ReadTimeout),
		zap.Duration("write_timeout", redacted.Server.WriteTimeout),
		zap.Duration("token_ttl", redacted.Security.TokenTTL),
		zap.String("database_driver", redacted.Database.Driver),
		zap.String("database_host", redacted.Database.Host),
		zap.String("database_name", redacted.Database.Name),
		zap.String("storage_backend", redacted.Storage.Backend),
		zap.String("upload_dir", redacted.Storage.UploadDir),
		zap.String("s3_bucket", redacted.Storage.S3Bucket),
		zap.Int64("max_upload_bytes", redacted.Storage.MaxUploadBytes),
		zap.Bool("redis_enabled", redacted.Redis.Addr != ""),
		zap.Bool("janitor_enabled", redacted.Janitor.Enabled),
	)
}
