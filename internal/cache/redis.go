// Package cache holds the Redis backed token blacklist.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/docflow/docflow/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisBlacklist struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisBlacklist(cfg config.RedisConfig, logger *zap.Logger) *RedisBlacklist {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &RedisBlacklist{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		logger: logger.With(zap.String("component", "redis_blacklist")),
	}
}

func (rb *RedisBlacklist) Ping(ctx context.Context) error {
	if err := rb.rdb.Ping(ctx).Err(); err != nil {
		rb.logger.Error("Redis ping failed", zap.Error(err))
		return err
	}
	return nil
}

func (rb *RedisBlacklist) Close() error {
	return rb.rdb.Close()
}

// Revoke stores the id with a TTL that ends when the token expires. A second
// revoke of the same id leaves the first entry in place.
func (rb *RedisBlacklist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("empty token id")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	ok, err := rb.rdb.SetNX(ctx, rb.key(jti), "1", ttl).Result()
	if err != nil {
		rb.logger.Error("Failed to revoke token", zap.String("jti", jti), zap.Error(err))
		return err
	}
	if !ok {
		rb.logger.Debug("Token already revoked", zap.String("jti", jti))
	}
	return nil
}

func (rb *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := rb.rdb.Exists(ctx, rb.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (rb *RedisBlacklist) key(jti string) string {
	return rb.prefix + jti
}
