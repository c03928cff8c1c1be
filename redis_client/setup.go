package redis_client

import (
	"context"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/logging"
)

// NewRedis opens a client and pings it once. The client is closed again when
// the ping fails.
func NewRedis(ctx context.Context, cnf Config, logger logging.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cnf.Addr(),
		Password:     cnf.Password,
		DB:           cnf.DB,
		PoolSize:     cnf.PoolSize,
		DialTimeout:  cnf.DialTimeout,
		ReadTimeout:  cnf.ReadTimeout,
		WriteTimeout: cnf.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapWithType(err, errors.ErrorTypeBackend, fmt.Sprintf("redis ping %s", cnf.Addr()))
	}
	logger.Info("redis connected", redisConfigLogFields(cnf)...)
	return client, nil
}

func redisConfigLogFields(cnf Config) []zap.Field {
	return []zap.Field{
		zap.String("addr", cnf.Addr()),
		zap.Int("db", cnf.DB),
		zap.String("password", redactedPassword(cnf.Password)),
	}
}

func redactedPassword(password string) string {
	if password == "" {
		return "<empty>"
	}
	return "[REDACTED]"
}
