package backends

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// RedisFactory opens *redis.Client handles pinned to a single connection,
// so pool sizing maps one to one onto server connections.
type RedisFactory struct {
	opts   *redis.Options
	logger *zap.Logger
}

// NewRedis builds a factory for the redis kind from a redis:// or rediss://
// URL.
func NewRedis(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	opts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, configError(cfg, err, "invalid redis url")
	}
	opts.PoolSize = 1
	opts.MinIdleConns = 0
	opts.MaxRetries = -1
	if opts.DialTimeout == 0 {
		opts.DialTimeout = connectTimeout(cfg)
	}
	if name := cfg.Option("client_name", ""); name != "" {
		opts.ClientName = name
	}

	logger.Debug("redis backend configured",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB))

	return &RedisFactory{opts: opts, logger: logger}, nil
}

// Create implements pool.ResourceFactory.
func (f *RedisFactory) Create(ctx context.Context) (any, error) {
	opts := *f.opts
	client := redis.NewClient(&opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Validate implements pool.ResourceFactory.
func (f *RedisFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*redis.Client)
	if !ok {
		return false
	}
	return c.Ping(ctx).Err() == nil
}

// Close implements pool.ResourceFactory.
func (f *RedisFactory) Close(conn any) {
	c, ok := conn.(*redis.Client)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		f.logger.Debug("failed to close redis client", zap.Error(err))
	}
}
