package backends

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/errors"
)

// Backend kinds understood by DefaultRegistry.
const (
	KindPostgres  = "postgres"
	KindMySQL     = "mysql"
	KindSQLite    = "sqlite"
	KindSnowflake = "snowflake"
	KindBigQuery  = "bigquery"
	KindMongoDB   = "mongodb"
	KindKafka     = "kafka"
	KindRedis     = "redis"
	KindS3        = "s3"
	KindGCS       = "gcs"
)

// closeTimeout bounds graceful close calls that take a context.
const closeTimeout = 5 * time.Second

func configError(cfg config.BackendConfig, err error, msg string) error {
	if err == nil {
		return errors.New(errors.ErrorTypeConfig, msg).WithDetail("kind", cfg.Kind)
	}
	return errors.Wrap(err, errors.ErrorTypeConfig, msg).WithDetail("kind", cfg.Kind)
}

func connectTimeout(cfg config.BackendConfig) time.Duration {
	if cfg.Pool.ConnectionTimeout > 0 {
		return cfg.Pool.ConnectionTimeout
	}
	return config.DefaultPoolConfig().ConnectionTimeout
}

func closeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), closeTimeout)
}

// resourceName reads the bucket or project a cloud backend targets, either
// from the DSN host ("gs://bucket", "bigquery://project") or from the named
// option.
func resourceName(cfg config.BackendConfig, scheme, option string) string {
	if cfg.DSN != "" {
		if u, err := url.Parse(cfg.DSN); err == nil && strings.EqualFold(u.Scheme, scheme) && u.Host != "" {
			return u.Host
		}
	}
	return cfg.Option(option, "")
}

func obfuscateDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
