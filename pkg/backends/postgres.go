package backends

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// PostgresFactory opens single *pgx.Conn connections.
type PostgresFactory struct {
	connConfig *pgx.ConnConfig
	logger     *zap.Logger
}

// NewPostgres builds a factory for the postgres kind from a libpq-style DSN
// or URL.
func NewPostgres(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	cc, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, configError(cfg, err, "invalid postgres dsn")
	}
	if cc.ConnectTimeout == 0 {
		cc.ConnectTimeout = connectTimeout(cfg)
	}
	if app := cfg.Option("application_name", ""); app != "" {
		cc.RuntimeParams["application_name"] = app
	}

	logger.Debug("postgres backend configured",
		zap.String("host", cc.Host),
		zap.Uint16("port", cc.Port),
		zap.String("database", cc.Database))

	return &PostgresFactory{connConfig: cc, logger: logger}, nil
}

// Create implements pool.ResourceFactory.
func (f *PostgresFactory) Create(ctx context.Context) (any, error) {
	return pgx.ConnectConfig(ctx, f.connConfig.Copy())
}

// Validate implements pool.ResourceFactory.
func (f *PostgresFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*pgx.Conn)
	if !ok || c.IsClosed() {
		return false
	}
	return c.Ping(ctx) == nil
}

// Close implements pool.ResourceFactory.
func (f *PostgresFactory) Close(conn any) {
	c, ok := conn.(*pgx.Conn)
	if !ok {
		return
	}
	ctx, cancel := closeContext()
	defer cancel()
	if err := c.Close(ctx); err != nil {
		f.logger.Debug("failed to close postgres connection", zap.Error(err))
	}
}
