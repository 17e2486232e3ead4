package backends

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// SQLFactory pools dedicated *sql.Conn handles from one shared *sql.DB.
// The DB keeps no idle connections of its own, so closing a handle closes
// the driver connection and the pool stays the only place connections idle.
type SQLFactory struct {
	driver string
	db     *sql.DB
	logger *zap.Logger
}

func newSQLFactory(name string, db *sql.DB, cfg config.BackendConfig, logger *zap.Logger) *SQLFactory {
	maxOpen := cfg.Pool.MaxSize + 1 // room for a reserved health probe
	if maxOpen < 2 {
		maxOpen = 2
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(0)

	logger.Debug("sql backend configured",
		zap.String("driver", name),
		zap.Int("max_open_conns", maxOpen))

	return &SQLFactory{driver: name, db: db, logger: logger}
}

// NewMySQL builds a factory for the mysql kind. The DSN uses the
// go-sql-driver format, e.g. "user:pass@tcp(db:3306)/app?parseTime=true".
func NewMySQL(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	mcfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, configError(cfg, err, "invalid mysql dsn")
	}
	if mcfg.Timeout == 0 {
		mcfg.Timeout = connectTimeout(cfg)
	}
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, configError(cfg, err, "invalid mysql config")
	}
	return newSQLFactory("mysql", sql.OpenDB(connector), cfg, logger), nil
}

// NewSQLite builds a factory for the sqlite kind. The DSN is a file path or
// ":memory:" (the default).
func NewSQLite(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, configError(cfg, err, "invalid sqlite dsn")
	}
	return newSQLFactory("sqlite3", db, cfg, logger), nil
}

// NewSnowflake builds a factory for the snowflake kind from a gosnowflake
// DSN such as "user:pass@account/db/schema?warehouse=wh".
func NewSnowflake(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	scfg, err := gosnowflake.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, configError(cfg, err, "invalid snowflake dsn")
	}
	if scfg.LoginTimeout == 0 {
		scfg.LoginTimeout = connectTimeout(cfg)
	}
	connector := gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, *scfg)
	return newSQLFactory("snowflake", sql.OpenDB(connector), cfg, logger), nil
}

// Create implements pool.ResourceFactory.
func (f *SQLFactory) Create(ctx context.Context) (any, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Validate implements pool.ResourceFactory.
func (f *SQLFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*sql.Conn)
	if !ok {
		return false
	}
	return c.PingContext(ctx) == nil
}

// Close implements pool.ResourceFactory.
func (f *SQLFactory) Close(conn any) {
	c, ok := conn.(*sql.Conn)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		f.logger.Debug("failed to close sql connection", zap.Error(err))
	}
}

// Shutdown closes the shared *sql.DB.
func (f *SQLFactory) Shutdown(ctx context.Context) error {
	return f.db.Close()
}

// DB exposes the shared handle, mostly for stats.
func (f *SQLFactory) DB() *sql.DB {
	return f.db
}
