// Package connmgr is a unified connection manager: one bounded, self-healing
// pool per backend, each guarded by a circuit breaker and watched by a
// background health monitor.
//
// The root package only carries documentation. The code lives in pkg/ and
// the command line tool in cmd/connmgr.
//
// # Architecture
//
// A Manager owns one Pool per connection type. Every pool:
//   - keeps between MinSize and MaxSize connections, reusing idle ones LIFO
//   - refuses work while its circuit is open and retries after a recovery window
//   - validates connections when they come back and destroys bad or stale ones
//   - runs a HealthMonitor that sweeps idle connections, tops the pool back up
//     to MinSize and records a health check every interval
//
// Backends are plugged in through pool.ResourceFactory. pkg/backends ships
// factories for postgres, mysql, sqlite, snowflake, bigquery, mongodb, kafka,
// redis, s3 and gcs, all built from a YAML configuration file.
//
// # Quick Start
//
//	cfg, err := config.Load("connmgr.yaml")
//	if err != nil {
//	    return err
//	}
//	configs, factories, err := backends.DefaultRegistry().Build(cfg, logger.Get())
//	if err != nil {
//	    return err
//	}
//	m, err := manager.New(configs, factories)
//	if err != nil {
//	    return err
//	}
//	defer m.Shutdown(context.Background())
//	_ = m.Initialize(ctx)
//
//	err = manager.Use(ctx, m, "primary-db", func(ctx context.Context, conn *pgx.Conn) error {
//	    _, err := conn.Exec(ctx, "SELECT 1")
//	    return err
//	})
//
// # Key Packages
//
//	pkg/pool          - Bounded connection pool and health monitor
//	pkg/circuit       - Three-state circuit breaker
//	pkg/manager       - Facade over many pools with scoped acquisition
//	pkg/backends      - Resource factories for real backends
//	pkg/config        - Pool and backend configuration, YAML loading
//	pkg/errors        - Structured, typed errors
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus collectors for pools and breakers
//	pkg/observability - OpenTelemetry tracing setup
//
// # Configuration
//
// Environment variables are substituted with ${VAR_NAME} syntax before the
// file is parsed, and CONNMGR_* variables override top-level settings.
//
//	connmgr config init > connmgr.yaml
//	connmgr check --config connmgr.yaml
//	connmgr serve --config connmgr.yaml --addr :9090
package connmgr
