// Package backends provides ResourceFactory implementations for the drivers
// the connection manager ships with, and a registry that builds them from
// configuration.
//
// Every factory parses its DSN when it is constructed, so a malformed
// backend entry is reported as a config error before any pool starts.
package backends

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/errors"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// Constructor builds a factory for one backend entry.
type Constructor func(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error)

// Registry maps backend kinds to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindPostgres, NewPostgres)
	r.Register(KindMySQL, NewMySQL)
	r.Register(KindSQLite, NewSQLite)
	r.Register(KindSnowflake, NewSnowflake)
	r.Register(KindBigQuery, NewBigQuery)
	r.Register(KindMongoDB, NewMongoDB)
	r.Register(KindKafka, NewKafka)
	r.Register(KindRedis, NewRedis)
	r.Register(KindS3, NewS3)
	r.Register(KindGCS, NewGCS)
	return r
}

// Register adds or replaces the constructor for kind.
func (r *Registry) Register(kind string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[kind] = c
}

// Create builds the factory for cfg.Kind.
func (r *Registry) Create(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	r.mu.RLock()
	c, ok := r.constructors[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "unknown backend kind").
			WithDetail("kind", cfg.Kind)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "backend"), zap.String("kind", cfg.Kind))
	logger.Debug("building backend", zap.String("dsn", obfuscateDSN(cfg.DSN)))
	return c(cfg, logger)
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build turns every backend in cfg into a pool config and a factory, keyed by
// backend name. Factories already built are shut down if a later one fails.
func (r *Registry) Build(cfg *config.Config, logger *zap.Logger) (map[pool.ConnectionType]config.PoolConfig, map[pool.ConnectionType]pool.ResourceFactory, error) {
	configs := make(map[pool.ConnectionType]config.PoolConfig, len(cfg.Backends))
	factories := make(map[pool.ConnectionType]pool.ResourceFactory, len(cfg.Backends))

	for _, name := range cfg.BackendNames() {
		b := cfg.Backends[name]
		f, err := r.Create(b, logger)
		if err != nil {
			closeFactories(factories)
			return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build backend").
				WithDetail("backend", name)
		}
		ct := pool.ConnectionType(name)
		configs[ct] = b.Pool
		factories[ct] = f
	}
	return configs, factories, nil
}

func closeFactories(factories map[pool.ConnectionType]pool.ResourceFactory) {
	for _, f := range factories {
		if s, ok := f.(pool.Shutdowner); ok {
			_ = s.Shutdown(context.Background())
		}
	}
}
