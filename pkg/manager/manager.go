// Package manager provides a single entry point over one connection pool per
// backend type: scoped acquisition, aggregated health and metrics, and
// coordinated startup and shutdown.
package manager

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/errors"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger handed to the manager and its pools.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBenignErrors marks errors returned by WithConnection and Use callbacks
// that say nothing about the connection itself, such as sql.ErrNoRows. When
// benign reports true the connection is released cleanly instead of being
// destroyed, and the breaker is not charged with a failure. The error is
// still returned to the caller.
func WithBenignErrors(benign func(err error) bool) Option {
	return func(m *Manager) {
		m.benign = benign
	}
}

// Manager owns one Pool per ConnectionType.
type Manager struct {
	pools  map[pool.ConnectionType]*pool.Pool
	types  []pool.ConnectionType
	logger *zap.Logger
	benign func(error) bool

	mu     sync.Mutex
	closed bool
}

// New builds a pool for every entry of configs using the factory registered
// under the same type. Every config is validated and every type must have a
// factory; the first problem is returned as a config error and nothing is
// built. No connections are opened until Initialize.
func New(configs map[pool.ConnectionType]config.PoolConfig, factories map[pool.ConnectionType]pool.ResourceFactory, opts ...Option) (*Manager, error) {
	m := &Manager{
		pools:  make(map[pool.ConnectionType]*pool.Pool, len(configs)),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	base := m.logger
	m.logger = base.With(zap.String("component", "manager"))

	if len(configs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "at least one connection type is required")
	}

	types := make([]pool.ConnectionType, 0, len(configs))
	for t := range configs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		factory, ok := factories[t]
		if !ok || factory == nil {
			return nil, errors.New(errors.ErrorTypeConfig, "no resource factory for connection type").
				WithDetail("connection_type", string(t))
		}
		p, err := pool.New(t, configs[t], factory, pool.WithLogger(base))
		if err != nil {
			return nil, err
		}
		m.pools[t] = p
	}
	m.types = types

	return m, nil
}

// Initialize opens every pool concurrently. A type that fails to open keeps
// its pool, which keeps retrying from its health monitor; the failures are
// returned combined.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.isClosed() {
		return errors.New(errors.ErrorTypePoolClosed, "manager is shut down")
	}

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  error
	)
	for _, t := range m.types {
		p := m.pools[t]
		g.Go(func() error {
			if err := p.Initialize(ctx); err != nil {
				m.logger.Error("pool failed to initialize",
					zap.String("connection_type", string(p.Type())),
					zap.Error(err))
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := len(multierr.Errors(errs))
	m.logger.Info("connection manager initialized",
		zap.Int("pools", len(m.types)),
		zap.Int("failed", failed))
	return errs
}

// AcquireScoped borrows a connection of type t. The caller must call Release
// on the result exactly once; extra calls are ignored.
func (m *Manager) AcquireScoped(ctx context.Context, t pool.ConnectionType) (*ScopedConnection, error) {
	p, err := m.lookup(t)
	if err != nil {
		return nil, err
	}
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &ScopedConnection{pool: p, conn: conn}, nil
}

// Pool returns the pool for t.
func (m *Manager) Pool(t pool.ConnectionType) (*pool.Pool, bool) {
	p, ok := m.pools[t]
	return p, ok
}

// Types returns the managed connection types in sorted order.
func (m *Manager) Types() []pool.ConnectionType {
	out := make([]pool.ConnectionType, len(m.types))
	copy(out, m.types)
	return out
}

// HealthCheckAll probes every pool concurrently.
func (m *Manager) HealthCheckAll(ctx context.Context) map[pool.ConnectionType]pool.HealthCheckResult {
	results := make(map[pool.ConnectionType]pool.HealthCheckResult, len(m.types))

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, t := range m.types {
		p := m.pools[t]
		g.Go(func() error {
			res := p.CheckHealth(ctx)
			mu.Lock()
			results[p.Type()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// GetMetrics returns a snapshot of every pool.
func (m *Manager) GetMetrics() map[pool.ConnectionType]pool.PoolMetrics {
	out := make(map[pool.ConnectionType]pool.PoolMetrics, len(m.types))
	for _, t := range m.types {
		out[t] = m.pools[t].Metrics()
	}
	return out
}

// Shutdown shuts every pool down concurrently. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  error
	)
	for _, t := range m.types {
		p := m.pools[t]
		g.Go(func() error {
			if err := p.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		m.logger.Warn("errors during shutdown", zap.Error(errs))
	}
	m.logger.Info("connection manager shut down", zap.Int("pools", len(m.types)))
	return nil
}

func (m *Manager) lookup(t pool.ConnectionType) (*pool.Pool, error) {
	if m.isClosed() {
		return nil, errors.New(errors.ErrorTypePoolClosed, "manager is shut down").
			WithDetail("connection_type", string(t))
	}
	p, ok := m.pools[t]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "unknown connection type").
			WithDetail("connection_type", string(t))
	}
	return p, nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
