package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/connmgr/pkg/circuit"
	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/errors"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

type handle struct {
	id     int64
	closed atomic.Bool
}

type testBackend struct {
	ids     atomic.Int64
	open    atomic.Int64
	failing atomic.Bool
}

func (b *testBackend) factory() pool.ResourceFactory {
	return pool.FactoryFuncs{
		CreateFunc: func(ctx context.Context) (any, error) {
			if b.failing.Load() {
				return nil, fmt.Errorf("backend down")
			}
			b.open.Add(1)
			return &handle{id: b.ids.Add(1)}, nil
		},
		CloseFunc: func(conn any) {
			if conn.(*handle).closed.CompareAndSwap(false, true) {
				b.open.Add(-1)
			}
		},
	}
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MinSize:                 2,
		MaxSize:                 3,
		ConnectionTimeout:       200 * time.Millisecond,
		IdleTimeout:             5 * time.Second,
		HealthCheckInterval:     time.Hour,
		CircuitFailureThreshold: 3,
		CircuitRecoveryTimeout:  time.Second,
	}
}

func newTestManager(t *testing.T, backends map[pool.ConnectionType]*testBackend, opts ...Option) *Manager {
	t.Helper()
	configs := make(map[pool.ConnectionType]config.PoolConfig)
	factories := make(map[pool.ConnectionType]pool.ResourceFactory)
	for ct, b := range backends {
		configs[ct] = testPoolConfig()
		factories[ct] = b.factory()
	}
	m, err := New(configs, factories, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})
	return m
}

func TestNewValidatesEverything(t *testing.T) {
	b := &testBackend{}

	_, err := New(nil, nil)
	assert.ErrorIs(t, err, errors.ErrConfig)

	_, err = New(map[pool.ConnectionType]config.PoolConfig{"db": testPoolConfig()}, nil)
	assert.ErrorIs(t, err, errors.ErrConfig)

	bad := testPoolConfig()
	bad.MaxSize = 0
	_, err = New(
		map[pool.ConnectionType]config.PoolConfig{"db": bad},
		map[pool.ConnectionType]pool.ResourceFactory{"db": b.factory()})
	assert.ErrorIs(t, err, errors.ErrConfig)
	assert.Zero(t, b.open.Load())
}

func TestInitializeIsolatesFailures(t *testing.T) {
	good := &testBackend{}
	bad := &testBackend{}
	bad.failing.Store(true)
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": good, "analytics": bad})

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.ErrorIs(t, err, errors.ErrConnectionCreate)

	assert.Equal(t, []pool.ConnectionType{"analytics", "cache"}, m.Types())

	sc, err := m.AcquireScoped(context.Background(), "cache")
	require.NoError(t, err)
	sc.Release(nil)

	// the failed type keeps its pool and recovers once the backend is back
	bad.failing.Store(false)
	sc, err = m.AcquireScoped(context.Background(), "analytics")
	require.NoError(t, err)
	sc.Release(nil)
}

func TestAcquireScopedUnknownType(t *testing.T) {
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": {}})

	_, err := m.AcquireScoped(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestScopedReleaseIsIdempotent(t *testing.T) {
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": {}})
	require.NoError(t, m.Initialize(context.Background()))

	sc, err := m.AcquireScoped(context.Background(), "cache")
	require.NoError(t, err)
	assert.Equal(t, pool.ConnectionType("cache"), sc.Type())
	assert.True(t, sc.Pooled().InUse())

	sc.Release(nil)
	sc.Release(fmt.Errorf("late failure"))

	metrics := m.GetMetrics()["cache"]
	assert.Equal(t, 2, metrics.Idle)
	assert.Equal(t, 0, metrics.Active)
	assert.Zero(t, metrics.ConsecutiveFailures)
}

func TestWithConnectionReleasesCleanly(t *testing.T) {
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": {}})
	require.NoError(t, m.Initialize(context.Background()))

	var seen *handle
	err := m.WithConnection(context.Background(), "cache", func(ctx context.Context, conn any) error {
		seen = conn.(*handle)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, seen.closed.Load())

	metrics := m.GetMetrics()["cache"]
	assert.Equal(t, 2, metrics.Idle)
	assert.Equal(t, 0, metrics.Active)
}

func TestWithConnectionInvalidatesOnError(t *testing.T) {
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": {}})
	require.NoError(t, m.Initialize(context.Background()))

	var seen *handle
	boom := fmt.Errorf("query failed")
	err := m.WithConnection(context.Background(), "cache", func(ctx context.Context, conn any) error {
		seen = conn.(*handle)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, seen.closed.Load(), "failed connection is not reused")

	metrics := m.GetMetrics()["cache"]
	assert.Equal(t, 1, metrics.Idle)
	assert.Equal(t, 0, metrics.Active)
	assert.Equal(t, 1, metrics.ConsecutiveFailures)
}

func TestWithConnectionKeepsConnectionOnBenignError(t *testing.T) {
	errNoRows := fmt.Errorf("no rows in result set")
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": {}},
		WithBenignErrors(func(err error) bool { return stderrors.Is(err, errNoRows) }))
	require.NoError(t, m.Initialize(context.Background()))

	var seen *handle
	for i := 0; i < 5; i++ {
		err := Use(context.Background(), m, "cache", func(ctx context.Context, conn *handle) error {
			seen = conn
			return fmt.Errorf("lookup %d: %w", i, errNoRows)
		})
		assert.ErrorIs(t, err, errNoRows, "benign errors still reach the caller")
	}
	assert.False(t, seen.closed.Load())

	metrics := m.GetMetrics()["cache"]
	assert.Equal(t, 2, metrics.Idle)
	assert.Zero(t, metrics.ConsecutiveFailures)
	assert.Equal(t, circuit.StateClosed, metrics.CircuitState)

	// anything else still destroys the connection
	err := m.WithConnection(context.Background(), "cache", func(ctx context.Context, conn any) error {
		seen = conn.(*handle)
		return fmt.Errorf("connection reset")
	})
	require.Error(t, err)
	assert.True(t, seen.closed.Load())
	assert.Equal(t, 1, m.GetMetrics()["cache"].ConsecutiveFailures)
}

func TestWithConnectionInvalidatesOnPanic(t *testing.T) {
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": {}})
	require.NoError(t, m.Initialize(context.Background()))

	var seen *handle
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = m.WithConnection(context.Background(), "cache", func(ctx context.Context, conn any) error {
			seen = conn.(*handle)
			panic("kaboom")
		})
	})
	assert.True(t, seen.closed.Load())
	assert.Equal(t, 0, m.GetMetrics()["cache"].Active)
}

func TestUseAssertsHandleType(t *testing.T) {
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": {}})
	require.NoError(t, m.Initialize(context.Background()))

	var id int64
	err := Use(context.Background(), m, "cache", func(ctx context.Context, h *handle) error {
		id = h.id
		return nil
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	err = Use(context.Background(), m, "cache", func(ctx context.Context, s string) error {
		return nil
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.Equal(t, 0, m.GetMetrics()["cache"].Active)
	assert.Zero(t, m.GetMetrics()["cache"].ConsecutiveFailures)
}

func TestHealthCheckAll(t *testing.T) {
	good := &testBackend{}
	bad := &testBackend{}
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": good, "analytics": bad})
	require.NoError(t, m.Initialize(context.Background()))

	p, ok := m.Pool("analytics")
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		p.Breaker().RecordFailure()
	}

	results := m.HealthCheckAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, pool.StatusHealthy, results["cache"].Status)
	assert.Equal(t, pool.StatusUnhealthy, results["analytics"].Status)
	assert.Equal(t, circuit.StateOpen, results["analytics"].CircuitState)
	assert.ErrorIs(t, results["analytics"].Err, errors.ErrCircuitOpen)
}

func TestShutdown(t *testing.T) {
	a := &testBackend{}
	b := &testBackend{}
	m := newTestManager(t, map[pool.ConnectionType]*testBackend{"cache": a, "primary-db": b})
	require.NoError(t, m.Initialize(context.Background()))

	sc, err := m.AcquireScoped(context.Background(), "cache")
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	for ct, metrics := range m.GetMetrics() {
		assert.Zero(t, metrics.Active, ct)
		assert.Zero(t, metrics.Idle, ct)
		p, _ := m.Pool(ct)
		assert.False(t, p.Monitor().Running(), ct)
	}
	assert.Zero(t, a.open.Load())
	assert.Zero(t, b.open.Load())

	sc.Release(nil)
	_, err = m.AcquireScoped(context.Background(), "cache")
	assert.ErrorIs(t, err, errors.ErrPoolClosed)
}
