package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajitpratap0/connmgr/pkg/errors"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// ScopedConnection is a borrowed connection that knows how to go home.
type ScopedConnection struct {
	pool *pool.Pool
	conn *pool.PooledConnection
	once sync.Once
}

// Conn returns the raw driver handle.
func (s *ScopedConnection) Conn() any {
	return s.conn.Raw()
}

// Pooled returns the pool's bookkeeping wrapper.
func (s *ScopedConnection) Pooled() *pool.PooledConnection {
	return s.conn
}

// Type returns the connection type the handle belongs to.
func (s *ScopedConnection) Type() pool.ConnectionType {
	return s.pool.Type()
}

// Release hands the connection back. A nil err is a clean release; any other
// value means the connection may be broken and it is destroyed instead.
func (s *ScopedConnection) Release(err error) {
	s.once.Do(func() {
		if err != nil {
			s.pool.Invalidate(s.conn, err)
			return
		}
		s.pool.Release(s.conn)
	})
}

// WithConnection borrows a connection of type t for the duration of fn. The
// connection is destroyed rather than reused if fn returns an error or
// panics; a panic is re-raised after cleanup.
//
// Every error counts: a destroyed connection is recorded as a failure on the
// pool's circuit breaker, so routine application errors (sql.ErrNoRows, a
// constraint violation) can open the circuit. Pass WithBenignErrors to New to
// keep the connection for those.
func (m *Manager) WithConnection(ctx context.Context, t pool.ConnectionType, fn func(ctx context.Context, conn any) error) (err error) {
	sc, err := m.AcquireScoped(ctx, t)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			sc.Release(fmt.Errorf("panic while using connection: %v", r))
			panic(r)
		}
		sc.Release(m.releaseCause(err))
	}()

	return fn(ctx, sc.Conn())
}

// releaseCause is the error a ScopedConnection is released with after fn
// returned err.
func (m *Manager) releaseCause(err error) error {
	if err != nil && m.benign != nil && m.benign(err) {
		return nil
	}
	return err
}

// Use is WithConnection with the raw handle asserted to T. A handle of the
// wrong type is released cleanly and reported as an internal error.
//
//	err := manager.Use(ctx, m, "primary-db", func(ctx context.Context, conn *pgx.Conn) error {
//		_, err := conn.Exec(ctx, "SELECT 1")
//		return err
//	})
func Use[T any](ctx context.Context, m *Manager, t pool.ConnectionType, fn func(ctx context.Context, conn T) error) error {
	var mismatch error
	err := m.WithConnection(ctx, t, func(ctx context.Context, raw any) error {
		conn, ok := raw.(T)
		if !ok {
			mismatch = errors.Newf(errors.ErrorTypeInternal, "connection handle is %T, not %T", raw, conn).
				WithDetail("connection_type", string(t))
			return nil
		}
		return fn(ctx, conn)
	})
	if mismatch != nil {
		return mismatch
	}
	return err
}
