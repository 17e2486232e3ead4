package pool

import (
	"context"
	"io"
)

// ResourceFactory creates, probes and closes raw connections for one
// backend. Implementations perform I/O; the pool never calls them while its
// bookkeeping lock is held.
type ResourceFactory interface {
	// Create opens a new raw connection.
	Create(ctx context.Context) (any, error)
	// Validate is a fast liveness probe.
	Validate(ctx context.Context, conn any) bool
	// Close releases conn. It is best-effort and must not panic.
	Close(conn any)
}

// Shutdowner is implemented by factories that hold shared driver state
// (a *sql.DB, an SDK session) released when their pool shuts down.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// FactoryFuncs adapts plain functions to ResourceFactory. A nil ValidateFunc
// always reports healthy; a nil CloseFunc closes io.Closer handles.
type FactoryFuncs struct {
	CreateFunc   func(ctx context.Context) (any, error)
	ValidateFunc func(ctx context.Context, conn any) bool
	CloseFunc    func(conn any)
}

// Create implements ResourceFactory.
func (f FactoryFuncs) Create(ctx context.Context) (any, error) {
	return f.CreateFunc(ctx)
}

// Validate implements ResourceFactory.
func (f FactoryFuncs) Validate(ctx context.Context, conn any) bool {
	if f.ValidateFunc == nil {
		return true
	}
	return f.ValidateFunc(ctx, conn)
}

// Close implements ResourceFactory.
func (f FactoryFuncs) Close(conn any) {
	if f.CloseFunc != nil {
		f.CloseFunc(conn)
		return
	}
	if c, ok := conn.(io.Closer); ok {
		_ = c.Close()
	}
}
