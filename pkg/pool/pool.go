package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/connmgr/pkg/circuit"
	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/errors"
	"github.com/ajitpratap0/connmgr/pkg/metrics"
)

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = 100 * time.Millisecond

	tracerName = "github.com/ajitpratap0/connmgr/pkg/pool"
)

// destroy reasons, used as metric labels
const (
	reasonIdleTimeout   = "idle_timeout"
	reasonInvalid       = "invalid"
	reasonReleasedError = "released_error"
	reasonOverflow      = "overflow"
	reasonShutdown      = "shutdown"
)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithBreaker supplies the circuit breaker instead of building one from the
// pool config.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Pool) {
		p.breaker = b
	}
}

// Pool is a bounded set of connections to one backend. Bookkeeping (the idle
// slice, the active set and the pending count) is guarded by mu; factory I/O
// always runs outside it, dispatched through a semaphore of
// cfg.IOConcurrency() slots.
//
// Invariant: len(idle) + len(active) + pending <= cfg.MaxSize.
type Pool struct {
	connType ConnectionType
	cfg      config.PoolConfig
	factory  ResourceFactory
	breaker  *circuit.Breaker
	logger   *zap.Logger
	recorder *metrics.PoolRecorder
	tracer   trace.Tracer
	io       *semaphore.Weighted
	monitor  *HealthMonitor
	probes   singleflight.Group // reserved-slot health probes

	mu          sync.Mutex
	idle        []*PooledConnection // most recently used last
	active      map[*PooledConnection]struct{}
	pending     int
	waitCh      chan struct{} // closed and replaced whenever capacity frees up
	initialized bool
	closed      bool
	shadow      *PooledConnection
	lastHealth  HealthCheckResult

	created   atomic.Int64
	destroyed atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	timeouts  atomic.Int64
}

// New builds a pool. It validates cfg and does no I/O; call Initialize to
// open min_size connections and start the health monitor.
func New(connType ConnectionType, cfg config.PoolConfig, factory ResourceFactory, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pool config").
			WithDetail("connection_type", string(connType))
	}
	if factory == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "resource factory is required").
			WithDetail("connection_type", string(connType))
	}

	p := &Pool{
		connType:   connType,
		cfg:        cfg,
		factory:    factory,
		logger:     zap.NewNop(),
		recorder:   metrics.ForPool(string(connType)),
		tracer:     otel.Tracer(tracerName),
		io:         semaphore.NewWeighted(int64(cfg.IOConcurrency())),
		active:     make(map[*PooledConnection]struct{}),
		waitCh:     make(chan struct{}),
		lastHealth: HealthCheckResult{Status: StatusUnknown},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(
		zap.String("component", "pool"),
		zap.String("connection_type", string(connType)))

	if p.breaker == nil {
		p.breaker = circuit.New(cfg.CircuitFailureThreshold, cfg.CircuitRecoveryTimeout,
			circuit.WithLogger(p.logger),
			circuit.WithStateListener(func(_, to circuit.State) {
				p.recorder.CircuitChanged(int(to), to.String())
			}))
	}
	p.monitor = newHealthMonitor(p)
	p.recorder.HealthChecked(int(StatusUnknown), 0)

	return p, nil
}

// Type returns the pool's connection type.
func (p *Pool) Type() ConnectionType { return p.connType }

// Config returns the pool configuration.
func (p *Pool) Config() config.PoolConfig { return p.cfg }

// Breaker returns the pool's circuit breaker.
func (p *Pool) Breaker() *circuit.Breaker { return p.breaker }

// Monitor returns the pool's health monitor.
func (p *Pool) Monitor() *HealthMonitor { return p.monitor }

// Initialize opens min_size connections and starts the health monitor. Partial
// failures are logged; an error is returned only when no connection could be
// opened. The monitor is started either way so the pool can heal itself.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New(errors.ErrorTypePoolClosed, "pool is closed").
			WithDetail("connection_type", string(p.connType))
	}
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.initialized = true
	want := p.cfg.MinSize - p.totalLocked()
	if want < 0 {
		want = 0
	}
	p.pending += want
	p.mu.Unlock()

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		errs    error
		success atomic.Int64
	)
	for i := 0; i < want; i++ {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
			defer cancel()
			if _, err := p.createConn(cctx, false); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
				return nil
			}
			success.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	p.monitor.Start()

	if errs != nil {
		p.logger.Warn("some connections failed to open during initialization",
			zap.Int64("opened", success.Load()),
			zap.Int("wanted", want),
			zap.Error(errs))
		if success.Load() == 0 && want > 0 {
			return errors.Wrap(errs, errors.ErrorTypeConnectionCreate, "no connection could be opened").
				WithDetail("connection_type", string(p.connType))
		}
	}

	p.logger.Info("pool initialized",
		zap.Int("idle", p.Metrics().Idle),
		zap.Int("min_size", p.cfg.MinSize),
		zap.Int("max_size", p.cfg.MaxSize))
	return nil
}

// Acquire borrows a connection. It fails immediately with a circuit-open
// error while the breaker rejects work, and with a pool-exhausted error when
// no slot frees up within connection_timeout. The returned connection must
// be handed back with Release or Invalidate.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	ctx, span := p.tracer.Start(ctx, "pool.acquire",
		trace.WithAttributes(attribute.String("connection_type", string(p.connType))))
	defer span.End()

	timer := metrics.NewTimer()
	conn, result, err := p.acquire(ctx)
	p.recorder.Acquired(result, timer.Stop())

	span.SetAttributes(attribute.String("result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return conn, err
}

func (p *Pool) acquire(parent context.Context) (*PooledConnection, string, error) {
	if p.isClosed() {
		return nil, metrics.ResultError, p.closedError()
	}
	if !p.breaker.CanExecute() {
		return nil, metrics.ResultCircuitOpen, errors.New(errors.ErrorTypeCircuitOpen, "circuit breaker is open").
			WithDetail("connection_type", string(p.connType)).
			WithDetail("retry_after", p.breaker.Snapshot().NextRetryTime)
	}

	ctx, cancel := context.WithTimeout(parent, p.cfg.ConnectionTimeout)
	defer cancel()

	backoff := minBackoff
	var createErr error
	for {
		conn, reserved, wait, err := p.takeOrReserve()
		if err != nil {
			return nil, metrics.ResultError, err
		}
		if conn != nil {
			p.hits.Add(1)
			return conn, metrics.ResultHit, nil
		}
		if reserved {
			conn, err := p.createConn(ctx, true)
			if err == nil {
				p.misses.Add(1)
				return conn, metrics.ResultMiss, nil
			}
			if !errors.IsType(err, errors.ErrorTypePoolExhausted) {
				createErr = err
			}
			if ctx.Err() == nil {
				if p.breaker.State() == circuit.StateOpen {
					return nil, metrics.ResultCircuitOpen, errors.Wrap(err, errors.ErrorTypeCircuitOpen,
						"circuit breaker opened while creating connection").
						WithDetail("connection_type", string(p.connType))
				}
			}
		}

		t := time.NewTimer(backoff)
		select {
		case <-wait:
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()

		if ctx.Err() != nil {
			if parent.Err() != nil {
				return nil, metrics.ResultError, parent.Err()
			}
			if createErr != nil {
				return nil, metrics.ResultError, errors.Wrap(createErr, errors.ErrorTypeConnectionCreate,
					"could not create connection within connection_timeout").
					WithDetail("connection_type", string(p.connType))
			}
			p.timeouts.Add(1)
			return nil, metrics.ResultExhausted, errors.Newf(errors.ErrorTypePoolExhausted,
				"no connection available within %s", p.cfg.ConnectionTimeout).
				WithDetail("connection_type", string(p.connType)).
				WithDetail("max_size", p.cfg.MaxSize)
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// takeOrReserve pops a fresh idle connection or, failing that, reserves a
// creation slot when capacity allows. Expired idle connections met on the
// way are destroyed. wait is closed when capacity next changes.
func (p *Pool) takeOrReserve() (conn *PooledConnection, reserved bool, wait <-chan struct{}, err error) {
	var expired []*PooledConnection

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, nil, p.closedError()
	}

	now := time.Now()
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle[len(p.idle)-1] = nil
		p.idle = p.idle[:len(p.idle)-1]
		if now.Sub(c.lastUsed) > p.cfg.IdleTimeout {
			expired = append(expired, c)
			continue
		}
		c.inUse = true
		c.lastUsed = now
		c.useCount++
		p.active[c] = struct{}{}
		conn = c
		break
	}
	if conn == nil && p.totalLocked() < p.cfg.MaxSize {
		p.pending++
		reserved = true
	}
	if len(expired) > 0 {
		p.broadcastLocked()
	}
	wait = p.waitCh
	p.publishLocked()
	p.mu.Unlock()

	p.destroyAll(expired, reasonIdleTimeout)
	return conn, reserved, wait, nil
}

// createConn opens a connection for a slot already reserved in p.pending.
// With borrow set the connection goes straight to the active set, otherwise
// to idle. If ctx ends before the factory returns, the late result is still
// adopted into the idle set (or closed) so nothing leaks.
func (p *Pool) createConn(ctx context.Context, borrow bool) (*PooledConnection, error) {
	raw, handedOff, err := p.dispatchCreate(ctx, func(raw any, err error) {
		if err != nil {
			p.unreserve()
			p.breaker.RecordFailure()
			p.logger.Warn("connection create failed after its caller gave up", zap.Error(err))
			return
		}
		p.logger.Debug("adopting connection created after its caller gave up")
		_, _ = p.finishCreate(raw, false)
	})
	switch {
	case err == nil:
		return p.finishCreate(raw, borrow)
	case handedOff:
		// the late handler owns the reservation now
		return nil, errors.Wrap(err, errors.ErrorTypeConnectionCreate, "factory create did not finish in time").
			WithDetail("connection_type", string(p.connType))
	case errors.IsType(err, errors.ErrorTypePoolExhausted):
		// no I/O slot; the backend was never asked
		p.unreserve()
		return nil, err
	default:
		p.unreserve()
		p.breaker.RecordFailure()
		p.logger.Warn("connection create failed", zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrorTypeConnectionCreate, "factory create failed").
			WithDetail("connection_type", string(p.connType))
	}
}

// dispatchCreate runs factory.Create on the bounded I/O dispatcher. When ctx
// ends while the factory is still running it returns handedOff and passes
// the eventual result to late.
func (p *Pool) dispatchCreate(ctx context.Context, late func(raw any, err error)) (raw any, handedOff bool, err error) {
	if err := p.io.Acquire(ctx, 1); err != nil {
		return nil, false, errors.Wrap(err, errors.ErrorTypePoolExhausted, "timed out waiting for an I/O slot").
			WithDetail("connection_type", string(p.connType))
	}

	type result struct {
		raw any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.io.Release(1)
		raw, err := p.factory.Create(ctx)
		done <- result{raw: raw, err: err}
	}()

	select {
	case r := <-done:
		return r.raw, false, r.err
	case <-ctx.Done():
		go func() {
			r := <-done
			late(r.raw, r.err)
		}()
		return nil, true, ctx.Err()
	}
}

// finishCreate moves a freshly created connection out of pending.
func (p *Pool) finishCreate(raw any, borrow bool) (*PooledConnection, error) {
	now := time.Now()
	c := &PooledConnection{raw: raw, createdAt: now, lastUsed: now}

	p.mu.Lock()
	p.pending--
	if p.closed {
		p.broadcastLocked()
		p.mu.Unlock()
		p.created.Add(1)
		p.destroy(c, reasonShutdown)
		return nil, p.closedError()
	}
	if borrow {
		c.inUse = true
		c.useCount = 1
		p.active[c] = struct{}{}
	} else {
		p.idle = append(p.idle, c)
		p.broadcastLocked()
	}
	p.publishLocked()
	p.mu.Unlock()

	p.created.Add(1)
	p.recorder.Created()
	p.logger.Debug("connection created", zap.Bool("borrowed", borrow))
	return c, nil
}

// Release returns a borrowed connection. It is validated outside the lock;
// a healthy connection goes back to idle and counts as a success for the
// circuit breaker, an unhealthy one is destroyed and counts as a failure.
// Validation failures are never reported to the caller.
func (p *Pool) Release(conn *PooledConnection) {
	p.release(conn)
}

// release reports whether conn passed validation.
func (p *Pool) release(conn *PooledConnection) bool {
	if conn == nil {
		return false
	}

	p.mu.Lock()
	_, owned := p.active[conn]
	p.mu.Unlock()
	if !owned {
		p.logger.Debug("release of a connection the pool no longer tracks")
		return false
	}

	vctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	valid, probed := p.validate(vctx, conn)
	cancel()

	now := time.Now()
	p.mu.Lock()
	if _, ok := p.active[conn]; !ok {
		// shut down while validating; already closed
		p.mu.Unlock()
		return valid
	}
	delete(p.active, conn)
	conn.inUse = false

	reason := ""
	switch {
	case !valid:
		reason = reasonInvalid
	case p.closed:
		reason = reasonShutdown
	case now.Sub(conn.lastUsed) > p.cfg.IdleTimeout:
		reason = reasonIdleTimeout
	case p.totalLocked() >= p.cfg.MaxSize:
		reason = reasonOverflow
	default:
		conn.lastUsed = now
		p.idle = append(p.idle, conn)
	}
	p.broadcastLocked()
	p.publishLocked()
	p.mu.Unlock()

	if reason != "" {
		p.destroy(conn, reason)
	}

	switch {
	case valid:
		p.breaker.RecordSuccess()
	case probed:
		p.breaker.RecordFailure()
		err := errors.New(errors.ErrorTypeConnectionInvalid, "connection failed validation on release").
			WithDetail("connection_type", string(p.connType))
		p.logger.Warn("destroyed invalid connection", zap.Error(err))
	}
	return valid
}

// Invalidate destroys a borrowed connection whose use failed. It is never
// returned to idle and counts as a circuit breaker failure.
func (p *Pool) Invalidate(conn *PooledConnection, cause error) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	_, owned := p.active[conn]
	if owned {
		delete(p.active, conn)
		conn.inUse = false
		p.broadcastLocked()
		p.publishLocked()
	}
	p.mu.Unlock()
	if !owned {
		return
	}

	p.destroy(conn, reasonReleasedError)
	p.breaker.RecordFailure()
	p.logger.Warn("connection invalidated after failed use", zap.Error(cause))
}

// validate probes conn on the I/O dispatcher. probed is false when no I/O
// slot could be obtained in time; the connection is then treated as invalid
// without blaming the backend.
func (p *Pool) validate(ctx context.Context, conn *PooledConnection) (valid, probed bool) {
	if err := p.io.Acquire(ctx, 1); err != nil {
		return false, false
	}
	defer p.io.Release(1)
	return p.factory.Validate(ctx, conn.raw), true
}

// SweepIdle destroys idle connections unused for longer than idle_timeout
// and returns how many were removed.
func (p *Pool) SweepIdle() int {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	keep := make([]*PooledConnection, 0, len(p.idle))
	var expired []*PooledConnection
	for _, c := range p.idle {
		if now.Sub(c.lastUsed) > p.cfg.IdleTimeout {
			expired = append(expired, c)
		} else {
			keep = append(keep, c)
		}
	}
	p.idle = keep
	if len(expired) > 0 {
		p.broadcastLocked()
		p.publishLocked()
	}
	p.mu.Unlock()

	p.destroyAll(expired, reasonIdleTimeout)
	if len(expired) > 0 {
		p.logger.Info("cleaned up idle connections",
			zap.Int("cleaned", len(expired)),
			zap.Int("remaining_idle", len(keep)))
	}
	return len(expired)
}

// Replenish tops the pool up toward min_size with idle connections and
// returns how many were opened. It does nothing unless the circuit is
// closed; recovery is left to the half-open trial.
func (p *Pool) Replenish(ctx context.Context) int {
	if p.breaker.State() != circuit.StateClosed {
		return 0
	}

	opened := 0
	for {
		p.mu.Lock()
		if p.closed || p.totalLocked() >= p.cfg.MinSize {
			p.mu.Unlock()
			break
		}
		p.pending++
		p.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		_, err := p.createConn(cctx, false)
		cancel()
		if err != nil {
			p.logger.Warn("replenish failed", zap.Error(err))
			break
		}
		opened++
	}
	if opened > 0 {
		p.logger.Info("replenished pool", zap.Int("opened", opened))
	}
	return opened
}

// Metrics returns a snapshot of the pool.
func (p *Pool) Metrics() PoolMetrics {
	snap := p.breaker.Snapshot()

	p.mu.Lock()
	m := PoolMetrics{
		ConnectionType:  p.connType,
		Active:          len(p.active),
		Idle:            len(p.idle),
		Pending:         p.pending,
		MinSize:         p.cfg.MinSize,
		MaxSize:         p.cfg.MaxSize,
		Health:          p.lastHealth.Status,
		LastHealthCheck: p.lastHealth.CheckedAt,
	}
	p.mu.Unlock()

	m.CircuitState = snap.State
	m.ConsecutiveFailures = snap.ConsecutiveFailures
	m.CircuitRejections = snap.Rejected
	m.Created = p.created.Load()
	m.Destroyed = p.destroyed.Load()
	m.Hits = p.hits.Load()
	m.Misses = p.misses.Load()
	m.Timeouts = p.timeouts.Load()
	return m
}

// Health returns the result of the latest health check.
func (p *Pool) Health() HealthCheckResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHealth
}

// Shutdown stops the health monitor and closes every idle, borrowed and
// shadow connection. Close errors are logged and swallowed. It is
// idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.broadcastLocked()
	p.mu.Unlock()

	p.monitor.Stop(ctx)

	p.mu.Lock()
	conns := make([]*PooledConnection, 0, len(p.idle)+len(p.active)+1)
	conns = append(conns, p.idle...)
	for c := range p.active {
		conns = append(conns, c)
	}
	if p.shadow != nil {
		conns = append(conns, p.shadow)
		p.shadow = nil
	}
	borrowed := len(p.active)
	p.idle = nil
	p.active = make(map[*PooledConnection]struct{})
	p.publishLocked()
	p.mu.Unlock()

	p.destroyAll(conns, reasonShutdown)

	if s, ok := p.factory.(Shutdowner); ok {
		if err := s.Shutdown(ctx); err != nil {
			p.logger.Warn("factory shutdown failed", zap.Error(err))
		}
	}

	p.logger.Info("pool shut down",
		zap.Int("closed", len(conns)),
		zap.Int("borrowed_at_shutdown", borrowed))
	return nil
}

func (p *Pool) destroyAll(conns []*PooledConnection, reason string) {
	for _, c := range conns {
		p.destroy(c, reason)
	}
}

func (p *Pool) destroy(c *PooledConnection, reason string) {
	p.safeClose(c.raw)
	p.destroyed.Add(1)
	p.recorder.Destroyed(reason)
	p.logger.Debug("connection destroyed",
		zap.String("reason", reason),
		zap.Duration("age", time.Since(c.createdAt)),
		zap.Int64("use_count", c.useCount))
}

func (p *Pool) safeClose(raw any) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while closing connection", zap.Any("panic", r))
		}
	}()
	p.factory.Close(raw)
}

func (p *Pool) unreserve() {
	p.mu.Lock()
	p.pending--
	p.broadcastLocked()
	p.mu.Unlock()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) closedError() error {
	return errors.New(errors.ErrorTypePoolClosed, "pool is closed").
		WithDetail("connection_type", string(p.connType))
}

// totalLocked must be called with mu held.
func (p *Pool) totalLocked() int {
	return len(p.idle) + len(p.active) + p.pending
}

// broadcastLocked wakes every waiter; must be called with mu held.
func (p *Pool) broadcastLocked() {
	close(p.waitCh)
	p.waitCh = make(chan struct{})
}

// publishLocked must be called with mu held.
func (p *Pool) publishLocked() {
	p.recorder.SetConnections(len(p.active), len(p.idle))
}
