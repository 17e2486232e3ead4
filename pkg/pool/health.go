package pool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/circuit"
	"github.com/ajitpratap0/connmgr/pkg/errors"
)

// CheckHealth probes the backend once and records the result as the pool's
// current health.
//
// By default the probe borrows through the normal Acquire/Release path, so a
// saturated pool reports StatusDegraded with a pool-exhausted error. With
// ReserveHealthSlot set the probe uses a dedicated shadow connection kept
// outside max_size instead. Concurrent checks in that mode share one
// in-flight probe, so the shadow connection only ever has one user.
func (p *Pool) CheckHealth(ctx context.Context) HealthCheckResult {
	start := time.Now()

	var res HealthCheckResult
	if p.cfg.ReserveHealthSlot {
		v, _, _ := p.probes.Do(string(p.connType), func() (any, error) {
			return p.probeShadow(ctx), nil
		})
		res = v.(HealthCheckResult)
	} else {
		res = p.probeBorrowed(ctx)
	}
	res.Latency = time.Since(start)
	res.CheckedAt = time.Now()
	res.CircuitState = p.breaker.State()
	if res.Err != nil {
		res.Error = res.Err.Error()
	}

	p.mu.Lock()
	p.lastHealth = res
	p.mu.Unlock()
	p.recorder.HealthChecked(int(res.Status), res.Latency)

	fields := []zap.Field{
		zap.Stringer("status", res.Status),
		zap.Duration("latency", res.Latency),
		zap.Stringer("circuit_state", res.CircuitState),
	}
	if res.Status == StatusHealthy {
		p.logger.Debug("health check", fields...)
	} else {
		p.logger.Warn("health check", append(fields, zap.Error(res.Err))...)
	}
	return res
}

func (p *Pool) probeBorrowed(ctx context.Context) HealthCheckResult {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return HealthCheckResult{Status: statusForError(err), Err: err}
	}
	if !p.release(conn) {
		return HealthCheckResult{
			Status: StatusUnhealthy,
			Err: errors.New(errors.ErrorTypeConnectionInvalid, "health probe connection failed validation").
				WithDetail("connection_type", string(p.connType)),
		}
	}
	return HealthCheckResult{Status: p.statusForSuccess()}
}

func (p *Pool) probeShadow(ctx context.Context) HealthCheckResult {
	if p.isClosed() {
		return HealthCheckResult{Status: StatusUnhealthy, Err: p.closedError()}
	}
	if !p.breaker.CanExecute() {
		return HealthCheckResult{
			Status: StatusUnhealthy,
			Err: errors.New(errors.ErrorTypeCircuitOpen, "circuit breaker is open").
				WithDetail("connection_type", string(p.connType)),
		}
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	p.mu.Lock()
	shadow := p.shadow
	p.mu.Unlock()

	if shadow == nil {
		var err error
		if shadow, err = p.createShadow(cctx); err != nil {
			return HealthCheckResult{Status: StatusUnhealthy, Err: err}
		}
	}

	valid, probed := p.validate(cctx, shadow)
	if !probed {
		return HealthCheckResult{
			Status: StatusDegraded,
			Err: errors.New(errors.ErrorTypePoolExhausted, "no I/O slot for health probe").
				WithDetail("connection_type", string(p.connType)),
		}
	}
	if !valid {
		p.mu.Lock()
		if p.shadow == shadow {
			p.shadow = nil
		}
		p.mu.Unlock()
		p.destroy(shadow, reasonInvalid)
		p.breaker.RecordFailure()
		return HealthCheckResult{
			Status: StatusUnhealthy,
			Err: errors.New(errors.ErrorTypeConnectionInvalid, "health probe connection failed validation").
				WithDetail("connection_type", string(p.connType)),
		}
	}

	p.mu.Lock()
	shadow.lastUsed = time.Now()
	shadow.useCount++
	p.mu.Unlock()
	p.breaker.RecordSuccess()
	return HealthCheckResult{Status: p.statusForSuccess()}
}

// createShadow opens the health probe connection. It does not count against
// max_size.
func (p *Pool) createShadow(ctx context.Context) (*PooledConnection, error) {
	adopt := func(raw any) (*PooledConnection, bool) {
		now := time.Now()
		c := &PooledConnection{raw: raw, createdAt: now, lastUsed: now}
		p.mu.Lock()
		if p.closed || p.shadow != nil {
			p.mu.Unlock()
			return c, false
		}
		p.shadow = c
		p.mu.Unlock()
		p.created.Add(1)
		p.recorder.Created()
		return c, true
	}

	raw, handedOff, err := p.dispatchCreate(ctx, func(raw any, err error) {
		if err != nil {
			return
		}
		if c, ok := adopt(raw); !ok {
			p.safeClose(c.raw)
		}
	})
	if err != nil {
		if !handedOff && !errors.IsType(err, errors.ErrorTypePoolExhausted) {
			p.breaker.RecordFailure()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectionCreate, "could not open health probe connection").
			WithDetail("connection_type", string(p.connType))
	}

	c, ok := adopt(raw)
	if !ok {
		p.safeClose(c.raw)
		p.mu.Lock()
		existing, closed := p.shadow, p.closed
		p.mu.Unlock()
		if closed || existing == nil {
			return nil, p.closedError()
		}
		return existing, nil
	}
	p.logger.Debug("health probe connection created")
	return c, nil
}

// statusForSuccess grades a successful probe.
func (p *Pool) statusForSuccess() HealthStatus {
	if p.breaker.State() != circuit.StateClosed {
		return StatusDegraded
	}
	p.mu.Lock()
	total := p.totalLocked()
	p.mu.Unlock()
	if total < p.cfg.MinSize {
		return StatusDegraded
	}
	return StatusHealthy
}

func statusForError(err error) HealthStatus {
	if errors.IsType(err, errors.ErrorTypePoolExhausted) {
		return StatusDegraded
	}
	return StatusUnhealthy
}
