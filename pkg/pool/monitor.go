package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor runs a pool's maintenance loop: every health_check_interval
// it sweeps expired idle connections, replenishes toward min_size and probes
// the backend. Stop interrupts the wait between ticks.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	mu        sync.Mutex
	ticks     int64
}

func newHealthMonitor(p *Pool) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		pool:     p,
		interval: p.cfg.HealthCheckInterval,
		logger:   p.logger.With(zap.String("component", "health_monitor")),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Calls after the first are no-ops.
func (m *HealthMonitor) Start() {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.run()
		m.logger.Debug("health monitor started", zap.Duration("interval", m.interval))
	})
}

// Stop signals the loop and waits for it to exit or for ctx to end.
func (m *HealthMonitor) Stop(ctx context.Context) {
	m.stopOnce.Do(m.cancel)

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}

	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn("health monitor did not stop in time", zap.Error(ctx.Err()))
	}
}

// Running reports whether the loop is active.
func (m *HealthMonitor) Running() bool {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Ticks returns how many maintenance passes have completed.
func (m *HealthMonitor) Ticks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

func (m *HealthMonitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("health monitor stopped")
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick runs one maintenance pass. A panic is recovered so a single bad pass
// never ends the loop.
func (m *HealthMonitor) tick() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health monitor tick panicked", zap.Any("panic", r))
		}
		m.mu.Lock()
		m.ticks++
		m.mu.Unlock()
	}()

	swept := m.pool.SweepIdle()
	opened := m.pool.Replenish(m.ctx)
	if m.ctx.Err() != nil {
		return
	}
	res := m.pool.CheckHealth(m.ctx)

	m.logger.Debug("maintenance pass",
		zap.Int("swept", swept),
		zap.Int("replenished", opened),
		zap.Stringer("health", res.Status))
}
