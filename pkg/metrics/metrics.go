// Package metrics exports pool and circuit breaker state to Prometheus.
//
// Collectors are registered once on the default registry with promauto and
// labelled by connection_type, so any number of managers in one process share
// them. Components get a PoolRecorder bound to their label:
//
//	rec := metrics.ForPool("primary-db")
//	rec.Acquired(metrics.ResultHit, time.Since(start))
//	rec.SetConnections(active, idle)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Acquire results.
const (
	ResultHit         = "hit"
	ResultMiss        = "miss"
	ResultExhausted   = "exhausted"
	ResultCircuitOpen = "circuit_open"
	ResultError       = "error"
)

var (
	// PoolConnections tracks pooled connections by state (idle/active).
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connmgr_pool_connections",
			Help: "Number of pooled connections by state",
		},
		[]string{"connection_type", "state"},
	)

	// ConnectionsCreated counts successful factory creates.
	ConnectionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connmgr_pool_connections_created_total",
			Help: "Total number of connections created",
		},
		[]string{"connection_type"},
	)

	// ConnectionsDestroyed counts closed connections by reason.
	// Reasons: idle_timeout, invalid, released_error, overflow, shutdown
	ConnectionsDestroyed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connmgr_pool_connections_destroyed_total",
			Help: "Total number of connections destroyed",
		},
		[]string{"connection_type", "reason"},
	)

	// Acquires counts acquisitions by result.
	Acquires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connmgr_pool_acquires_total",
			Help: "Total number of acquire attempts by result",
		},
		[]string{"connection_type", "result"},
	)

	// AcquireDuration tracks how long callers waited for a connection.
	AcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connmgr_pool_acquire_duration_seconds",
			Help:    "Time spent acquiring a connection",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"connection_type"},
	)

	// CircuitState is 0 closed, 1 open, 2 half-open.
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connmgr_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"connection_type"},
	)

	// CircuitTransitions counts breaker state changes.
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connmgr_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"connection_type", "to"},
	)

	// HealthStatus is 0 healthy, 1 degraded, 2 unhealthy, -1 unknown.
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connmgr_pool_health_status",
			Help: "Pool health (0 healthy, 1 degraded, 2 unhealthy, -1 unknown)",
		},
		[]string{"connection_type"},
	)

	// HealthCheckDuration tracks health probe latency.
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connmgr_health_check_duration_seconds",
			Help:    "Health check latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connection_type"},
	)
)

// PoolRecorder records metrics for one connection type.
type PoolRecorder struct {
	connType       string
	idle, active   prometheus.Gauge
	created        prometheus.Counter
	acquireLatency prometheus.Observer
	circuit        prometheus.Gauge
	health         prometheus.Gauge
	healthLatency  prometheus.Observer
}

// ForPool returns a recorder bound to connType.
func ForPool(connType string) *PoolRecorder {
	return &PoolRecorder{
		connType:       connType,
		idle:           PoolConnections.WithLabelValues(connType, "idle"),
		active:         PoolConnections.WithLabelValues(connType, "active"),
		created:        ConnectionsCreated.WithLabelValues(connType),
		acquireLatency: AcquireDuration.WithLabelValues(connType),
		circuit:        CircuitState.WithLabelValues(connType),
		health:         HealthStatus.WithLabelValues(connType),
		healthLatency:  HealthCheckDuration.WithLabelValues(connType),
	}
}

// SetConnections publishes the current active and idle counts.
func (r *PoolRecorder) SetConnections(active, idle int) {
	r.active.Set(float64(active))
	r.idle.Set(float64(idle))
}

// Created counts one created connection.
func (r *PoolRecorder) Created() {
	r.created.Inc()
}

// Destroyed counts one destroyed connection.
func (r *PoolRecorder) Destroyed(reason string) {
	ConnectionsDestroyed.WithLabelValues(r.connType, reason).Inc()
}

// Acquired counts an acquire attempt and observes its latency.
func (r *PoolRecorder) Acquired(result string, waited time.Duration) {
	Acquires.WithLabelValues(r.connType, result).Inc()
	r.acquireLatency.Observe(waited.Seconds())
}

// CircuitChanged publishes a breaker transition.
func (r *PoolRecorder) CircuitChanged(state int, name string) {
	r.circuit.Set(float64(state))
	CircuitTransitions.WithLabelValues(r.connType, name).Inc()
}

// HealthChecked publishes a health result.
func (r *PoolRecorder) HealthChecked(status int, latency time.Duration) {
	r.health.Set(float64(status))
	r.healthLatency.Observe(latency.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
