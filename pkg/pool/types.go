package pool

import (
	"time"

	"github.com/ajitpratap0/connmgr/pkg/circuit"
)

// ConnectionType identifies a backend, e.g. "primary-db" or "cache".
type ConnectionType string

// HealthStatus is derived per pool from the latest health check and the
// circuit state.
type HealthStatus int

const (
	// StatusUnknown is reported before the first check
	StatusUnknown HealthStatus = -1
	// StatusHealthy means the probe succeeded and the pool is at strength
	StatusHealthy HealthStatus = 0
	// StatusDegraded means the backend answers but the pool is saturated,
	// under min_size or probing in half-open
	StatusDegraded HealthStatus = 1
	// StatusUnhealthy means the probe failed or the circuit is open
	StatusUnhealthy HealthStatus = 2
)

// String returns the lower-case status name.
func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its name.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthCheckResult is the outcome of one health probe.
type HealthCheckResult struct {
	Status       HealthStatus  `json:"status"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
	Err          error         `json:"-"`
	CheckedAt    time.Time     `json:"checked_at"`
	CircuitState circuit.State `json:"circuit_state"`
}

// PoolMetrics is a point-in-time view of a pool.
type PoolMetrics struct {
	ConnectionType      ConnectionType `json:"connection_type"`
	Active              int            `json:"active"`
	Idle                int            `json:"idle"`
	Pending             int            `json:"pending"`
	MinSize             int            `json:"min_size"`
	MaxSize             int            `json:"max_size"`
	Health              HealthStatus   `json:"health"`
	LastHealthCheck     time.Time      `json:"last_health_check,omitempty"`
	CircuitState        circuit.State  `json:"circuit_state"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	CircuitRejections   int64          `json:"circuit_rejections"`
	Created             int64          `json:"created"`
	Destroyed           int64          `json:"destroyed"`
	Hits                int64          `json:"hits"`
	Misses              int64          `json:"misses"`
	Timeouts            int64          `json:"timeouts"`
}

// PooledConnection wraps a raw connection handle. It is owned by the pool and
// lent to exactly one caller between Acquire and Release.
type PooledConnection struct {
	raw       any
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
	useCount  int64
}

// Raw returns the driver handle, e.g. *pgx.Conn or *redis.Client.
func (c *PooledConnection) Raw() any { return c.raw }

// CreatedAt returns when the connection was opened.
func (c *PooledConnection) CreatedAt() time.Time { return c.createdAt }

// LastUsed returns when the connection was last borrowed or returned.
func (c *PooledConnection) LastUsed() time.Time { return c.lastUsed }

// InUse reports whether the connection is currently borrowed.
func (c *PooledConnection) InUse() bool { return c.inUse }

// UseCount returns how many times the connection has been borrowed.
func (c *PooledConnection) UseCount() int64 { return c.useCount }
