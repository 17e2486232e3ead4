package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/ajitpratap0/connmgr/pkg/errors"
)

// PoolConfig bounds and tunes a single backend pool. The zero value is not
// valid; start from DefaultPoolConfig.
type PoolConfig struct {
	// MinSize is the number of connections kept open even when idle
	MinSize int `mapstructure:"min_size" yaml:"min_size" json:"min_size"`
	// MaxSize caps idle plus borrowed connections
	MaxSize int `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	// ConnectionTimeout bounds how long Acquire may wait for a slot
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout" json:"connection_timeout"`
	// IdleTimeout evicts connections that sat unused for longer
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
	// HealthCheckInterval is the period of the background monitor
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval" json:"health_check_interval"`
	// CircuitFailureThreshold is the consecutive failure count that opens the breaker
	CircuitFailureThreshold int `mapstructure:"circuit_failure_threshold" yaml:"circuit_failure_threshold" json:"circuit_failure_threshold"`
	// CircuitRecoveryTimeout is how long the breaker stays open before a trial
	CircuitRecoveryTimeout time.Duration `mapstructure:"circuit_recovery_timeout" yaml:"circuit_recovery_timeout" json:"circuit_recovery_timeout"`
	// MaxConcurrentIO bounds in-flight create/validate calls; 0 means MaxSize
	MaxConcurrentIO int `mapstructure:"max_concurrent_io" yaml:"max_concurrent_io" json:"max_concurrent_io"`
	// ReserveHealthSlot gives the health check its own connection outside MaxSize
	ReserveHealthSlot bool `mapstructure:"reserve_health_slot" yaml:"reserve_health_slot" json:"reserve_health_slot"`
}

// DefaultPoolConfig returns production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:                 1,
		MaxSize:                 10,
		ConnectionTimeout:       10 * time.Second,
		IdleTimeout:             5 * time.Minute,
		HealthCheckInterval:     30 * time.Second,
		CircuitFailureThreshold: 5,
		CircuitRecoveryTimeout:  30 * time.Second,
	}
}

// Validate checks 1 <= MinSize <= MaxSize and that every duration and
// threshold is positive. Violations are ConfigErrors.
func (c PoolConfig) Validate() error {
	var problem string
	switch {
	case c.MinSize < 1:
		problem = fmt.Sprintf("min_size must be >= 1, got %d", c.MinSize)
	case c.MaxSize < c.MinSize:
		problem = fmt.Sprintf("max_size (%d) must be >= min_size (%d)", c.MaxSize, c.MinSize)
	case c.ConnectionTimeout <= 0:
		problem = "connection_timeout must be positive"
	case c.IdleTimeout <= 0:
		problem = "idle_timeout must be positive"
	case c.HealthCheckInterval <= 0:
		problem = "health_check_interval must be positive"
	case c.CircuitFailureThreshold <= 0:
		problem = "circuit_failure_threshold must be positive"
	case c.CircuitRecoveryTimeout <= 0:
		problem = "circuit_recovery_timeout must be positive"
	case c.MaxConcurrentIO < 0:
		problem = "max_concurrent_io cannot be negative"
	default:
		return nil
	}
	return errors.New(errors.ErrorTypeConfig, problem)
}

// IOConcurrency returns the effective bound on concurrent factory I/O.
func (c PoolConfig) IOConcurrency() int {
	if c.MaxConcurrentIO > 0 {
		return c.MaxConcurrentIO
	}
	return c.MaxSize
}

// withDefaults fills zero fields from DefaultPoolConfig. Negative values are
// left alone so Validate can reject them.
func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.MinSize == 0 {
		c.MinSize = d.MinSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = max(d.MaxSize, c.MinSize)
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.CircuitFailureThreshold == 0 {
		c.CircuitFailureThreshold = d.CircuitFailureThreshold
	}
	if c.CircuitRecoveryTimeout == 0 {
		c.CircuitRecoveryTimeout = d.CircuitRecoveryTimeout
	}
	return c
}

// BackendConfig describes one connection type: which driver backs it and how
// its pool is sized.
type BackendConfig struct {
	// Kind selects the factory, e.g. "postgres", "redis", "kafka"
	Kind string `mapstructure:"kind" yaml:"kind" json:"kind"`
	// DSN is the driver connection string; ${VAR} references are expanded on load
	DSN string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	// Options carries driver-specific settings (keys are lower-cased by the loader)
	Options map[string]string `mapstructure:"options" yaml:"options,omitempty" json:"options,omitempty"`
	// Pool sizes and tunes the pool
	Pool PoolConfig `mapstructure:"pool" yaml:"pool" json:"pool"`
}

// Option returns an option value or def when unset.
func (b BackendConfig) Option(key, def string) string {
	if v, ok := b.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level" json:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development" json:"development"`
	File        string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate" json:"sampling_rate"`
}

// Config is the top-level document read by the CLI.
type Config struct {
	Logging     LoggingConfig            `mapstructure:"logging" yaml:"logging" json:"logging"`
	Tracing     TracingConfig            `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	MetricsAddr string                   `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`
	Backends    map[string]BackendConfig `mapstructure:"backends" yaml:"backends" json:"backends"`
}

// NewConfig returns a Config with defaults and no backends.
func NewConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingConfig{
			ServiceName:  "connmgr",
			SamplingRate: 0.1,
		},
		MetricsAddr: ":9090",
		Backends:    make(map[string]BackendConfig),
	}
}

// Validate validates every backend.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one backend is required")
	}
	for _, name := range c.BackendNames() {
		b := c.Backends[name]
		if b.Kind == "" {
			return errors.New(errors.ErrorTypeConfig, "kind is required").WithDetail("backend", name)
		}
		if err := b.Pool.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("backend %s", name))
		}
	}
	return nil
}

// BackendNames returns backend names in sorted order.
func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
