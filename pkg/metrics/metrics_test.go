package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPoolRecorder(t *testing.T) {
	rec := ForPool("metrics-test")

	rec.SetConnections(2, 3)
	rec.Created()
	rec.Created()
	rec.Destroyed("idle_timeout")
	rec.Acquired(ResultHit, time.Millisecond)
	rec.CircuitChanged(1, "open")
	rec.HealthChecked(0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(PoolConnections.WithLabelValues("metrics-test", "active")))
	assert.Equal(t, 3.0, testutil.ToFloat64(PoolConnections.WithLabelValues("metrics-test", "idle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(ConnectionsCreated.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectionsDestroyed.WithLabelValues("metrics-test", "idle_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Acquires.WithLabelValues("metrics-test", ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitState.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitTransitions.WithLabelValues("metrics-test", "open")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 2*time.Millisecond)
}
