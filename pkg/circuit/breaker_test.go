package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, clock *fakeClock) *Breaker {
	return New(3, 2*time.Second, WithClock(clock.Now), WithLogger(zaptest.NewLogger(t)))
}

func TestBreakerStartsClosed(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	snap := b.Snapshot()
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, clock.Now().Add(2*time.Second), snap.NextRetryTime)
	assert.Equal(t, int64(1), snap.Rejected)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)
}

func TestBreakerHalfOpenAdmitsOneTrial(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clock.Advance(2 * time.Second)
	assert.False(t, b.CanExecute(), "window must strictly elapse")

	clock.Advance(time.Millisecond)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.CanExecute(), "only one trial per window")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
	assert.True(t, b.CanExecute())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clock.Advance(3 * time.Second)
	require.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	clock.Advance(time.Second)
	assert.False(t, b.CanExecute(), "timer restarts on failed trial")

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, b.CanExecute())
}

func TestBreakerAbandonedTrial(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clock.Advance(3 * time.Second)
	require.True(t, b.CanExecute())
	assert.False(t, b.CanExecute())

	clock.Advance(3 * time.Second)
	assert.True(t, b.CanExecute(), "a new trial is admitted after another window")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerStateListener(t *testing.T) {
	clock := newFakeClock()
	var transitions []State
	b := New(1, time.Second, WithClock(clock.Now), WithStateListener(func(_, to State) {
		transitions = append(transitions, to)
	}))

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	b.CanExecute()
	b.RecordSuccess()

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
