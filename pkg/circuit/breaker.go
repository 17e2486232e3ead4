// Package circuit provides the per-pool circuit breaker that fails fast while
// a backend looks down and re-admits traffic after a cooldown.
package circuit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker
type State int32

const (
	// StateClosed allows all requests to pass through
	StateClosed State = iota
	// StateOpen blocks all requests until the recovery timeout elapses
	StateOpen
	// StateHalfOpen admits a single trial to test if the backend has recovered
	StateHalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger.With(zap.String("component", "circuit_breaker"))
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateListener registers fn to be called after every transition. fn
// runs outside the breaker lock.
func WithStateListener(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// Breaker counts consecutive failures and opens once the threshold is hit.
// While open it rejects work until recoveryTimeout has passed since the last
// failure; the next caller is admitted as a half-open trial. A successful
// trial closes the circuit, a failed one reopens it and restarts the timer.
//
// Only one trial is admitted per recovery window. If a trial never reports
// back (for example its caller timed out on an exhausted pool), another one
// is admitted once a further recoveryTimeout has elapsed.
type Breaker struct {
	threshold       int
	recoveryTimeout time.Duration
	logger          *zap.Logger
	now             func() time.Time
	onChange        func(from, to State)

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
	trialInFlight   bool
	trialStarted    time.Time

	totalFailures  int64
	totalSuccesses int64
	rejected       int64
}

// New creates a closed breaker.
func New(threshold int, recoveryTimeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		logger:          zap.NewNop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastStateChange = b.now()
	return b
}

// CanExecute reports whether a new attempt may reach the backend.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()

	now := b.now()
	var from State
	changed := false
	allowed := false

	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if now.Sub(b.lastFailureTime) > b.recoveryTimeout {
			from, changed = b.transition(StateHalfOpen, now)
			b.trialInFlight = true
			b.trialStarted = now
			allowed = true
		}
	case StateHalfOpen:
		if !b.trialInFlight || now.Sub(b.trialStarted) > b.recoveryTimeout {
			b.trialInFlight = true
			b.trialStarted = now
			allowed = true
		}
	}
	if !allowed {
		b.rejected++
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateHalfOpen)
	}
	return allowed
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.totalSuccesses++
	b.failureCount = 0
	b.trialInFlight = false
	var from State
	changed := false
	if b.state != StateClosed {
		from, changed = b.transition(StateClosed, b.now())
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateClosed)
	}
}

// RecordFailure counts a failure; it opens the circuit at the threshold, or
// immediately when the failure ends a half-open trial.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	now := b.now()
	b.totalFailures++
	b.failureCount++
	b.lastFailureTime = now
	b.trialInFlight = false

	var from State
	changed := false
	if b.state != StateOpen && (b.state == StateHalfOpen || b.failureCount >= b.threshold) {
		from, changed = b.transition(StateOpen, now)
	}
	failures := b.failureCount
	b.mu.Unlock()

	if changed {
		b.logger.Warn("circuit breaker opened",
			zap.Int("consecutive_failures", failures),
			zap.Time("retry_after", now.Add(b.recoveryTimeout)))
		b.notify(from, StateOpen)
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitempty"`
	LastStateChange     time.Time `json:"last_state_change"`
	NextRetryTime       time.Time `json:"next_retry_time,omitempty"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	Rejected            int64     `json:"rejected"`
}

// Snapshot returns the current state along with counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failureCount,
		LastFailureTime:     b.lastFailureTime,
		LastStateChange:     b.lastStateChange,
		TotalFailures:       b.totalFailures,
		TotalSuccesses:      b.totalSuccesses,
		Rejected:            b.rejected,
	}
	if b.state == StateOpen {
		s.NextRetryTime = b.lastFailureTime.Add(b.recoveryTimeout)
	}
	return s
}

// transition must be called with mu held.
func (b *Breaker) transition(to State, now time.Time) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.lastStateChange = now
	return from, true
}

func (b *Breaker) notify(from, to State) {
	if to != StateOpen {
		b.logger.Info("circuit breaker "+to.String(), zap.String("from", from.String()))
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
