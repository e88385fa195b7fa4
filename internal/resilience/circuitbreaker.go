// Package resilience provides circuit breaker and provider failover primitives.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a speech-to-text backend that keeps failing. [FallbackGroup]
// composes several instances of one provider type, each behind its own
// breaker, so a failing primary is bypassed in favour of healthy fallbacks.
// [STTFallback] applies this to [stt.Transcriber].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log messages and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: [DefaultMaxFailures].
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it admits
	// probes. Default: [DefaultResetTimeout].
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: [DefaultHalfOpenMax].
	HalfOpenMax int

	// Ignore, when set, classifies errors that pass through without counting
	// as a success or a failure (for example a cancelled context).
	Ignore func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with the package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax probes are in flight or completed before the breaker decides.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var transitions []transition
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		transitions = append(transitions, cb.setState(StateHalfOpen))
		cb.probes, cb.probeSuccesses = 0, 0
	}
	switch {
	case cb.state == StateOpen,
		cb.state == StateHalfOpen && cb.probes >= cb.cfg.HalfOpenMax:
		cb.mu.Unlock()
		cb.notify(transitions)
		return ErrCircuitOpen
	}
	probe := cb.state == StateHalfOpen
	if probe {
		cb.probes++
	}
	cb.mu.Unlock()
	cb.notify(transitions)

	err := fn()

	cb.mu.Lock()
	transitions = transitions[:0]
	switch {
	case err != nil && cb.cfg.Ignore != nil && cb.cfg.Ignore(err):
		if probe {
			cb.probes--
		}
	case err != nil:
		if t, ok := cb.recordFailure(probe); ok {
			transitions = append(transitions, t)
		}
	default:
		if t, ok := cb.recordSuccess(probe); ok {
			transitions = append(transitions, t)
		}
	}
	cb.mu.Unlock()
	cb.notify(transitions)
	return err
}

type transition struct{ from, to State }

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	return t
}

func (cb *CircuitBreaker) notify(ts []transition) {
	for _, t := range ts {
		slog.Info("circuit breaker state change", "name", cb.cfg.Name, "from", t.from, "to", t.to)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
		}
	}
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) (transition, bool) {
	if probe {
		cb.openedAt = cb.cfg.Now()
		cb.consecutiveFail = cb.cfg.MaxFailures
		return cb.setState(StateOpen), true
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		return cb.setState(StateOpen), true
	}
	return transition{}, false
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) (transition, bool) {
	if !probe {
		cb.consecutiveFail = 0
		return transition{}, false
	}
	if cb.state != StateHalfOpen {
		// Another probe already re-opened the breaker.
		return transition{}, false
	}
	cb.probeSuccesses++
	if cb.probeSuccesses >= cb.cfg.HalfOpenMax {
		cb.consecutiveFail = 0
		cb.probes, cb.probeSuccesses = 0, 0
		return cb.setState(StateClosed), true
	}
	return transition{}, false
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var ts []transition
	if cb.state != StateClosed {
		ts = append(ts, cb.setState(StateClosed))
	}
	cb.consecutiveFail = 0
	cb.probes, cb.probeSuccesses = 0, 0
	cb.mu.Unlock()
	cb.notify(ts)
}
