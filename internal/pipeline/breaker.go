package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/stager/internal/pipeline/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var BreakerTransitions = map[BreakerState][]BreakerState{
	BreakerClosed:   {BreakerOpen},
	BreakerOpen:     {BreakerHalfOpen},
	BreakerHalfOpen: {BreakerClosed, BreakerOpen},
}

// BreakerTransition records one state change.
type BreakerTransition struct {
	From      BreakerState
	To        BreakerState
	Reason    string
	Timestamp time.Time
}

// CircuitBreaker fails fast once an operation keeps failing, then probes
// for recovery after a cooldown.
//
// closed counts consecutive failures; at the threshold it opens. Open
// rejects calls with ErrCircuitOpen until the cooldown elapses, then one
// probe call runs half-open: success closes the breaker, failure reopens
// it and restarts the cooldown. The cycle repeats indefinitely.
type CircuitBreaker struct {
	failureThreshold int
	cooldown         time.Duration

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	stateCallback func(t BreakerTransition)
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            BreakerClosed,
	}
}

// Call runs op through the breaker. A rejected call returns ErrCircuitOpen
// without invoking op; otherwise op's result passes through unchanged.
func (cb *CircuitBreaker) Call(ctx context.Context, op Operation) (int64, error) {
	transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return 0, err
	}

	rows, err := op(ctx)
	cb.notify(cb.record(err))
	return rows, err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// SetStateChangeCallback registers a callback for state changes.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(t BreakerTransition)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.stateCallback = fn
}

// admit decides whether a call may proceed, moving open to half_open when
// the cooldown has elapsed.
func (cb *CircuitBreaker) admit() (*BreakerTransition, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return nil, nil
	}

	if time.Since(cb.lastFailure) > cb.cooldown {
		return cb.transitionLocked(BreakerHalfOpen, "cooldown elapsed"), nil
	}
	return nil, ErrCircuitOpen
}

// record applies an operation result to the breaker state.
func (cb *CircuitBreaker) record(err error) *BreakerTransition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		var t *BreakerTransition
		if cb.state == BreakerHalfOpen {
			t = cb.transitionLocked(BreakerClosed, "probe succeeded")
		}
		cb.failures = 0
		return t
	}

	cb.lastFailure = time.Now()
	if cb.state == BreakerHalfOpen {
		return cb.transitionLocked(BreakerOpen, "probe failed")
	}

	cb.failures++
	if cb.state == BreakerClosed && cb.failures >= cb.failureThreshold {
		return cb.transitionLocked(
			BreakerOpen,
			fmt.Sprintf("%d consecutive failures", cb.failures),
		)
	}
	return nil
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState, reason string) *BreakerTransition {
	t := &BreakerTransition{
		From:      cb.state,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	cb.state = to
	metrics.BreakerTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()
	metrics.BreakerState.Set(breakerStateValue(to))
	return t
}

func breakerStateValue(s BreakerState) float64 {
	switch s {
	case BreakerOpen:
		return 1
	case BreakerHalfOpen:
		return 2
	default:
		return 0
	}
}

// notify fires the state change callback outside the lock.
func (cb *CircuitBreaker) notify(t *BreakerTransition) {
	if t == nil {
		return
	}
	cb.mu.Lock()
	callback := cb.stateCallback
	cb.mu.Unlock()
	if callback != nil {
		callback(*t)
	}
}
