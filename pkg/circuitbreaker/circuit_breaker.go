// Package circuitbreaker guards calls to the external messaging engine. A
// run of failures opens the breaker and rejects calls immediately; after a
// cool-down a limited number of probe calls decide whether to close it again.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// probeCallBudget is how many calls half-open admits before deciding.
const probeCallBudget = 3

// CircuitBreaker tracks consecutive failures for one named dependency.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	coolDown    time.Duration

	mu          sync.Mutex
	state       State
	failures    uint32
	successes   uint32
	requests    uint32
	probeCalls  uint32
	lastFailure time.Time

	logger *logrus.Logger
}

// New creates a closed breaker with a default logger.
func New(name string, maxFailures uint32, coolDown time.Duration) *CircuitBreaker {
	return NewWithLogger(name, maxFailures, coolDown, logrus.New())
}

// NewWithLogger creates a closed breaker that logs state changes through the
// given logger.
func NewWithLogger(name string, maxFailures uint32, coolDown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		coolDown:    coolDown,
		state:       StateClosed,
		logger:      logger,
	}
}

// Execute runs fn if the breaker admits the call, folding the result into the
// breaker's state. A rejected call returns *CircuitBreakerError without
// invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return &CircuitBreakerError{Name: cb.name, State: cb.GetState()}
	}

	err := fn(ctx)
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// admit decides whether a call may proceed, moving open to half-open once the
// cool-down has elapsed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.requests++
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.coolDown {
			return false
		}
		cb.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if cb.probeCalls >= probeCallBudget {
			return false
		}
		cb.probeCalls++
		cb.requests++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= probeCallBudget {
		cb.state = StateClosed
		cb.failures = 0
		cb.probeCalls = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           cb.state.String(),
		}).Info("Circuit breaker closed after recovery")
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	// Any failure while probing reopens immediately.
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.maxFailures) {
		cb.state = StateOpen
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"failures":        cb.failures,
			"state":           cb.state.String(),
		}).Warn("Circuit breaker opened")
	}
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.probeCalls = 0
	cb.successes = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           cb.state.String(),
	}).Info("Circuit breaker half-open")
}

// GetState reports the breaker's position, surfacing the open-to-half-open
// transition once the cool-down has elapsed.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.coolDown {
		cb.toHalfOpen()
	}
	return cb.state
}

// Stats is a point-in-time view of the breaker's counters.
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	Requests        uint32
	Successes       uint32
	LastFailureTime time.Time
}

// GetStats returns the breaker's counters.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requests,
		Successes:       cb.successes,
		LastFailureTime: cb.lastFailure,
	}
}

// CircuitBreakerError is returned when a call is rejected without running.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError reports whether err is a breaker rejection.
func IsCircuitBreakerError(err error) bool {
	_, ok := err.(*CircuitBreakerError)
	return ok
}
