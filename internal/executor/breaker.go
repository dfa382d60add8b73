// Package executor provides the resilient execution layer: per-provider
// circuit breaking, token-bucket rate limiting, retry with exponential
// backoff, cost accounting, and ordered fallback across a provider chain.
package executor

import (
	"sync"
	"time"
)

// CircuitState is the state of a provider's circuit breaker.
type CircuitState string

const (
	// StateClosed admits all calls.
	StateClosed CircuitState = "closed"
	// StateOpen rejects all calls until the open timeout elapses.
	StateOpen CircuitState = "open"
	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen CircuitState = "half-open"
)

// CircuitBreaker is the per-provider failure-isolation state machine.
// It is owned by the executor that dispatches to the provider and is
// never mutated from outside; all transitions go through Allow,
// RecordSuccess and RecordFailure.
type CircuitBreaker struct {
	mu sync.Mutex

	state         CircuitState
	failures      int
	lastFailure   time.Time
	trialInFlight bool

	threshold   int
	openTimeout time.Duration

	// onTransition is called with the lock held whenever the state
	// changes. Must not call back into the breaker.
	onTransition func(from, to CircuitState)

	// now is injectable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker with the given consecutive
// failure threshold and open timeout.
func NewCircuitBreaker(threshold int, openTimeout time.Duration, onTransition func(from, to CircuitState)) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	if onTransition == nil {
		onTransition = func(CircuitState, CircuitState) {}
	}
	return &CircuitBreaker{
		state:        StateClosed,
		threshold:    threshold,
		openTimeout:  openTimeout,
		onTransition: onTransition,
		now:          time.Now,
	}
}

// transition moves to a new state. Caller must hold the lock.
func (b *CircuitBreaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.onTransition(from, to)
}

// Allow reports whether a call may proceed. When the breaker is open and
// the open timeout has elapsed, it transitions to half-open and admits
// exactly one trial call; concurrent callers see false until that trial
// resolves.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.openTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// ReleaseTrial gives back a half-open trial slot that Allow granted but
// the caller never used (e.g. the rate limiter had no token). Without
// this the single trial slot would leak and the breaker could never
// close again.
func (b *CircuitBreaker) ReleaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// RecordSuccess notes a successful call. A half-open trial success
// closes the circuit and zeroes the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure notes a retryable failure. Reaching the threshold opens
// the circuit; a failed half-open trial reopens it and restarts the
// open timeout.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
