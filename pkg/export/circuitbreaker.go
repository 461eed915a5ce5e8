// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"sync"
	"time"
)

// CircuitState is the breaker position on the event export path.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // batches flow to the collector
	CircuitOpen                         // collector presumed down, batches short-circuit
	CircuitHalfOpen                     // probing whether the collector recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects the export manager from a collector that is
// down: after failureThreshold consecutive failed batch sends the
// breaker opens and further batches are dropped without dialing out.
// Once resetTimeout has passed a single probe batch is let through; its
// outcome decides whether the breaker closes again or re-opens.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	failureThreshold int
	resetTimeout     time.Duration
	lastFailureTime  time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// maybeProbe moves an open breaker to half-open once the reset timeout
// has elapsed. Caller holds cb.mu.
func (cb *CircuitBreaker) maybeProbe() {
	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		cb.state = CircuitHalfOpen
	}
}

// Allow reports whether the next batch send should be attempted. While
// open it returns false until the reset timeout elapses, then lets a
// probe through in the half-open state.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeProbe()
	return cb.state != CircuitOpen
}

// RecordSuccess notes a batch that reached the collector. Any breaker
// state collapses back to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
}

// RecordFailure notes a batch send that failed after retries. A failed
// probe re-opens the breaker immediately; in the closed state failures
// accumulate toward the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
	}
}

// State returns the current breaker position, advancing an expired open
// state to half-open first.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeProbe()
	return cb.state
}

// FailureCount returns the consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
