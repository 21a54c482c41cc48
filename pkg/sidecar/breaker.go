package sidecar

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wisbric/vigil/internal/telemetry"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

const (
	failureThreshold = 5
	resetTimeout     = 30 * time.Second
)

// breaker is a three-state circuit breaker gating only gRPC client
// construction, not individual RPCs. Transitions are serialized by mu:
// allow, recordSuccess and recordFailure all take it. The failure counter
// is an atomic.Int64.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    atomic.Int64
	lastFailure time.Time
}

// ErrCircuitOpen is returned by Allow when the breaker denies construction.
type ErrCircuitOpen struct {
	RetryAfter time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("ml sidecar circuit breaker open, retry after %s", e.RetryAfter)
}

// allow reports whether a new client construction attempt may proceed,
// transitioning Open→HalfOpen once the reset timeout has elapsed.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(b.lastFailure) >= resetTimeout {
			b.state = stateHalfOpen
			b.setGauge()
			return nil
		}
		return &ErrCircuitOpen{RetryAfter: resetTimeout - time.Since(b.lastFailure)}
	case stateHalfOpen:
		return nil
	default:
		return nil
	}
}

// recordSuccess clears the failure counter and closes the breaker.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures.Store(0)
	b.state = stateClosed
	b.setGauge()
}

// recordFailure increments the failure counter, opening the breaker once the
// threshold is reached (or immediately, from HalfOpen).
func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.setGauge()
		return
	}

	n := b.failures.Add(1)
	if n >= failureThreshold {
		b.state = stateOpen
		b.setGauge()
	}
}

// setGauge must be called with mu held.
func (b *breaker) setGauge() {
	switch b.state {
	case stateClosed:
		telemetry.CircuitBreakerState.Set(0)
	case stateHalfOpen:
		telemetry.CircuitBreakerState.Set(1)
	case stateOpen:
		telemetry.CircuitBreakerState.Set(2)
	}
}
