package aiclient

import (
	"sync"
	"time"
)

// breakerState tracks the matching service's health.
type breakerState int

const (
	breakerClosed   breakerState = iota // normal operation
	breakerOpen                         // calls rejected immediately
	breakerHalfOpen                     // one probe allowed
)

// breaker is a circuit breaker guarding the matching service. A dead
// endpoint should cost one timeout, not one timeout per recovery tier
// per step.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	threshold   int
	resetAfter  time.Duration
	lastFailure time.Time
	now         func() time.Time // injectable for tests
}

func newBreaker(threshold int, resetAfter time.Duration) *breaker {
	return &breaker{
		threshold:  threshold,
		resetAfter: resetAfter,
		now:        time.Now,
	}
}

// allow reports whether a call may proceed. An open breaker past its
// reset timeout admits a single half-open probe.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && b.now().Sub(b.lastFailure) >= b.resetAfter {
		b.state = breakerHalfOpen
	}
	return b.state != breakerOpen
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	switch b.state {
	case breakerHalfOpen:
		b.state = breakerOpen
	case breakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = breakerOpen
		}
	}
}
