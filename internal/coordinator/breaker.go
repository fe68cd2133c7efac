package coordinator

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's current disposition.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	default:
		return "half_open"
	}
}

// breaker is a circuit breaker over signal emission. It opens after
// maxFailures consecutive failures within window, rejects everything for
// cooldown, then half-opens to let a single probe through. State transitions
// are atomic with respect to concurrent success/failure reporting.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	firstFail   time.Time
	openedAt    time.Time
	probing     bool
	maxFailures int
	window      time.Duration
	cooldown    time.Duration
}

func newBreaker(maxFailures int, window, cooldown time.Duration) *breaker {
	return &breaker{
		maxFailures: maxFailures,
		window:      window,
		cooldown:    cooldown,
	}
}

// allow reports whether a new signal may proceed right now.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probing = false
		fallthrough
	default: // half-open: admit one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// success records a processed signal; a half-open probe success closes the
// breaker and resets the failure count.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.state = breakerClosed
	}
	b.failures = 0
	b.probing = false
}

// failure records a processing failure; enough failures within the window
// open the breaker, as does a failed half-open probe.
func (b *breaker) failure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		b.probing = false
		return
	}
	if b.failures == 0 || now.Sub(b.firstFail) > b.window {
		b.failures = 0
		b.firstFail = now
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = 0
	}
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
