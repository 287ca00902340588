// Package breaker implements the three-state circuit breaker guarding the
// AI advisor dependency, plus a secondary gobreaker-based
// health breaker for ambient downstream calls (health.go).
package breaker

import (
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker's thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures in Closed before tripping
	SuccessThreshold int           // consecutive successes in HalfOpen before closing
	Cooldown         time.Duration // time Open holds before allowing a probe
}

// DefaultConfig matches spec §4.B's default values.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 3, Cooldown: 30 * time.Second}
}

// Breaker is a mutex-guarded, totally-ordered state machine. Every exported
// method takes the lock for its entire duration so no caller observes an
// intermediate state (I5).
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state             State
	consecutiveFails  int
	consecutiveOK     int
	openedAt          time.Time
	forcedOpen        bool
	forcedClosed      bool
	halfOpenProbeSent bool
}

// New creates a Breaker starting in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// Allow reports whether a call should proceed. It performs the Open->HalfOpen
// transition when the cooldown has elapsed, admitting exactly one probe call
// at a time in HalfOpen.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.forcedOpen {
		return false
	}
	if b.forcedClosed {
		return true
	}

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.state = HalfOpen
			b.consecutiveOK = 0
			b.halfOpenProbeSent = true
			return true
		}
		return false
	case HalfOpen:
		if !b.halfOpenProbeSent {
			b.halfOpenProbeSent = true
			return true
		}
		// Concurrent probe callers are denied; the in-flight probe decides
		// the next transition.
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFails = 0
	case HalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveFails = 0
			b.consecutiveOK = 0
		}
		// Admit the next probe regardless of whether this one closed the
		// breaker; a HalfOpen->Closed transition still leaves Allow()
		// correct since Closed always admits.
		b.halfOpenProbeSent = false
	case Open:
		// A success cannot be observed while Open short-circuits calls.
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	case Open:
		// already open
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFails = 0
	b.consecutiveOK = 0
	b.halfOpenProbeSent = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forcedOpen {
		return Open
	}
	if b.forcedClosed {
		return Closed
	}
	return b.state
}

// ForceOpen is the operator override described in §6 "Operational controls".
// It holds regardless of subsequent call outcomes until ForceClear is called.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = true
	b.forcedClosed = false
}

// ForceClose pins the breaker Closed, overriding the natural state machine.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedClosed = true
	b.forcedOpen = false
	b.state = Closed
	b.consecutiveFails = 0
	b.consecutiveOK = 0
}

// ForceClear removes any force override and resumes natural transitions from
// the Closed state.
func (b *Breaker) ForceClear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = false
	b.forcedClosed = false
	b.state = Closed
	b.consecutiveFails = 0
	b.consecutiveOK = 0
	b.halfOpenProbeSent = false
}

// ErrOpen is returned by callers that check Allow() themselves and want a
// uniform sentinel for "breaker currently rejects calls".
type ErrOpen struct{}

func (ErrOpen) Error() string { return "breaker open" }
