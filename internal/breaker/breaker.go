// Package breaker implements the circuit breaker pattern for unreliable
// external dependencies (network links, remote servers).
//
// A breaker has three states:
//
//   - Closed: normal operation, attempts admitted
//   - Open: dependency failing, attempts refused
//   - HalfOpen: recovery timeout elapsed, exactly one probe admitted
//
// Usage:
//
//	br := breaker.New("mqtt", cfg)
//	if attempt, ok := br.Allow(); ok {
//		if err := call(); err != nil {
//			attempt.Failure()
//		} else {
//			attempt.Success()
//		}
//	}
//
// Admission hands out an Attempt so an outcome can only be recorded for an
// admitted attempt. Breakers never touch hardware or business data.
package breaker

import (
	"sync"
	"time"
)

// State is the admission state of a breaker.
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
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds, fixed at construction.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays Open before the next
	// admission check moves it to HalfOpen.
	RecoveryTimeout time.Duration

	// ProbeTimeout bounds a half-open probe. A probe with no outcome after
	// this long counts as a failure and the breaker reopens.
	ProbeTimeout time.Duration

	// OnTransition, if set, is called after every state change with the
	// breaker name. Called outside the breaker lock.
	OnTransition func(name string, from, to State)
}

// Breaker decides admission for a single named dependency. Independent
// dependencies get independent breakers; they never share state.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probePending bool
	probeStarted time.Time
}

// New creates a Breaker in the Closed state.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &Breaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
	}
}

// SetNow overrides the clock. Tests use this to step time.
func (b *Breaker) SetNow(now func() time.Time) {
	b.now = now
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the breaker's stored state. An Open breaker whose recovery
// timeout has elapsed still reports Open: the transition to HalfOpen happens
// on the next admission check, not on observation.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow is the single gate consulted before attempting the guarded
// operation. It returns an Attempt to record the outcome on, and whether the
// attempt is admitted. A refused attempt returns a nil Attempt.
func (b *Breaker) Allow() (*Attempt, bool) {
	b.mu.Lock()
	now := b.now()

	switch b.state {
	case Closed:
		b.mu.Unlock()
		return &Attempt{b: b}, true

	case Open:
		if now.Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			b.mu.Unlock()
			return nil, false
		}
		// Recovery due: admit exactly one probe.
		b.state = HalfOpen
		b.probePending = true
		b.probeStarted = now
		b.mu.Unlock()
		b.notify(Open, HalfOpen)
		return &Attempt{b: b, probe: true}, true

	case HalfOpen:
		if b.probePending {
			if now.Sub(b.probeStarted) >= b.cfg.ProbeTimeout {
				// The in-flight probe is lost; count it as a failure.
				b.probePending = false
				b.state = Open
				b.openedAt = now
				b.mu.Unlock()
				b.notify(HalfOpen, Open)
				return nil, false
			}
			b.mu.Unlock()
			return nil, false
		}
		b.probePending = true
		b.probeStarted = now
		b.mu.Unlock()
		return &Attempt{b: b, probe: true}, true
	}

	b.mu.Unlock()
	return nil, false
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(b.name, from, to)
	}
}

// Attempt is the token for one admitted attempt. Exactly one of Success or
// Failure must be called; extra calls are ignored.
type Attempt struct {
	b     *Breaker
	probe bool
	done  bool
}

// Success records a successful outcome. A successful half-open probe closes
// the breaker; any success resets the consecutive-failure count.
func (a *Attempt) Success() {
	b := a.b
	b.mu.Lock()
	if a.done {
		b.mu.Unlock()
		return
	}
	a.done = true

	from := b.state
	b.failures = 0
	if a.probe {
		b.probePending = false
	}
	if b.state == HalfOpen {
		b.state = Closed
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// Failure records a failed outcome. From Closed it counts toward the trip
// threshold; from HalfOpen it reopens the breaker immediately.
func (a *Attempt) Failure() {
	b := a.b
	b.mu.Lock()
	if a.done {
		b.mu.Unlock()
		return
	}
	a.done = true

	from := b.state
	if a.probe {
		b.probePending = false
	}
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.now()
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = b.now()
	case Open:
		// Straggler outcome from an attempt admitted before the trip.
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}
