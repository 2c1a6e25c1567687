// Package duty protects a single actuator from damage caused by excessive
// cycling or excessive continuous runtime.
//
// Activation history lives in a fixed-capacity ring sized exactly to the
// activation ceiling, so admission checks are O(1) and memory is constant.
// A false from CanActivate is a normal operational outcome for the caller
// to report, not an internal error.
package duty

import (
	"sync"
	"time"
)

// Config holds the limits for one actuator, fixed at construction.
type Config struct {
	// MaxActivationsPerWindow is the activation ceiling within
	// ActivationWindow. Also the ring capacity.
	MaxActivationsPerWindow int

	// ActivationWindow is the sliding window the ceiling applies to.
	ActivationWindow time.Duration

	// MaxSingleRuntime is the accumulated on-time that forces a cooldown.
	MaxSingleRuntime time.Duration

	// CooldownPeriod is the mandatory off-time after a max-runtime run,
	// measured from the deactivation that crossed the limit.
	CooldownPeriod time.Duration
}

// Guard tracks activation history for one actuator. Guards are never shared
// between actuators.
type Guard struct {
	mu  sync.Mutex
	cfg Config

	// Ring of recent activation times, capacity MaxActivationsPerWindow.
	stamps []time.Time
	head   int
	count  int

	runtime          time.Duration
	lastDeactivation time.Time
	hasDeactivated   bool

	active      bool
	activatedAt time.Time
}

// New creates a Guard for the given limits.
func New(cfg Config) *Guard {
	if cfg.MaxActivationsPerWindow <= 0 {
		cfg.MaxActivationsPerWindow = 1
	}
	return &Guard{
		cfg:    cfg,
		stamps: make([]time.Time, cfg.MaxActivationsPerWindow),
	}
}

// CanActivate reports whether an activation at the given time is allowed.
// Pure read: no state changes. The cooldown and duty-cycle checks are
// independent; either failing refuses the activation.
func (g *Guard) CanActivate(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.coolingDown(now) {
		return false
	}
	if g.recentLocked(now) >= g.cfg.MaxActivationsPerWindow {
		return false
	}
	return true
}

// RecordActivation appends the activation time, overwriting the oldest slot
// if the ring is full. A full ring exactly represents "at the ceiling".
// Runtime accumulated before a completed cooldown resets here, on the next
// successful activation, not when the cooldown elapses.
func (g *Guard) RecordActivation(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.runtime >= g.cfg.MaxSingleRuntime && !g.coolingDown(now) {
		g.runtime = 0
	}

	g.stamps[g.head] = now
	g.head = (g.head + 1) % len(g.stamps)
	if g.count < len(g.stamps) {
		g.count++
	}

	g.active = true
	g.activatedAt = now
}

// RecordDeactivation accumulates the elapsed on-time and marks the
// deactivation instant the cooldown is measured from.
func (g *Guard) RecordDeactivation(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active {
		g.runtime += now.Sub(g.activatedAt)
		g.active = false
	}
	g.lastDeactivation = now
	g.hasDeactivated = true
}

// CumulativeRuntime returns the accumulated on-time since the last reset,
// not counting a currently running activation.
func (g *Guard) CumulativeRuntime() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runtime
}

// RecentActivations returns the number of recorded activations inside the
// window ending at now. Used by the status page.
func (g *Guard) RecentActivations(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recentLocked(now)
}

// coolingDown reports whether the actuator crossed the runtime limit and the
// cooldown measured from its last deactivation has not yet elapsed.
// Caller holds g.mu.
func (g *Guard) coolingDown(now time.Time) bool {
	if g.cfg.MaxSingleRuntime <= 0 {
		return false
	}
	if g.runtime < g.cfg.MaxSingleRuntime || !g.hasDeactivated {
		return false
	}
	return now.Sub(g.lastDeactivation) < g.cfg.CooldownPeriod
}

// recentLocked counts ring entries strictly newer than now-window.
// Caller holds g.mu.
func (g *Guard) recentLocked(now time.Time) int {
	cutoff := now.Add(-g.cfg.ActivationWindow)
	n := 0
	for i := 0; i < g.count; i++ {
		idx := (g.head - 1 - i + len(g.stamps)) % len(g.stamps)
		if g.stamps[idx].After(cutoff) {
			n++
		}
	}
	return n
}
