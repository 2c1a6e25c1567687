// Package safety owns the emergency-stop state machine: global and
// per-actuator stop fan-out, and supervised staged recovery.
//
// Stopping is instant and total; resuming is gradual, ordered and abortable.
// That asymmetry is the core property of this package: TriggerEmergency is
// never queued, retried or rate-limited, and re-triggering it is the only
// way to cancel a recovery in progress.
package safety

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// GlobalState is the emergency state machine's position.
type GlobalState int

const (
	Normal GlobalState = iota
	Active
	Clearing
	Resuming
)

func (s GlobalState) String() string {
	switch s {
	case Normal:
		return "normal"
	case Active:
		return "active"
	case Clearing:
		return "clearing"
	case Resuming:
		return "resuming"
	default:
		return "unknown"
	}
}

var (
	ErrNotActive   = errors.New("safety: no active emergency")
	ErrNotClearing = errors.New("safety: emergency not cleared")
	ErrAborted     = errors.New("safety: recovery aborted")
)

// Actuator is the capability surface the controller supervises. Concrete
// drivers (pumps, valves, dimmers) live in the actuator package; the
// controller depends only on this.
type Actuator interface {
	// ID identifies the actuator for stop flags and reports.
	ID() string

	// Critical marks actuators recovered first when critical-first
	// ordering is configured.
	Critical() bool

	// ForceSafe drives the actuator to its known-safe state immediately.
	// Best effort; it has no failure mode visible to the controller.
	ForceSafe()

	// Healthy is the recovery verification predicate: whether the
	// subsystems this actuator depends on are ready for it to resume.
	Healthy() bool
}

// PinSafer neutralizes pin electrical state. Satisfied by pinmgr.Manager.
type PinSafer interface {
	EmergencySafeAll() int
}

// RecoveryConfig holds the staged-recovery knobs, fixed at construction.
type RecoveryConfig struct {
	// InterActuatorDelay is the pause between re-enabling one actuator and
	// verifying the next. Expressed as a cancellable wait, not a busy loop.
	InterActuatorDelay time.Duration

	// VerificationTimeout bounds the health verification of one actuator.
	VerificationTimeout time.Duration

	// MaxRetryAttempts is how many times one actuator's verification is
	// tried before it is skipped and left stopped.
	MaxRetryAttempts int

	// CriticalFirst recovers critical actuators before the rest;
	// otherwise registration order is used.
	CriticalFirst bool
}

// Event describes a state transition for notification hooks (telemetry).
type Event struct {
	From   GlobalState
	To     GlobalState
	Scope  string // empty for global events, actuator id otherwise
	Reason string
}

// SkipRecord names an actuator left stopped during recovery and why.
type SkipRecord struct {
	ID     string
	Reason string
}

// RecoveryReport summarizes one recovery run.
type RecoveryReport struct {
	Resumed []string
	Skipped []SkipRecord
	Aborted bool
}

// Controller is the single entry point for forcing a stop and for beginning
// recovery. Construct one per device and hand it to the drivers and the
// command layer.
type Controller struct {
	mu       sync.Mutex
	state    GlobalState
	reason   string
	order    []Actuator
	stopped  map[string]bool
	abort    chan struct{} // non-nil while a recovery run is in progress
	pins     PinSafer
	cfg      RecoveryConfig
	now      func() time.Time
	hooks    []func(Event)
	lastRun  *RecoveryReport
	triggers int
}

// New creates a Controller in the Normal state.
func New(pins PinSafer, cfg RecoveryConfig) *Controller {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 1
	}
	return &Controller{
		state:   Normal,
		stopped: make(map[string]bool),
		pins:    pins,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Register adds an actuator to the controller's supervision. Registration
// order is the default recovery order.
func (c *Controller) Register(a Actuator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, a)
}

// OnTransition registers a hook called after every emergency-state
// transition, outside the controller lock. Used for telemetry fan-out.
func (c *Controller) OnTransition(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// TriggerEmergency forces the global state to Active from any state and
// stops every actuator. The state flag is set before any hardware is
// touched, so a concurrent activation request is refused even while
// de-energization is still executing. Always succeeds logically; hardware
// verification warnings are counted, not raised.
func (c *Controller) TriggerEmergency(reason string) {
	c.mu.Lock()
	from := c.state
	c.state = Active
	c.reason = reason
	c.triggers++
	for _, a := range c.order {
		c.stopped[a.ID()] = true
	}
	if c.abort != nil {
		// A recovery delay is pending; abandon it.
		close(c.abort)
		c.abort = nil
	}
	actuators := append([]Actuator(nil), c.order...)
	c.mu.Unlock()

	log.Printf("safety: EMERGENCY (%s)", reason)
	for _, a := range actuators {
		a.ForceSafe()
	}
	if c.pins != nil {
		if warnings := c.pins.EmergencySafeAll(); warnings > 0 {
			log.Printf("safety: %d pin(s) failed safe-mode verification", warnings)
		}
	}

	c.fire(Event{From: from, To: Active, Reason: reason})
}

// TriggerEmergencyFor stops a single actuator immediately. The global state
// is unchanged.
func (c *Controller) TriggerEmergencyFor(id, reason string) {
	c.mu.Lock()
	state := c.state
	c.stopped[id] = true
	var target Actuator
	for _, a := range c.order {
		if a.ID() == id {
			target = a
			break
		}
	}
	c.mu.Unlock()

	log.Printf("safety: emergency stop for %s (%s)", id, reason)
	if target != nil {
		target.ForceSafe()
	}
	c.fire(Event{From: state, To: state, Scope: id, Reason: reason})
}

// Clear acknowledges the emergency condition. Actuators remain stopped —
// only BeginRecovery re-enables anything.
func (c *Controller) Clear() error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotActive, c.state)
	}
	from := c.state
	c.state = Clearing
	c.mu.Unlock()

	c.fire(Event{From: from, To: Clearing, Reason: c.Reason()})
	return nil
}

// IsActive reports whether a global emergency is in force.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Active
}

// IsActiveFor reports whether the named actuator is suppressed, either by a
// per-actuator stop or by a global emergency.
func (c *Controller) IsActiveFor(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Active || c.stopped[id]
}

// State returns the current global state.
func (c *Controller) State() GlobalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the reason recorded when the emergency was triggered.
func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Triggers returns the number of emergency triggers since startup.
func (c *Controller) Triggers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggers
}

// LastReport returns the report of the most recent recovery run, or nil.
func (c *Controller) LastReport() *RecoveryReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

func (c *Controller) fire(ev Event) {
	c.mu.Lock()
	hooks := append([]func(Event){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(ev)
	}
}
