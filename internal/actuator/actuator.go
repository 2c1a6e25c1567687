// Package actuator implements the drivers the safety core supervises:
// pumps, valves and dimmers. Every driver claims its pin through the pin
// resource manager, consults its duty-cycle guard before energizing, and
// refuses any command while the safety controller reports an emergency.
//
// Refusals (emergency, duty cycle) are ordinary errors for the control loop
// to report, never crashes.
package actuator

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/duty"
	"github.com/sweeney/greenhouse-controller/internal/hal"
	"github.com/sweeney/greenhouse-controller/internal/pinmgr"
)

// Kind is the driver category. It doubles as the pin ownership tag.
type Kind string

const (
	KindPump   Kind = "pump"
	KindValve  Kind = "valve"
	KindDimmer Kind = "dimmer"
)

var (
	ErrEmergencyActive = errors.New("actuator: suppressed by emergency stop")
	ErrDutyCycle       = errors.New("actuator: duty cycle limit reached")
	ErrNotInitialized  = errors.New("actuator: not initialized")
	ErrLevelRange      = errors.New("actuator: level out of range")
)

// Supervisor is the safety view a driver consults before energizing.
// Satisfied by safety.Controller.
type Supervisor interface {
	IsActive() bool
	IsActiveFor(id string) bool
}

// Config describes one actuator instance.
type Config struct {
	ID       string
	Pin      int
	Critical bool
	Duty     duty.Config

	// Health, if set, augments the recovery verification predicate with an
	// external check (e.g. the supply subsystem this actuator depends on).
	Health func() bool
}

// Status is a point-in-time view of one driver for the status page.
type Status struct {
	ID         string
	Kind       Kind
	Pin        int
	On         bool
	Level      int
	LastChange time.Time
}

// base carries the state and checks shared by every driver kind.
type base struct {
	mu         sync.Mutex
	kind       Kind
	cfg        Config
	pins       *pinmgr.Manager
	guard      *duty.Guard
	supervisor Supervisor
	now        func() time.Time

	initialized bool
	on          bool
	level       int
	lastChange  time.Time
	refusals    int
}

func newBase(kind Kind, cfg Config, pins *pinmgr.Manager, sup Supervisor) base {
	return base{
		kind:       kind,
		cfg:        cfg,
		pins:       pins,
		guard:      duty.New(cfg.Duty),
		supervisor: sup,
		now:        time.Now,
	}
}

// SetNow overrides the clock. Tests use this to script duty-cycle history.
func (b *base) SetNow(now func() time.Time) { b.now = now }

// ID returns the actuator id.
func (b *base) ID() string { return b.cfg.ID }

// Critical reports whether this actuator is recovered first.
func (b *base) Critical() bool { return b.cfg.Critical }

// Pin returns the claimed pin.
func (b *base) Pin() int { return b.cfg.Pin }

// Init claims the pin and configures it as a de-energized output. Claim
// refusals propagate: two drivers can never own the same pin.
func (b *base) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.pins.Claim(b.cfg.Pin, string(b.kind), b.cfg.ID); err != nil {
		return fmt.Errorf("claim pin for %s: %w", b.cfg.ID, err)
	}
	if err := b.pins.SetMode(b.cfg.Pin, string(b.kind), hal.ModeOutput); err != nil {
		// Give the pin back rather than holding a half-configured claim.
		if rerr := b.pins.Release(b.cfg.Pin); rerr != nil {
			log.Printf("actuator: release after failed init of %s: %v", b.cfg.ID, rerr)
		}
		return fmt.Errorf("configure pin for %s: %w", b.cfg.ID, err)
	}
	b.initialized = true
	b.lastChange = b.now()
	return nil
}

// Shutdown de-energizes and releases the pin.
func (b *base) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	b.initialized = false
	if b.on {
		b.guard.RecordDeactivation(b.now())
		b.on = false
	}
	if err := b.pins.Release(b.cfg.Pin); err != nil {
		return fmt.Errorf("release pin for %s: %w", b.cfg.ID, err)
	}
	return nil
}

// turnOn energizes the pin after the safety and duty checks pass. Both must
// pass; either refusal is returned unchanged for the caller to branch on.
func (b *base) turnOn() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return fmt.Errorf("%w: %s", ErrNotInitialized, b.cfg.ID)
	}
	// Safety first: a concurrent emergency must win even if the duty guard
	// would admit.
	if b.supervisor != nil && (b.supervisor.IsActive() || b.supervisor.IsActiveFor(b.cfg.ID)) {
		return fmt.Errorf("%w: %s", ErrEmergencyActive, b.cfg.ID)
	}
	now := b.now()
	if b.on {
		return nil
	}
	if !b.guard.CanActivate(now) {
		b.refusals++
		return fmt.Errorf("%w: %s", ErrDutyCycle, b.cfg.ID)
	}
	// An emergency parks the pin in input-pull-up; the first activation
	// after recovery reconfigures it as an output before driving it.
	if mode, err := b.pins.ModeOf(b.cfg.Pin); err == nil && mode != hal.ModeOutput {
		if err := b.pins.SetMode(b.cfg.Pin, string(b.kind), hal.ModeOutput); err != nil {
			return fmt.Errorf("re-enable %s: %w", b.cfg.ID, err)
		}
	}
	if err := b.pins.Write(b.cfg.Pin, string(b.kind), hal.High); err != nil {
		return fmt.Errorf("energize %s: %w", b.cfg.ID, err)
	}
	b.guard.RecordActivation(now)
	b.on = true
	b.lastChange = now
	return nil
}

// turnOff de-energizes the pin. Always allowed.
func (b *base) turnOff() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return fmt.Errorf("%w: %s", ErrNotInitialized, b.cfg.ID)
	}
	if !b.on {
		return nil
	}
	now := b.now()
	if err := b.pins.Write(b.cfg.Pin, string(b.kind), hal.Inactive); err != nil {
		return fmt.Errorf("de-energize %s: %w", b.cfg.ID, err)
	}
	b.guard.RecordDeactivation(now)
	b.on = false
	b.lastChange = now
	return nil
}

// ForceSafe neutralizes the actuator's pin immediately: de-energize, then
// park in input-pull-up. Best effort: verification warnings are logged,
// never returned — the ownership claim and the accumulated duty history
// survive, and the next activation reconfigures the pin.
func (b *base) ForceSafe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return
	}
	if !b.pins.EmergencySafePin(b.cfg.Pin) {
		log.Printf("actuator: force-safe %s: pin %d failed safe-mode verification", b.cfg.ID, b.cfg.Pin)
	}
	if b.on {
		b.guard.RecordDeactivation(b.now())
		b.on = false
	}
	b.level = 0
	b.lastChange = b.now()
}

// Healthy is the recovery verification predicate: the driver holds its pin
// and any configured external check passes.
func (b *base) Healthy() bool {
	b.mu.Lock()
	initialized := b.initialized
	health := b.cfg.Health
	pin := b.cfg.Pin
	b.mu.Unlock()

	if !initialized || !b.pins.IsReserved(pin) {
		return false
	}
	if health != nil && !health() {
		return false
	}
	return true
}

// Guard exposes the duty guard for the status page.
func (b *base) Guard() *duty.Guard { return b.guard }

// DutyRefusals returns how many activation requests the duty guard has
// refused since startup.
func (b *base) DutyRefusals() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refusals
}

// IsOn reports whether the actuator is energized.
func (b *base) IsOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.on
}

func (b *base) status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		ID:         b.cfg.ID,
		Kind:       b.kind,
		Pin:        b.cfg.Pin,
		On:         b.on,
		Level:      b.level,
		LastChange: b.lastChange,
	}
}
