// Package pinmgr arbitrates ownership of physical pins. It is the single
// authority for pin electrical state outside of a bound driver's normal
// operation: every claim, release, mode change and emergency neutralization
// goes through the Manager.
//
// Refusals (already reserved, not owner, system pin) are ordinary errors a
// caller branches on with errors.Is — never a reason to crash.
package pinmgr

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/hal"
)

// Bounds for the identifying text stored per pin. Longer values are
// truncated, never rejected.
const (
	OwnerMaxLen = 32
	LabelMaxLen = 32
)

// DefaultSettle is the bounded delay between driving a pin and trusting a
// read-back, and between de-energizing an output and reconfiguring it.
const DefaultSettle = 2 * time.Millisecond

var (
	ErrInvalidPin        = errors.New("pinmgr: invalid pin")
	ErrAlreadyReserved   = errors.New("pinmgr: pin already reserved")
	ErrSystemReservedPin = errors.New("pinmgr: system reserved pin")
	ErrNotReserved       = errors.New("pinmgr: pin not reserved")
	ErrNotOwner          = errors.New("pinmgr: not pin owner")
	ErrNotOutput         = errors.New("pinmgr: pin not configured as output")
)

// record tracks one physical pin. Each record carries its own lock so
// cross-pin sweeps never block unrelated pins.
type record struct {
	mu             sync.Mutex
	owner          string
	label          string
	mode           hal.Mode
	reserved       bool
	systemReserved bool
	verifyFailed   bool
}

// Manager is the pin resource manager. Construct exactly one per chip with
// New and pass it to whatever needs pins.
type Manager struct {
	chip hal.Chip
	pins []record

	settle time.Duration
	sleep  func(time.Duration)

	warnMu   sync.Mutex
	warnings int
}

// New creates a Manager for every pin the chip exposes. Pins listed in
// systemPins are platform-forbidden (boot-strapping, serial console) and can
// never be claimed or touched.
func New(chip hal.Chip, systemPins []int) *Manager {
	m := &Manager{
		chip:   chip,
		pins:   make([]record, chip.PinCount()),
		settle: DefaultSettle,
		sleep:  time.Sleep,
	}
	for _, p := range systemPins {
		if p >= 0 && p < len(m.pins) {
			m.pins[p].systemReserved = true
		}
	}
	return m
}

// SetSettle overrides the settle delay. Tests use zero to avoid sleeping.
func (m *Manager) SetSettle(d time.Duration, sleep func(time.Duration)) {
	m.settle = d
	if sleep != nil {
		m.sleep = sleep
	}
}

// InitializeAllSafe puts every non-system pin into input-pull-up and
// verifies the read-back. It runs once at startup before any other component
// touches hardware. Returns the number of pins that failed verification;
// failures are warnings, not fatal errors.
func (m *Manager) InitializeAllSafe() int {
	warnings := 0
	for pin := range m.pins {
		rec := &m.pins[pin]
		rec.mu.Lock()
		if rec.systemReserved {
			rec.mu.Unlock()
			continue
		}
		if !m.neutralize(pin, rec) {
			warnings++
		}
		rec.mu.Unlock()
	}
	return warnings
}

// Claim records exclusive ownership of a pin. Every claim is checked against
// current state: a second claim on a reserved pin fails with
// ErrAlreadyReserved even for the same owner.
func (m *Manager) Claim(pin int, owner, label string) error {
	rec, err := m.record(pin)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.systemReserved {
		return fmt.Errorf("%w: pin %d", ErrSystemReservedPin, pin)
	}
	if rec.reserved {
		return fmt.Errorf("%w: pin %d held by %s/%s", ErrAlreadyReserved, pin, rec.owner, rec.label)
	}

	rec.owner = truncate(owner, OwnerMaxLen)
	rec.label = truncate(label, LabelMaxLen)
	rec.reserved = true
	return nil
}

// Release gives a pin back. Outputs are de-energized and held briefly before
// the mode switch — an energized output must never pass through an undefined
// intermediate state.
func (m *Manager) Release(pin int) error {
	rec, err := m.record(pin)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.reserved {
		return fmt.Errorf("%w: pin %d", ErrNotReserved, pin)
	}

	m.neutralize(pin, rec)
	rec.owner = ""
	rec.label = ""
	rec.reserved = false
	return nil
}

// SetMode reconfigures a pin for its current owner. New outputs come up
// de-energized.
func (m *Manager) SetMode(pin int, owner string, mode hal.Mode) error {
	rec, err := m.record(pin)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.reserved {
		return fmt.Errorf("%w: pin %d", ErrNotReserved, pin)
	}
	if rec.owner != truncate(owner, OwnerMaxLen) {
		return fmt.Errorf("%w: pin %d held by %s", ErrNotOwner, pin, rec.owner)
	}

	if err := m.chip.SetMode(pin, mode); err != nil {
		return fmt.Errorf("set mode pin %d: %w", pin, err)
	}
	rec.mode = mode
	if mode == hal.ModeOutput {
		if err := m.chip.Write(pin, hal.Inactive); err != nil {
			return fmt.Errorf("de-energize pin %d: %w", pin, err)
		}
	}
	return nil
}

// Write drives an output pin for its current owner. A pin parked in
// input-pull-up (by an emergency sweep or a release) refuses drives until
// its owner reconfigures it as an output.
func (m *Manager) Write(pin int, owner string, level hal.Level) error {
	rec, err := m.record(pin)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.reserved {
		return fmt.Errorf("%w: pin %d", ErrNotReserved, pin)
	}
	if rec.owner != truncate(owner, OwnerMaxLen) {
		return fmt.Errorf("%w: pin %d held by %s", ErrNotOwner, pin, rec.owner)
	}
	if rec.mode != hal.ModeOutput {
		return fmt.Errorf("%w: pin %d is %s", ErrNotOutput, pin, rec.mode)
	}
	if err := m.chip.Write(pin, level); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// ModeOf returns the configured mode of a pin.
func (m *Manager) ModeOf(pin int) (hal.Mode, error) {
	rec, err := m.record(pin)
	if err != nil {
		return hal.ModeUnconfigured, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.mode, nil
}

// Read returns the current level of a pin.
func (m *Manager) Read(pin int) (hal.Level, error) {
	if _, err := m.record(pin); err != nil {
		return hal.Low, err
	}
	return m.chip.Read(pin)
}

// EmergencySafeAll neutralizes the electrical state of every reserved
// output: de-energize, settle, input-pull-up, verify. Ownership is not
// released. Safe to call repeatedly; a second sweep finds no outputs left.
// Returns the number of verification warnings.
func (m *Manager) EmergencySafeAll() int {
	warnings := 0
	for pin := range m.pins {
		rec := &m.pins[pin]
		rec.mu.Lock()
		if !rec.reserved || rec.systemReserved {
			rec.mu.Unlock()
			continue
		}
		if rec.mode == hal.ModeOutput {
			if !m.neutralize(pin, rec) {
				warnings++
			}
		}
		rec.mu.Unlock()
	}
	return warnings
}

// EmergencySafePin neutralizes one reserved pin the same way the global
// sweep does: de-energize, settle, input-pull-up, verify. Ownership is not
// released. A pin already parked, unreserved or system-reserved is left
// alone. Returns false on a verification warning.
func (m *Manager) EmergencySafePin(pin int) bool {
	rec, err := m.record(pin)
	if err != nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.reserved || rec.systemReserved || rec.mode != hal.ModeOutput {
		return true
	}
	return m.neutralize(pin, rec)
}

// IsAvailable reports whether a pin can be claimed.
func (m *Manager) IsAvailable(pin int) bool {
	rec, err := m.record(pin)
	if err != nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return !rec.reserved && !rec.systemReserved
}

// IsReserved reports whether a pin is currently claimed.
func (m *Manager) IsReserved(pin int) bool {
	rec, err := m.record(pin)
	if err != nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.reserved
}

// OwnerOf returns the owner and label of a reserved pin.
func (m *Manager) OwnerOf(pin int) (owner, label string, ok bool) {
	rec, err := m.record(pin)
	if err != nil {
		return "", "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.reserved {
		return "", "", false
	}
	return rec.owner, rec.label, true
}

// Warnings returns the total number of hardware verification warnings
// recorded since startup.
func (m *Manager) Warnings() int {
	m.warnMu.Lock()
	defer m.warnMu.Unlock()
	return m.warnings
}

// neutralize moves a pin to the safest achievable state: if it is an output,
// drive inactive first and let it settle, then switch to input-pull-up and
// verify the read-back. The order is a hard invariant. Returns false if
// verification failed; the pin is flagged and counted but the mode switch
// has already been attempted. Caller holds rec.mu.
func (m *Manager) neutralize(pin int, rec *record) bool {
	if rec.mode == hal.ModeOutput {
		if err := m.chip.Write(pin, hal.Inactive); err != nil {
			log.Printf("pinmgr: de-energize pin %d: %v", pin, err)
		}
		m.sleep(m.settle)
	}

	if err := m.chip.SetMode(pin, hal.ModeInputPullUp); err != nil {
		log.Printf("pinmgr: safe mode pin %d: %v", pin, err)
		m.flagVerifyFailure(pin, rec)
		return false
	}
	rec.mode = hal.ModeInputPullUp

	m.sleep(m.settle)
	lvl, err := m.chip.Read(pin)
	if err != nil || lvl != hal.PullUpIdle {
		log.Printf("pinmgr: pin %d failed safe-mode verification (level=%v err=%v)", pin, lvl, err)
		m.flagVerifyFailure(pin, rec)
		return false
	}
	rec.verifyFailed = false
	return true
}

func (m *Manager) flagVerifyFailure(pin int, rec *record) {
	rec.verifyFailed = true
	m.warnMu.Lock()
	m.warnings++
	m.warnMu.Unlock()
}

func (m *Manager) record(pin int) (*record, error) {
	if pin < 0 || pin >= len(m.pins) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return &m.pins[pin], nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
