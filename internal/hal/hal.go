// Package hal provides pin-level hardware access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation journals every operation so tests can assert
// electrical ordering (e.g. de-energize before reconfigure).
package hal

import "fmt"

// Mode is the electrical configuration of a pin.
type Mode int

const (
	ModeUnconfigured Mode = iota
	ModeInput
	ModeInputPullUp
	ModeOutput
)

func (m Mode) String() string {
	switch m {
	case ModeUnconfigured:
		return "unconfigured"
	case ModeInput:
		return "input"
	case ModeInputPullUp:
		return "input-pull-up"
	case ModeOutput:
		return "output"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Level is a logic level on a pin.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Inactive is the de-energized logic level for output pins. All connected
// equipment (relays, MOSFET drivers) is wired active-high.
const Inactive = Low

// PullUpIdle is the level a healthy input-pull-up pin reads when nothing
// external drives it. Safe-mode verification checks against this.
const PullUpIdle = High

// Chip is the platform pin surface consumed by the pin resource manager.
// Implementations must make every call synchronous and bounded — no call
// may block past a line-request timeout.
type Chip interface {
	// PinCount returns the number of lines the chip exposes.
	PinCount() int

	// SetMode reconfigures a pin. Setting ModeOutput must leave the pin
	// driven at the Inactive level. Setting ModeUnconfigured releases the
	// line back to the platform.
	SetMode(pin int, mode Mode) error

	// Write drives an output pin to the given level.
	Write(pin int, level Level) error

	// Read returns the current level of a pin in any mode.
	Read(pin int) (Level, error)

	// Close releases all requested lines.
	Close() error
}
