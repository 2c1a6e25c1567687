package actuator

import (
	"github.com/sweeney/greenhouse-controller/internal/pinmgr"
)

// Valve is a binary actuator driving a solenoid valve. The de-energized
// state is closed, which is also the known-safe state.
type Valve struct {
	base
}

// NewValve creates a valve driver. Init must be called before use.
func NewValve(cfg Config, pins *pinmgr.Manager, sup Supervisor) *Valve {
	return &Valve{base: newBase(KindValve, cfg, pins, sup)}
}

// Open energizes the solenoid.
func (v *Valve) Open() error { return v.turnOn() }

// Close de-energizes the solenoid.
func (v *Valve) Close() error { return v.turnOff() }

// IsOpen reports whether the valve is energized.
func (v *Valve) IsOpen() bool { return v.IsOn() }

// Status returns a snapshot for the status page.
func (v *Valve) Status() Status { return v.status() }
