package actuator

import (
	"fmt"

	"github.com/sweeney/greenhouse-controller/internal/pinmgr"
)

// Dimmer drives a lighting stage through an external dimming module that
// latches its level while the enable pin is held active. Levels are percent
// 0-100; zero de-energizes the enable pin.
type Dimmer struct {
	base
}

// NewDimmer creates a dimmer driver. Init must be called before use.
func NewDimmer(cfg Config, pins *pinmgr.Manager, sup Supervisor) *Dimmer {
	return &Dimmer{base: newBase(KindDimmer, cfg, pins, sup)}
}

// SetLevel sets the dimmer output. A rising edge (0 to non-zero) counts as
// an activation for the duty guard; level changes while already on do not.
func (d *Dimmer) SetLevel(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %d", ErrLevelRange, pct)
	}

	if pct == 0 {
		if err := d.turnOff(); err != nil {
			return err
		}
		d.mu.Lock()
		d.level = 0
		d.mu.Unlock()
		return nil
	}

	if !d.IsOn() {
		if err := d.turnOn(); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.level = pct
	d.mu.Unlock()
	return nil
}

// Level returns the current output level.
func (d *Dimmer) Level() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// Status returns a snapshot for the status page.
func (d *Dimmer) Status() Status { return d.status() }
