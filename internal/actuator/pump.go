package actuator

import (
	"github.com/sweeney/greenhouse-controller/internal/pinmgr"
)

// Pump is a binary actuator driving a relay or MOSFET pump stage.
type Pump struct {
	base
}

// NewPump creates a pump driver. Init must be called before use.
func NewPump(cfg Config, pins *pinmgr.Manager, sup Supervisor) *Pump {
	return &Pump{base: newBase(KindPump, cfg, pins, sup)}
}

// Start energizes the pump.
func (p *Pump) Start() error { return p.turnOn() }

// Stop de-energizes the pump.
func (p *Pump) Stop() error { return p.turnOff() }

// Status returns a snapshot for the status page.
func (p *Pump) Status() Status { return p.status() }
