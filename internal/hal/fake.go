package hal

import "fmt"

// FakeChip is a test double that tracks pin state in memory and journals
// every mutating operation in order.
type FakeChip struct {
	// Modes holds the current mode of each pin.
	Modes []Mode

	// Levels holds the last written level of each pin.
	Levels []Level

	// ReadLevels overrides the level returned by Read for specific pins.
	// Used to simulate a stuck pin failing safe-mode verification.
	ReadLevels map[int]Level

	// Journal records mutating operations in order, e.g.
	// "write 5 low", "mode 5 input-pull-up".
	Journal []string

	// ModeErr and WriteErr, if set for a pin, are returned by the
	// corresponding call.
	ModeErr  map[int]error
	WriteErr map[int]error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeChip creates a FakeChip with the given number of pins, all
// unconfigured and reading low.
func NewFakeChip(pins int) *FakeChip {
	return &FakeChip{
		Modes:      make([]Mode, pins),
		Levels:     make([]Level, pins),
		ReadLevels: make(map[int]Level),
		ModeErr:    make(map[int]error),
		WriteErr:   make(map[int]error),
	}
}

// PinCount returns the configured number of pins.
func (c *FakeChip) PinCount() int {
	return len(c.Modes)
}

// SetMode records the mode change in the journal.
func (c *FakeChip) SetMode(pin int, mode Mode) error {
	if pin < 0 || pin >= len(c.Modes) {
		return fmt.Errorf("fake: pin %d out of range", pin)
	}
	if err := c.ModeErr[pin]; err != nil {
		return err
	}
	c.Modes[pin] = mode
	if mode == ModeOutput {
		// Real outputs come up de-energized.
		c.Levels[pin] = Inactive
	}
	c.Journal = append(c.Journal, fmt.Sprintf("mode %d %s", pin, mode))
	return nil
}

// Write records the level change in the journal. Like real hardware, a pin
// not configured as an output cannot be driven.
func (c *FakeChip) Write(pin int, level Level) error {
	if pin < 0 || pin >= len(c.Modes) {
		return fmt.Errorf("fake: pin %d out of range", pin)
	}
	if err := c.WriteErr[pin]; err != nil {
		return err
	}
	if c.Modes[pin] != ModeOutput {
		return fmt.Errorf("fake: write to pin %d in mode %s", pin, c.Modes[pin])
	}
	c.Levels[pin] = level
	c.Journal = append(c.Journal, fmt.Sprintf("write %d %s", pin, level))
	return nil
}

// Read returns the scripted override if present, otherwise a level implied
// by the pin's mode: pull-up inputs idle high, outputs read back their last
// written level, everything else reads low.
func (c *FakeChip) Read(pin int) (Level, error) {
	if pin < 0 || pin >= len(c.Modes) {
		return Low, fmt.Errorf("fake: pin %d out of range", pin)
	}
	if lvl, ok := c.ReadLevels[pin]; ok {
		return lvl, nil
	}
	switch c.Modes[pin] {
	case ModeInputPullUp:
		return PullUpIdle, nil
	case ModeOutput:
		return c.Levels[pin], nil
	default:
		return Low, nil
	}
}

// Close marks the chip as closed.
func (c *FakeChip) Close() error {
	c.Closed = true
	return nil
}

// ClearJournal discards recorded operations, keeping pin state.
func (c *FakeChip) ClearJournal() {
	c.Journal = nil
}
