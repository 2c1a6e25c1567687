//go:build linux

package hal

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealChip drives actual hardware through the Linux GPIO character device.
// Lines are requested lazily on first configuration and reconfigured in
// place afterwards, so a line is never released while a driver holds it.
type RealChip struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealChip opens the given gpiochip device (e.g. "gpiochip0").
func NewRealChip(device string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(device)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", device, err)
	}
	return &RealChip{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

// PinCount returns the number of lines on the chip.
func (c *RealChip) PinCount() int {
	return c.chip.Lines()
}

// SetMode requests or reconfigures the line for the given pin.
func (c *RealChip) SetMode(pin int, mode Mode) error {
	if mode == ModeUnconfigured {
		line, ok := c.lines[pin]
		if !ok {
			return nil
		}
		delete(c.lines, pin)
		if err := line.Close(); err != nil {
			return fmt.Errorf("release pin %d: %w", pin, err)
		}
		return nil
	}

	line, ok := c.lines[pin]
	if !ok {
		var err error
		switch mode {
		case ModeInput:
			line, err = c.chip.RequestLine(pin, gpiocdev.AsInput)
		case ModeInputPullUp:
			line, err = c.chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		case ModeOutput:
			// Outputs always come up de-energized.
			line, err = c.chip.RequestLine(pin, gpiocdev.AsOutput(int(Inactive)))
		default:
			return fmt.Errorf("pin %d: unsupported mode %s", pin, mode)
		}
		if err != nil {
			return fmt.Errorf("request pin %d as %s: %w", pin, mode, err)
		}
		c.lines[pin] = line
		return nil
	}

	var err error
	switch mode {
	case ModeInput:
		err = line.Reconfigure(gpiocdev.AsInput)
	case ModeInputPullUp:
		err = line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp)
	case ModeOutput:
		err = line.Reconfigure(gpiocdev.AsOutput(int(Inactive)))
	default:
		return fmt.Errorf("pin %d: unsupported mode %s", pin, mode)
	}
	if err != nil {
		return fmt.Errorf("reconfigure pin %d as %s: %w", pin, mode, err)
	}
	return nil
}

// Write drives an output pin to the given level.
func (c *RealChip) Write(pin int, level Level) error {
	line, ok := c.lines[pin]
	if !ok {
		return fmt.Errorf("write pin %d: line not requested", pin)
	}
	if err := line.SetValue(int(level)); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Read returns the current level of a pin.
func (c *RealChip) Read(pin int) (Level, error) {
	line, ok := c.lines[pin]
	if !ok {
		return Low, fmt.Errorf("read pin %d: line not requested", pin)
	}
	v, err := line.Value()
	if err != nil {
		return Low, fmt.Errorf("read pin %d: %w", pin, err)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// Close reconfigures every held line back to input-pull-up before releasing
// it, so a daemon restart never leaves an actuator energized.
func (c *RealChip) Close() error {
	var errs []error

	for pin, line := range c.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	c.lines = make(map[int]*gpiocdev.Line)

	if err := c.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
