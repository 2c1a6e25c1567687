//go:build !linux

package hal

import "errors"

// RealChip is not available on non-Linux platforms.
type RealChip struct{}

// NewRealChip returns an error on non-Linux platforms.
func NewRealChip(device string) (*RealChip, error) {
	return nil, errors.New("hal: not supported on this platform (requires Linux)")
}

// PinCount is not implemented on non-Linux platforms.
func (c *RealChip) PinCount() int {
	return 0
}

// SetMode is not implemented on non-Linux platforms.
func (c *RealChip) SetMode(pin int, mode Mode) error {
	return errors.New("hal: not supported")
}

// Write is not implemented on non-Linux platforms.
func (c *RealChip) Write(pin int, level Level) error {
	return errors.New("hal: not supported")
}

// Read is not implemented on non-Linux platforms.
func (c *RealChip) Read(pin int) (Level, error) {
	return Low, errors.New("hal: not supported")
}

// Close is not implemented on non-Linux platforms.
func (c *RealChip) Close() error {
	return nil
}
