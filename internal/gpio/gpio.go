// Package gpio drives relay outputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Switch is a single on/off output line.
type Switch interface {
	// Set drives the line to the logical state on.
	Set(on bool) error

	// Get returns the logical state last driven.
	Get() (bool, error)

	// Close releases the line, leaving it off.
	Close() error
}

// DefaultChip is the gpiochip used when none is configured.
const DefaultChip = "gpiochip0"
