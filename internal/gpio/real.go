//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealSwitch drives a relay from an actual GPIO line.
type RealSwitch struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	pin  int
}

// NewRealSwitch requests pin on chip as an output, initially off.
// With activeLow a logical ON drives the line low, which suits most relay boards.
func NewRealSwitch(chip string, pin int, activeLow bool) (*RealSwitch, error) {
	if chip == "" {
		chip = DefaultChip
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := c.RequestLine(pin, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}

	return &RealSwitch{chip: c, line: line, pin: pin}, nil
}

// Set drives the line. The active-low flag is applied by the kernel.
func (s *RealSwitch) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := s.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", s.pin, err)
	}
	return nil
}

// Get reads back the logical line value.
func (s *RealSwitch) Get() (bool, error) {
	v, err := s.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", s.pin, err)
	}
	return v == 1, nil
}

// Close turns the output off and reconfigures the line as an input with
// pull-down, matching Pi boot defaults, before releasing it.
func (s *RealSwitch) Close() error {
	var errs []error

	if s.line != nil {
		if err := s.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("turn off pin %d: %w", s.pin, err))
		}
		if err := s.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", s.pin, err))
		}
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", s.pin, err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
