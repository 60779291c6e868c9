package control

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Gains are the proportional, integral and derivative gains of a PID controller.
// Gains is a value type: Invert returns a new value and never touches the receiver,
// so several controllers can share the same defaults safely.
type Gains struct {
	Kp float64 `json:"kp" yaml:"kp"`
	Ki float64 `json:"ki" yaml:"ki"`
	Kd float64 `json:"kd" yaml:"kd"`
}

// Invert returns the gains with all three signs flipped.
func (g Gains) Invert() Gains {
	return Gains{Kp: -g.Kp, Ki: -g.Ki, Kd: -g.Kd}
}

// Validate rejects NaN and infinite gains, which would make the output NaN for
// the life of the loop.
func (g Gains) Validate() error {
	for _, v := range [...]float64{g.Kp, g.Ki, g.Kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: not finite", ErrInvalidGains, g)
		}
	}
	return nil
}

// String serializes the gains as "kp,ki,kd", the persisted format.
func (g Gains) String() string {
	return formatFloat(g.Kp) + "," + formatFloat(g.Ki) + "," + formatFloat(g.Kd)
}

// ParseGains parses a "kp,ki,kd" triple.
func ParseGains(s string) (Gains, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Gains{}, fmt.Errorf("%w: %q: want kp,ki,kd", ErrInvalidGains, s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Gains{}, fmt.Errorf("%w: %q: %v", ErrInvalidGains, s, err)
		}
		v[i] = f
	}
	g := Gains{Kp: v[0], Ki: v[1], Kd: v[2]}
	if err := g.Validate(); err != nil {
		return Gains{}, err
	}
	return g, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
