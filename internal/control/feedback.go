package control

import (
	"math"
	"time"
)

// Limits bounds the output of a feedback loop.
type Limits struct {
	Min float64
	Max float64
}

// DefaultLimits suits a modulating valve driven in percent.
var DefaultLimits = Limits{Min: 0, Max: 100}

// Validate checks that Min is below Max.
func (l Limits) Validate() error {
	if !(l.Min < l.Max) {
		return ErrInvalidLimits
	}
	return nil
}

func (l Limits) clamp(v float64) float64 {
	return math.Max(l.Min, math.Min(l.Max, v))
}

// minDt stands in for the elapsed time of the first sample.
const minDt = 1e-16

// feedback is the running state of a PID loop. It exists only while the owning
// controller is running.
//
// The proportional term acts on error, the derivative term on measurement so a
// setpoint change does not kick the output, and the integral term is clamped to
// the output limits for anti-windup.
type feedback struct {
	gains    Gains
	setpoint float64
	limits   Limits

	integral   float64
	lastInput  float64
	lastError  float64
	lastOutput float64
	lastTime   time.Time
	primed     bool // lastInput and lastTime are valid
}

func newFeedback(g Gains, setpoint float64, limits Limits) *feedback {
	return &feedback{gains: g, setpoint: setpoint, limits: limits}
}

// resume seeds the integral so the first output continues from last instead of
// jumping back to the proportional term alone. A non-finite last is ignored.
func (f *feedback) resume(last float64) {
	if !finite(last) {
		return
	}
	f.integral = f.limits.clamp(last)
	f.lastOutput = f.integral
}

// update computes the output for the measured input at time now.
func (f *feedback) update(input float64, now time.Time) float64 {
	dt := minDt
	dInput := 0.0
	if f.primed {
		if d := now.Sub(f.lastTime).Seconds(); d > 0 {
			dt = d
			dInput = input - f.lastInput
		}
	}

	err := f.setpoint - input
	proportional := f.gains.Kp * err
	f.integral = f.limits.clamp(f.integral + f.gains.Ki*err*dt)
	derivative := -f.gains.Kd * dInput / dt

	out := f.limits.clamp(proportional + f.integral + derivative)

	f.lastInput = input
	f.lastError = err
	f.lastOutput = out
	f.lastTime = now
	f.primed = true
	return out
}
