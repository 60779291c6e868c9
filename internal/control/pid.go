package control

import (
	"context"
	"math"
	"time"
)

// PIDConfig holds the continuous-output settings of a PID controller.
type PIDConfig struct {
	// Gains are the defaults, supplied as for a non-inverted heating device.
	Gains *Gains
	// Limits bounds the applied output. Zero value means DefaultLimits.
	Limits Limits
	// IdleThreshold is how far above Limits.Min the output must be for the
	// controller to report itself as working.
	IdleThreshold float64
}

// PID drives a continuous output device with a feedback loop.
type PID struct {
	lifecycle
	pc  PIDConfig
	now func() time.Time

	defaults *Gains    // normalized configured gains
	gains    *Gains    // active gains; nil until restored or set
	loop     *feedback // present only while running
	applied  *float64  // last output applied to the actuator
}

var _ Controller = (*PID)(nil)

// NewPID creates a PID controller bound to the given host. Configured default
// gains are normalized for mode and inversion as SetGains would.
func NewPID(cfg Config, pc PIDConfig, host Thermostat) (*PID, error) {
	lc, err := newLifecycle(cfg, host)
	if err != nil {
		return nil, err
	}
	if pc.Limits == (Limits{}) {
		pc.Limits = DefaultLimits
	}
	if err := pc.Limits.Validate(); err != nil {
		return nil, err
	}
	p := &PID{lifecycle: lc, pc: pc, now: time.Now}
	if pc.Gains != nil {
		if err := pc.Gains.Validate(); err != nil {
			return nil, err
		}
		g := p.normalize(*pc.Gains)
		p.defaults = &g
	}
	return p, nil
}

// SetClock replaces the clock used for the loop's elapsed time.
func (p *PID) SetClock(now func() time.Time) {
	p.now = now
}

// Limits returns the output limits.
func (p *PID) Limits() Limits {
	return p.pc.Limits
}

// Gains returns the active gains, if any.
func (p *PID) Gains() (Gains, bool) {
	if p.gains == nil {
		return Gains{}, false
	}
	return *p.gains, true
}

// Output returns the last output applied to the actuator.
func (p *PID) Output() (float64, bool) {
	if p.applied == nil {
		return 0, false
	}
	return *p.applied, true
}

// Restore loads gains persisted before the last restart, used verbatim. Without
// a persisted triple the configured defaults are used.
func (p *PID) Restore() {
	if saved, ok := p.host.PersistedAttribute(p.cfg.Name, AttrPIDParams); ok && saved != "" {
		g, err := ParseGains(saved)
		if err == nil {
			p.gains = &g
			p.log.Infof("restored last PID params: %s", g)
			return
		}
		p.log.WithError(err).Warn("ignoring persisted PID params")
	}
	p.gains = p.defaults
	if p.gains != nil {
		p.log.Infof("No PID params found in state attributes, using default: %s", *p.gains)
	} else {
		p.log.Info("No PID params found in state attributes and no default configured")
	}
}

// SetGains replaces the active gains. Gains are always supplied as for a
// non-inverted heating device: in cool mode a non-negative kp is inverted, and a
// configured inversion flips them again. A running loop keeps its accumulated state.
func (p *PID) SetGains(g *Gains) error {
	if g == nil {
		return ErrNilGains
	}
	if err := g.Validate(); err != nil {
		return err
	}
	n := p.normalize(*g)
	p.gains = &n
	if p.loop != nil {
		p.loop.gains = n
	}
	p.log.Infof("New PID params: %s", n)
	return nil
}

func (p *PID) normalize(g Gains) Gains {
	if p.cfg.Mode == ModeCool && !(g.Kp < 0) {
		g = g.Invert()
		p.log.Warnf("Cooler mode but kp not negative. Inverting all PID params: %s", g)
	}
	if p.cfg.Inverted {
		g = g.Invert()
		p.log.Infof("Target behavior inverted requested in config. Inverting all PID params: %s", g)
	}
	return g
}

// ExtraAttributes exposes the active gains as "kp,ki,kd".
func (p *PID) ExtraAttributes() map[string]string {
	if p.gains == nil {
		return nil
	}
	return map[string]string{AttrPIDParams: p.gains.String()}
}

// IsWorking reports whether the last applied output is above the idle threshold.
func (p *PID) IsWorking() bool {
	if !p.running || p.applied == nil {
		return false
	}
	return *p.applied > p.pc.Limits.Min+p.pc.IdleThreshold
}

// Start builds the feedback loop. It fails with ErrMissingGains when neither
// restored nor configured gains exist, leaving the controller stopped.
func (p *PID) Start(ctx context.Context, cur, target float64) error {
	return p.start(cur, target, func() error {
		if p.gains == nil {
			return ErrMissingGains
		}
		p.loop = newFeedback(*p.gains, target, p.pc.Limits)
		p.applied = nil
		if st, ok := p.host.ActuatorState(p.cfg.Target); ok && st.HasValue && finite(st.Value) {
			p.loop.resume(st.Value)
			v := st.Value
			p.applied = &v
		}
		p.log.Infof("Initialized. PID params: %s, current output: %s", *p.gains, outputString(p.applied))
		return nil
	})
}

// Stop discards the feedback loop.
func (p *PID) Stop(ctx context.Context) {
	p.stop(func() { p.loop = nil })
}

// Control runs one loop iteration and applies the output when it changed.
func (p *PID) Control(ctx context.Context, cur, target float64, tick TickKind, force bool) {
	if !p.running || p.loop == nil {
		return
	}
	if p.loop.setpoint != target {
		p.log.Infof("Target setpoint was changed from %v to %v", p.loop.setpoint, target)
		p.loop.setpoint = target
	}

	out := p.loop.update(cur, p.now())

	if p.applied == nil || *p.applied != out {
		p.log.Debugf("Current temp: %v, target temp: %v, adjusting from %s to %s",
			cur, target, outputString(p.applied), formatFloat(out))
		p.issue(ctx, CommandSetOutput, out)
		p.applied = &out
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func outputString(v *float64) string {
	if v == nil {
		return "none"
	}
	return formatFloat(*v)
}
