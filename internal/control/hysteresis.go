package control

import (
	"context"
	"time"
)

// HysteresisConfig holds the tolerance band and minimum cycle duration of an
// on/off controller. A zero MinCycle disables gating.
type HysteresisConfig struct {
	ColdTolerance float64
	HotTolerance  float64
	MinCycle      time.Duration
}

// Hysteresis drives a binary switch toward the target using tolerance bands.
type Hysteresis struct {
	lifecycle
	hc HysteresisConfig
}

var _ Controller = (*Hysteresis)(nil)

// NewHysteresis creates an on/off controller bound to the given host.
func NewHysteresis(cfg Config, hc HysteresisConfig, host Thermostat) (*Hysteresis, error) {
	lc, err := newLifecycle(cfg, host)
	if err != nil {
		return nil, err
	}
	if hc.ColdTolerance < 0 {
		hc.ColdTolerance = 0
	}
	if hc.HotTolerance < 0 {
		hc.HotTolerance = 0
	}
	return &Hysteresis{lifecycle: lc, hc: hc}, nil
}

// Tolerances returns the tolerance settings.
func (h *Hysteresis) Tolerances() HysteresisConfig {
	return h.hc
}

// IsWorking reports whether the switch is logically on.
func (h *Hysteresis) IsWorking() bool {
	return h.isOn()
}

// ExtraAttributes returns nil; an on/off controller has nothing to persist.
func (h *Hysteresis) ExtraAttributes() map[string]string {
	return nil
}

// Start has no variant state to build.
func (h *Hysteresis) Start(ctx context.Context, cur, target float64) error {
	return h.start(cur, target, func() error { return nil })
}

// Stop always turns the switch off.
func (h *Hysteresis) Stop(ctx context.Context) {
	h.stop(func() { h.turnOff(ctx) })
}

// Control runs one hysteresis decision.
func (h *Hysteresis) Control(ctx context.Context, cur, target float64, tick TickKind, force bool) {
	if !h.running {
		return
	}

	// Keep-alive and forced calls ignore the minimum cycle duration.
	if tick == TickNormal && !force && h.hc.MinCycle > 0 {
		if !h.longEnough() {
			return
		}
	}

	tooCold := cur <= target-h.hc.ColdTolerance
	tooHot := cur >= target+h.hc.HotTolerance
	needOn := h.needOn(tooCold, tooHot)
	isOn := h.isOn()

	h.log.Debugf("too_hot: %v, too_cold: %v, need_turn_on: %v, is on: %v, (cur: %v, target: %v)",
		tooHot, tooCold, needOn, isOn, cur, target)

	if isOn {
		if !needOn {
			h.log.Infof("Turning off %s", h.cfg.Target)
			h.turnOff(ctx)
		} else if tick == TickKeepAlive {
			h.log.Infof("Keep-alive - Turning on %s", h.cfg.Target)
			h.turnOn(ctx)
		}
		return
	}

	if needOn {
		h.log.Infof("Turning on %s", h.cfg.Target)
		h.turnOn(ctx)
	} else if tick == TickKeepAlive {
		h.log.Infof("Keep-alive - Turning off %s", h.cfg.Target)
		h.turnOff(ctx)
	}
}

func (h *Hysteresis) needOn(tooCold, tooHot bool) bool {
	hvac := h.host.HVACMode()
	switch h.cfg.Mode {
	case ModeCool:
		return tooHot && (hvac == HVACCool || hvac == HVACHeatCool)
	case ModeHeat:
		return tooCold && (hvac == HVACHeat || hvac == HVACHeatCool)
	}
	return false
}

// longEnough gates conservatively: an unknown elapsed time counts as too short.
func (h *Hysteresis) longEnough() bool {
	physical := h.physicalOn()
	elapsed, err := h.host.Elapsed(h.cfg.Target, physical)
	if err != nil {
		h.log.WithError(err).Debug("min cycle check: elapsed unknown")
		return false
	}
	if elapsed < h.hc.MinCycle {
		h.log.Debugf("min cycle not reached: %v < %v", elapsed, h.hc.MinCycle)
		return false
	}
	return true
}

func (h *Hysteresis) physicalOn() bool {
	st, ok := h.host.ActuatorState(h.cfg.Target)
	return ok && st.On
}

// isOn evaluates the switch logically: an inverted device is on when its
// physical state is off.
func (h *Hysteresis) isOn() bool {
	st, ok := h.host.ActuatorState(h.cfg.Target)
	if !ok {
		return false
	}
	return st.On != h.cfg.Inverted
}

func (h *Hysteresis) turnOn(ctx context.Context) {
	if h.cfg.Inverted {
		h.issue(ctx, CommandTurnOff, 0)
		return
	}
	h.issue(ctx, CommandTurnOn, 0)
}

func (h *Hysteresis) turnOff(ctx context.Context) {
	if h.cfg.Inverted {
		h.issue(ctx, CommandTurnOn, 0)
		return
	}
	h.issue(ctx, CommandTurnOff, 0)
}
