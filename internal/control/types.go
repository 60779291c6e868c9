// Package control contains the per-thermostat control algorithms.
// This package has NO dependency on MQTT, GPIO, HTTP or files: everything it needs from
// the outside world is reached through the Thermostat interface.
// Time is injectable so that gating and the feedback loop can be tested deterministically.
package control

import (
	"context"
	"errors"
	"time"
)

// Mode is the direction a controller drives its actuator.
type Mode string

const (
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
)

// HVACMode is the operating mode selected on the thermostat.
type HVACMode string

const (
	HVACOff      HVACMode = "off"
	HVACHeat     HVACMode = "heat"
	HVACCool     HVACMode = "cool"
	HVACHeatCool HVACMode = "heat_cool"
)

// Allows reports whether a controller with mode m may run under this HVAC mode.
func (h HVACMode) Allows(m Mode) bool {
	switch h {
	case HVACHeatCool:
		return true
	case HVACHeat:
		return m == ModeHeat
	case HVACCool:
		return m == ModeCool
	}
	return false
}

// ParseHVACMode converts a string to an HVACMode.
func ParseHVACMode(s string) (HVACMode, error) {
	switch m := HVACMode(s); m {
	case HVACOff, HVACHeat, HVACCool, HVACHeatCool:
		return m, nil
	}
	return "", ErrUnsupportedHVACMode
}

// TickKind tells a controller why Control was invoked.
type TickKind int

const (
	// TickNormal is a reaction to a sensor, target or actuator change.
	TickNormal TickKind = iota
	// TickKeepAlive is a periodic re-assertion of the current decision.
	TickKeepAlive
)

func (k TickKind) String() string {
	if k == TickKeepAlive {
		return "keep-alive"
	}
	return "normal"
}

// Command is an actuation verb understood by the host.
type Command string

const (
	CommandTurnOn    Command = "turn_on"
	CommandTurnOff   Command = "turn_off"
	CommandSetOutput Command = "set_output"
)

// Context identifies the origin of an actuation so the host can correlate the
// resulting state change with the thermostat that caused it.
type Context struct {
	ID     string
	Origin string
}

// ActuatorCommand is a single command addressed to one actuator entity.
type ActuatorCommand struct {
	Entity  string
	Command Command
	Value   float64 // only for CommandSetOutput
	Context Context
}

// ActuatorState is the last state reported by an actuator.
// HasValue is set for continuous output devices.
type ActuatorState struct {
	On       bool
	Value    float64
	HasValue bool
}

// Thermostat is the host adapter a controller queries and commands.
// Controllers hold a non-owning reference; they never store sensor or actuator state.
type Thermostat interface {
	// EntityID returns the thermostat entity id used in log lines.
	EntityID() string

	// HVACMode returns the currently selected operating mode.
	HVACMode() HVACMode

	// Context returns the context to attach to issued commands.
	Context() Context

	CurrentTemperature() (float64, bool)
	TargetTemperature() (float64, bool)

	// ActuatorState returns the last known state of the actuator entity.
	ActuatorState(entityID string) (ActuatorState, bool)

	// IssueCommand delivers a command to an actuator. Delivery failures are the
	// host's responsibility; controllers log them and never retry.
	IssueCommand(ctx context.Context, cmd ActuatorCommand) error

	// Elapsed returns how long the actuator has held the given on/off state.
	// It returns ErrUnknownElapsed if the actuator is not in that state or the
	// time of the last transition is unknown.
	Elapsed(entityID string, on bool) (time.Duration, error)

	// PersistedAttribute returns an attribute saved for the named controller
	// before the last restart.
	PersistedAttribute(controller, key string) (string, bool)
}

// Controller is the contract shared by the hysteresis and PID variants.
// Calls for the same instance must be serialized by the host.
type Controller interface {
	Name() string
	Config() Config
	Running() bool

	// Start initializes variant state. It must not be called while running.
	Start(ctx context.Context, cur, target float64) error

	// Stop releases variant state. It always succeeds.
	Stop(ctx context.Context)

	// Control runs one control decision. It is a no-op when not running.
	Control(ctx context.Context, cur, target float64, tick TickKind, force bool)

	// IsWorking reports whether the actuator is actively driving toward target.
	IsWorking() bool

	// ExtraAttributes returns attributes to persist across restarts.
	ExtraAttributes() map[string]string
}

// AttrPIDParams is the persisted attribute holding serialized gains.
const AttrPIDParams = "pid_params"

var (
	ErrUnsupportedMode     = errors.New("control: unsupported controller mode")
	ErrUnsupportedHVACMode = errors.New("control: unsupported hvac mode")
	ErrMissingTarget       = errors.New("control: target actuator not set")
	ErrMissingName         = errors.New("control: controller name not set")
	ErrMissingGains        = errors.New("control: no PID params configured")
	ErrNilGains            = errors.New("control: PID params can't be nil")
	ErrInvalidGains        = errors.New("control: invalid PID params")
	ErrInvalidLimits       = errors.New("control: output min must be below max")
	ErrUnknownElapsed      = errors.New("control: elapsed time in state unknown")
)
