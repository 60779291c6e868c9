// Package config loads the thermostat daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/smart-thermostat/internal/control"
)

const (
	DefaultBroker      = "tcp://192.168.1.200:1883"
	DefaultHTTPAddr    = ":80"
	DefaultKeepAlive   = 5 * time.Minute
	DefaultHeartbeat   = 15 * time.Minute
	DefaultTolerance   = 0.3
	DefaultTopicPrefix = "thermostat"
	DefaultGPIOChip    = "gpiochip0"
)

// Controller types.
const (
	TypeSwitch = "switch"
	TypePID    = "pid"
)

// Actuator drivers.
const (
	DriverGPIO = "gpio"
	DriverMQTT = "mqtt"
)

var (
	ErrMissingEntityID   = errors.New("config: entity_id is required")
	ErrNoControllers     = errors.New("config: at least one controller is required")
	ErrDuplicateName     = errors.New("config: duplicate controller name")
	ErrUnknownType       = errors.New("config: unknown controller type")
	ErrUnknownDriver     = errors.New("config: unknown actuator driver")
	ErrUnknownActuator   = errors.New("config: controller target is not a configured actuator")
	ErrDriverUnsupported = errors.New("config: actuator driver cannot serve controller type")
	ErrDuplicateActuator = errors.New("config: duplicate actuator id")
)

// Config is the daemon configuration for one thermostat.
type Config struct {
	EntityID    string        `yaml:"entity_id"`
	Name        string        `yaml:"name"`
	LogLevel    string        `yaml:"log_level"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	HTTPAddr    string        `yaml:"http"`
	StateFile   string        `yaml:"state_file"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	HVACMode    string        `yaml:"hvac_mode"`
	TargetTemp  *float64      `yaml:"target_temp"`

	Controllers []ControllerConfig `yaml:"controllers"`
	Actuators   []ActuatorConfig   `yaml:"actuators"`
}

// ControllerConfig describes one controller of the thermostat.
type ControllerConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Mode     string `yaml:"mode"`
	Target   string `yaml:"target"`
	Inverted bool   `yaml:"inverted"`

	// switch
	ColdTolerance    *float64      `yaml:"cold_tolerance"`
	HotTolerance     *float64      `yaml:"hot_tolerance"`
	MinCycleDuration time.Duration `yaml:"min_cycle_duration"`

	// pid
	PIDParams     *PIDParams `yaml:"pid_params"`
	OutputMin     *float64   `yaml:"output_min"`
	OutputMax     *float64   `yaml:"output_max"`
	IdleThreshold float64    `yaml:"idle_threshold"`
}

// ActuatorConfig describes how an actuator entity is driven.
type ActuatorConfig struct {
	ID        string `yaml:"id"`
	Driver    string `yaml:"driver"`
	Chip      string `yaml:"chip"`
	Pin       int    `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

// PIDParams accepts either a "kp,ki,kd" string or a kp/ki/kd mapping.
type PIDParams control.Gains

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PIDParams) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		g, err := control.ParseGains(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*p = PIDParams(g)
		return nil
	}
	var g control.Gains
	if err := n.Decode(&g); err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*p = PIDParams(g)
	return nil
}

// MarshalYAML writes the params in the "kp,ki,kd" form.
func (p PIDParams) MarshalYAML() (interface{}, error) {
	return control.Gains(p).String(), nil
}

// DefaultConfig returns a Config with daemon defaults and no controllers.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		Broker:      DefaultBroker,
		TopicPrefix: DefaultTopicPrefix,
		HTTPAddr:    DefaultHTTPAddr,
		KeepAlive:   DefaultKeepAlive,
		Heartbeat:   DefaultHeartbeat,
		HVACMode:    string(control.HVACOff),
	}
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "smart-thermostat-" + cfg.EntityID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross references between controllers and actuators.
func (c *Config) Validate() error {
	if c.EntityID == "" {
		return ErrMissingEntityID
	}
	if _, err := control.ParseHVACMode(c.HVACMode); err != nil {
		return fmt.Errorf("config: hvac_mode %q: %w", c.HVACMode, err)
	}
	if len(c.Controllers) == 0 {
		return ErrNoControllers
	}

	actuators := make(map[string]ActuatorConfig, len(c.Actuators))
	for _, a := range c.Actuators {
		if _, dup := actuators[a.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateActuator, a.ID)
		}
		if a.Driver != DriverGPIO && a.Driver != DriverMQTT {
			return fmt.Errorf("%w: %q (actuator %q)", ErrUnknownDriver, a.Driver, a.ID)
		}
		actuators[a.ID] = a
	}

	names := make(map[string]bool, len(c.Controllers))
	for _, cc := range c.Controllers {
		if names[cc.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, cc.Name)
		}
		names[cc.Name] = true

		if err := cc.Control().Validate(); err != nil {
			return fmt.Errorf("config: controller %q: %w", cc.Name, err)
		}
		a, ok := actuators[cc.Target]
		if !ok {
			return fmt.Errorf("%w: %q (controller %q)", ErrUnknownActuator, cc.Target, cc.Name)
		}
		switch cc.Type {
		case TypeSwitch:
		case TypePID:
			if a.Driver == DriverGPIO {
				return fmt.Errorf("%w: %s drives %s", ErrDriverUnsupported, a.Driver, cc.Type)
			}
			if err := cc.PID().Limits.Validate(); err != nil {
				return fmt.Errorf("config: controller %q: %w", cc.Name, err)
			}
		default:
			return fmt.Errorf("%w: %q (controller %q)", ErrUnknownType, cc.Type, cc.Name)
		}
	}
	return nil
}

// Control returns the controller identity.
func (cc ControllerConfig) Control() control.Config {
	return control.Config{
		Name:     cc.Name,
		Mode:     control.Mode(cc.Mode),
		Target:   cc.Target,
		Inverted: cc.Inverted,
	}
}

// Hysteresis returns the switch settings, defaulting tolerances to DefaultTolerance.
func (cc ControllerConfig) Hysteresis() control.HysteresisConfig {
	hc := control.HysteresisConfig{
		ColdTolerance: DefaultTolerance,
		HotTolerance:  DefaultTolerance,
		MinCycle:      cc.MinCycleDuration,
	}
	if cc.ColdTolerance != nil {
		hc.ColdTolerance = *cc.ColdTolerance
	}
	if cc.HotTolerance != nil {
		hc.HotTolerance = *cc.HotTolerance
	}
	return hc
}

// PID returns the continuous-output settings.
func (cc ControllerConfig) PID() control.PIDConfig {
	pc := control.PIDConfig{
		Limits:        control.DefaultLimits,
		IdleThreshold: cc.IdleThreshold,
	}
	if cc.PIDParams != nil {
		g := control.Gains(*cc.PIDParams)
		pc.Gains = &g
	}
	if cc.OutputMin != nil {
		pc.Limits.Min = *cc.OutputMin
	}
	if cc.OutputMax != nil {
		pc.Limits.Max = *cc.OutputMax
	}
	return pc
}

// Actuator returns the actuator with the given id.
func (c *Config) Actuator(id string) (ActuatorConfig, bool) {
	for _, a := range c.Actuators {
		if a.ID == id {
			return a, true
		}
	}
	return ActuatorConfig{}, false
}
