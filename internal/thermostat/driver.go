package thermostat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/smart-thermostat/internal/config"
	"github.com/sweeney/smart-thermostat/internal/control"
	"github.com/sweeney/smart-thermostat/internal/gpio"
	"github.com/sweeney/smart-thermostat/internal/mqtt"
)

var ErrUnsupportedCommand = errors.New("thermostat: command not supported by actuator driver")

// Driver delivers commands to one physical actuator.
type Driver interface {
	Send(ctx context.Context, cmd control.ActuatorCommand) error
	Close() error
}

// stateReader is implemented by drivers that can read the actuator back.
type stateReader interface {
	State() (control.ActuatorState, error)
}

// SwitchDriver drives a relay through a gpio.Switch.
type SwitchDriver struct {
	sw gpio.Switch
}

func NewSwitchDriver(sw gpio.Switch) *SwitchDriver {
	return &SwitchDriver{sw: sw}
}

func (d *SwitchDriver) Send(_ context.Context, cmd control.ActuatorCommand) error {
	switch cmd.Command {
	case control.CommandTurnOn:
		return d.sw.Set(true)
	case control.CommandTurnOff:
		return d.sw.Set(false)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd.Command)
}

func (d *SwitchDriver) State() (control.ActuatorState, error) {
	on, err := d.sw.Get()
	if err != nil {
		return control.ActuatorState{}, err
	}
	return control.ActuatorState{On: on}, nil
}

func (d *SwitchDriver) Close() error {
	return d.sw.Close()
}

// MQTTDriver publishes commands to the actuator's set topic. The device
// reports its state back on the state topic.
type MQTTDriver struct {
	client mqtt.Client
	topic  string
}

func NewMQTTDriver(client mqtt.Client, topic string) *MQTTDriver {
	return &MQTTDriver{client: client, topic: topic}
}

func (d *MQTTDriver) Send(_ context.Context, cmd control.ActuatorCommand) error {
	var payload []byte
	switch cmd.Command {
	case control.CommandTurnOn:
		payload = mqtt.FormatSwitch(true)
	case control.CommandTurnOff:
		payload = mqtt.FormatSwitch(false)
	case control.CommandSetOutput:
		payload = mqtt.FormatOutput(cmd.Value)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd.Command)
	}
	return d.client.Publish(d.topic, 1, false, payload)
}

// Close is a no-op; the client is shared and closed by its owner.
func (d *MQTTDriver) Close() error {
	return nil
}

// SwitchOpener opens the relay of a gpio actuator.
type SwitchOpener func(a config.ActuatorConfig) (gpio.Switch, error)

// OpenGPIO opens a real GPIO line.
func OpenGPIO(a config.ActuatorConfig) (gpio.Switch, error) {
	return gpio.NewRealSwitch(a.Chip, a.Pin, a.ActiveLow)
}

// BuildDrivers creates a driver for every configured actuator. On failure the
// drivers opened so far are closed.
func BuildDrivers(cfg *config.Config, client mqtt.Client, topics mqtt.Topics, open SwitchOpener) (map[string]Driver, error) {
	drivers := make(map[string]Driver, len(cfg.Actuators))
	for _, a := range cfg.Actuators {
		switch a.Driver {
		case config.DriverGPIO:
			sw, err := open(a)
			if err != nil {
				closeDrivers(drivers)
				return nil, fmt.Errorf("actuator %s: %w", a.ID, err)
			}
			drivers[a.ID] = NewSwitchDriver(sw)
		case config.DriverMQTT:
			if client == nil {
				closeDrivers(drivers)
				return nil, fmt.Errorf("actuator %s: mqtt driver without a client", a.ID)
			}
			drivers[a.ID] = NewMQTTDriver(client, topics.ActuatorSet(a.ID))
		default:
			closeDrivers(drivers)
			return nil, fmt.Errorf("actuator %s: %w: %q", a.ID, config.ErrUnknownDriver, a.Driver)
		}
	}
	return drivers, nil
}

func closeDrivers(drivers map[string]Driver) {
	for _, d := range drivers {
		d.Close()
	}
}
