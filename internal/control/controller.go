package control

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Config is the immutable identity of a controller.
type Config struct {
	Name     string
	Mode     Mode
	Target   string // actuator entity id
	Inverted bool
}

// Validate checks the config for unsupported values.
func (c Config) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.Mode != ModeHeat && c.Mode != ModeCool {
		return ErrUnsupportedMode
	}
	if c.Target == "" {
		return ErrMissingTarget
	}
	return nil
}

// lifecycle is the bookkeeping shared by every controller variant: the running
// flag, the host reference and a logger carrying the controller identity.
type lifecycle struct {
	cfg     Config
	host    Thermostat
	running bool
	log     *log.Entry
}

func newLifecycle(cfg Config, host Thermostat) (lifecycle, error) {
	if err := cfg.Validate(); err != nil {
		return lifecycle{}, err
	}
	return lifecycle{
		cfg:  cfg,
		host: host,
		log: log.WithFields(log.Fields{
			"thermostat": host.EntityID(),
			"controller": cfg.Name,
		}),
	}, nil
}

func (l *lifecycle) Name() string   { return l.cfg.Name }
func (l *lifecycle) Config() Config { return l.cfg }
func (l *lifecycle) Running() bool  { return l.running }

// start runs the variant start hook and flips the running flag on success.
func (l *lifecycle) start(cur, target float64, hook func() error) error {
	if err := hook(); err != nil {
		l.log.WithError(err).Errorf("Error starting controller, cur: %v, target: %v", cur, target)
		return err
	}
	l.log.Debugf("Started controller, cur: %v, target: %v", cur, target)
	l.running = true
	return nil
}

func (l *lifecycle) stop(hook func()) {
	l.log.Debug("Stopping controller")
	hook()
	l.running = false
}

// issue sends one command to the target actuator. Failures are logged only.
func (l *lifecycle) issue(ctx context.Context, command Command, value float64) {
	cmd := ActuatorCommand{
		Entity:  l.cfg.Target,
		Command: command,
		Value:   value,
		Context: l.host.Context(),
	}
	if err := l.host.IssueCommand(ctx, cmd); err != nil {
		l.log.WithError(err).Warnf("%s %s failed", command, l.cfg.Target)
	}
}
