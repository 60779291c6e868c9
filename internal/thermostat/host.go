// Package thermostat hosts the controllers of one thermostat entity.
//
// Host owns every piece of state the controllers read: temperatures, the HVAC
// mode and the actuator table. All methods must be called from a single
// goroutine (the daemon run loop); web and MQTT reach it through a Queue.
package thermostat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/smart-thermostat/internal/config"
	"github.com/sweeney/smart-thermostat/internal/control"
	"github.com/sweeney/smart-thermostat/internal/metrics"
	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/store"
)

var (
	ErrUnknownActuator    = errors.New("thermostat: unknown actuator")
	ErrUnknownController  = errors.New("thermostat: unknown controller")
	ErrNotPID             = errors.New("thermostat: controller has no PID params")
	ErrInvalidTemperature = errors.New("thermostat: temperature is not a finite number")
	ErrInvalidOutput      = errors.New("thermostat: actuator output is not a finite number")
)

// Deps are the collaborators of a Host. Store and Drivers are required.
type Deps struct {
	Store   *store.Store
	Drivers map[string]Driver
	Tracker *status.Tracker
	Metrics *metrics.Metrics
	Clock   func() time.Time

	// OnUpdate is called after every handled event, e.g. to publish status.
	OnUpdate func()
}

type actuator struct {
	id     string
	driver string
	drv    Driver
	state  control.ActuatorState
	known  bool
	since  time.Time // last on/off transition
}

type controllerEntry struct {
	kind string
	c    control.Controller
	err  error // last start failure
}

// Host implements control.Thermostat for one configured entity.
type Host struct {
	entityID string
	hvac     control.HVACMode
	cur      *float64
	target   *float64

	actuators   map[string]*actuator
	order       []string
	controllers []*controllerEntry

	store    *store.Store
	tracker  *status.Tracker
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
	onUpdate func()
	log      *log.Entry
}

var _ control.Thermostat = (*Host)(nil)

// New builds the host and its controllers from cfg. PID controllers restore
// their gains from the store here. The host owns deps.Drivers: Close releases
// them, and they are closed if New fails.
func New(cfg *config.Config, deps Deps) (*Host, error) {
	h, err := newHost(cfg, deps)
	if err != nil {
		closeDrivers(deps.Drivers)
		return nil, err
	}
	return h, nil
}

func newHost(cfg *config.Config, deps Deps) (*Host, error) {
	hvac, err := control.ParseHVACMode(cfg.HVACMode)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("thermostat: store is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	h := &Host{
		entityID:  cfg.EntityID,
		hvac:      hvac,
		target:    copyFloat(cfg.TargetTemp),
		actuators: make(map[string]*actuator, len(cfg.Actuators)),
		store:     deps.Store,
		tracker:   deps.Tracker,
		metrics:   deps.Metrics,
		now:       now,
		newID:     uuid.NewString,
		onUpdate:  deps.OnUpdate,
		log:       log.WithField("thermostat", cfg.EntityID),
	}

	for _, a := range cfg.Actuators {
		drv, ok := deps.Drivers[a.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no driver for %q", ErrUnknownActuator, a.ID)
		}
		act := &actuator{id: a.ID, driver: a.Driver, drv: drv}
		if r, ok := drv.(stateReader); ok {
			if st, err := r.State(); err == nil {
				h.observe(act, st)
			} else {
				h.log.WithError(err).WithField("actuator", a.ID).Warn("Could not read initial actuator state")
			}
		}
		h.actuators[a.ID] = act
		h.order = append(h.order, a.ID)
	}

	for _, cc := range cfg.Controllers {
		e := &controllerEntry{kind: cc.Type}
		switch cc.Type {
		case config.TypeSwitch:
			e.c, err = control.NewHysteresis(cc.Control(), cc.Hysteresis(), h)
		case config.TypePID:
			var p *control.PID
			p, err = control.NewPID(cc.Control(), cc.PID(), h)
			if err == nil {
				p.SetClock(now)
				p.Restore()
				e.c = p
			}
		default:
			err = fmt.Errorf("%w: %q", config.ErrUnknownType, cc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", cc.Name, err)
		}
		h.controllers = append(h.controllers, e)
	}

	h.refresh()
	return h, nil
}

// EntityID implements control.Thermostat.
func (h *Host) EntityID() string { return h.entityID }

// HVACMode implements control.Thermostat.
func (h *Host) HVACMode() control.HVACMode { return h.hvac }

// Context returns a fresh correlation id for each command.
func (h *Host) Context() control.Context {
	return control.Context{ID: h.newID(), Origin: h.entityID}
}

func (h *Host) CurrentTemperature() (float64, bool) { return deref(h.cur) }
func (h *Host) TargetTemperature() (float64, bool)  { return deref(h.target) }

// ActuatorState implements control.Thermostat.
func (h *Host) ActuatorState(id string) (control.ActuatorState, bool) {
	a, ok := h.actuators[id]
	if !ok || !a.known {
		return control.ActuatorState{}, false
	}
	return a.state, true
}

// IssueCommand delivers cmd through the actuator's driver. On success the
// commanded state is recorded without waiting for the device to report back.
func (h *Host) IssueCommand(ctx context.Context, cmd control.ActuatorCommand) error {
	a, ok := h.actuators[cmd.Entity]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActuator, cmd.Entity)
	}
	err := a.drv.Send(ctx, cmd)
	h.metrics.CommandIssued(a.id, string(cmd.Command), err != nil)
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd.Command, a.id, err)
	}
	if h.tracker != nil {
		h.tracker.CommandIssued()
	}

	h.log.WithFields(log.Fields{
		"actuator": a.id,
		"command":  cmd.Command,
		"context":  cmd.Context.ID,
	}).Debug("Command issued")

	st := a.state
	switch cmd.Command {
	case control.CommandTurnOn:
		st.On = true
	case control.CommandTurnOff:
		st.On = false
	case control.CommandSetOutput:
		st = control.ActuatorState{On: cmd.Value > 0, Value: cmd.Value, HasValue: true}
	}
	h.observe(a, st)
	return nil
}

// Elapsed implements control.Thermostat.
func (h *Host) Elapsed(id string, on bool) (time.Duration, error) {
	a, ok := h.actuators[id]
	if !ok || !a.known || a.state.On != on || a.since.IsZero() {
		return 0, control.ErrUnknownElapsed
	}
	return h.now().Sub(a.since), nil
}

// PersistedAttribute implements control.Thermostat.
func (h *Host) PersistedAttribute(controller, key string) (string, bool) {
	return h.store.Get(controller, key)
}

// HandleTemperature records a sensor reading and runs a normal control pass.
func (h *Host) HandleTemperature(ctx context.Context, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidTemperature
	}
	h.cur = &v
	h.sync(ctx)
	h.controlAll(ctx, control.TickNormal, false)
	h.finish()
	return nil
}

// HandleTarget records a new setpoint and forces a control pass.
func (h *Host) HandleTarget(ctx context.Context, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidTemperature
	}
	h.log.Infof("Target temperature set to %v", v)
	h.target = &v
	h.sync(ctx)
	h.controlAll(ctx, control.TickNormal, true)
	h.finish()
	return nil
}

// HandleHVACMode switches the operating mode, starting and stopping
// controllers accordingly, and forces a control pass.
func (h *Host) HandleHVACMode(ctx context.Context, m control.HVACMode) error {
	if _, err := control.ParseHVACMode(string(m)); err != nil {
		return err
	}
	h.log.Infof("HVAC mode set to %s", m)
	h.hvac = m
	h.sync(ctx)
	h.controlAll(ctx, control.TickNormal, true)
	h.finish()
	return nil
}

// HandleActuatorState records a state reported by the device. Controllers
// driving that actuator run a normal pass when the state actually changed.
func (h *Host) HandleActuatorState(ctx context.Context, id string, st control.ActuatorState) error {
	a, ok := h.actuators[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActuator, id)
	}
	if st.HasValue && (math.IsNaN(st.Value) || math.IsInf(st.Value, 0)) {
		return fmt.Errorf("%w: %q reported %v", ErrInvalidOutput, id, st.Value)
	}
	if a.known && a.state == st {
		return nil
	}
	h.observe(a, st)
	for _, e := range h.controllers {
		if e.c.Running() && e.c.Config().Target == id {
			h.control(ctx, e, control.TickNormal, false)
		}
	}
	h.finish()
	return nil
}

// KeepAlive re-asserts every running controller's decision.
func (h *Host) KeepAlive(ctx context.Context) {
	h.controlAll(ctx, control.TickKeepAlive, false)
	h.finish()
}

// SetGains replaces the gains of a PID controller and persists them.
func (h *Host) SetGains(ctx context.Context, name string, g *control.Gains) error {
	e := h.find(name)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownController, name)
	}
	p, ok := e.c.(*control.PID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotPID, name)
	}
	if err := p.SetGains(g); err != nil {
		return err
	}
	h.sync(ctx)
	h.finish()
	return nil
}

// Close stops every running controller, persists attributes and releases drivers.
func (h *Host) Close(ctx context.Context) error {
	for _, e := range h.controllers {
		if e.c.Running() {
			e.c.Stop(ctx)
		}
	}
	h.persist()

	var errs []error
	for _, id := range h.order {
		if err := h.actuators[id].drv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	h.refresh()
	return errors.Join(errs...)
}

// Controllers returns the hosted controllers in configuration order.
func (h *Host) Controllers() []control.Controller {
	out := make([]control.Controller, len(h.controllers))
	for i, e := range h.controllers {
		out[i] = e.c
	}
	return out
}

// sync starts controllers allowed by the HVAC mode once both temperatures are
// known and stops the ones no longer allowed. A failed start is retried on the
// next sync.
func (h *Host) sync(ctx context.Context) {
	for _, e := range h.controllers {
		cfg := e.c.Config()
		allowed := h.hvac.Allows(cfg.Mode) && h.cur != nil && h.target != nil
		switch {
		case allowed && !e.c.Running():
			if err := e.c.Start(ctx, *h.cur, *h.target); err != nil {
				if e.err == nil || e.err.Error() != err.Error() {
					h.metrics.StartFailed(cfg.Name)
				}
				e.err = err
				continue
			}
			e.err = nil
		case !h.hvac.Allows(cfg.Mode) && e.c.Running():
			e.c.Stop(ctx)
		}
	}
}

func (h *Host) controlAll(ctx context.Context, tick control.TickKind, force bool) {
	for _, e := range h.controllers {
		if e.c.Running() {
			h.control(ctx, e, tick, force)
		}
	}
}

func (h *Host) control(ctx context.Context, e *controllerEntry, tick control.TickKind, force bool) {
	e.c.Control(ctx, *h.cur, *h.target, tick, force)
	h.metrics.ControlTick(e.c.Name(), tick.String())
}

// finish persists changed attributes and refreshes status after an event.
func (h *Host) finish() {
	h.persist()
	h.refresh()
	if h.onUpdate != nil {
		h.onUpdate()
	}
}

// persist records every controller's attributes and writes the store while it
// has unsaved changes, so a failed write is retried on the next event.
func (h *Host) persist() {
	for _, e := range h.controllers {
		h.store.Set(e.c.Name(), e.c.ExtraAttributes())
	}
	if !h.store.Dirty() {
		return
	}
	if err := h.store.Save(); err != nil {
		h.log.WithError(err).Warn("Could not save controller attributes")
	}
}

func (h *Host) observe(a *actuator, st control.ActuatorState) {
	if !a.known || a.state.On != st.On {
		a.since = h.now()
	}
	a.state = st
	a.known = true
	h.metrics.SetActuator(a.id, st.On)
}

func (h *Host) find(name string) *controllerEntry {
	for _, e := range h.controllers {
		if e.c.Name() == name {
			return e
		}
	}
	return nil
}

// refresh mirrors the host state into the status tracker and metrics.
func (h *Host) refresh() {
	h.metrics.SetTemperatures(h.cur, h.target)

	cs := make([]status.Controller, 0, len(h.controllers))
	for _, e := range h.controllers {
		cfg := e.c.Config()
		sc := status.Controller{
			Name:     cfg.Name,
			Kind:     e.kind,
			Mode:     string(cfg.Mode),
			Target:   cfg.Target,
			Inverted: cfg.Inverted,
			Running:  e.c.Running(),
			Working:  e.c.IsWorking(),
		}
		if p, ok := e.c.(*control.PID); ok {
			if g, ok := p.Gains(); ok {
				sc.Gains = g.String()
			}
			if out, ok := p.Output(); ok {
				sc.Output = &out
			}
		}
		if e.err != nil {
			sc.Error = e.err.Error()
		}
		h.metrics.ObserveController(sc.Name, sc.Working, sc.Output)
		cs = append(cs, sc)
	}

	if h.tracker == nil {
		return
	}
	as := make([]status.Actuator, 0, len(h.order))
	for _, id := range h.order {
		a := h.actuators[id]
		as = append(as, status.Actuator{
			ID:       a.id,
			Driver:   a.driver,
			On:       a.state.On,
			Value:    a.state.Value,
			HasValue: a.state.HasValue,
			Since:    a.since,
		})
	}
	h.tracker.SetHVACMode(string(h.hvac))
	h.tracker.SetTemperatures(h.cur, h.target)
	h.tracker.SetControllers(cs)
	h.tracker.SetActuators(as)
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
