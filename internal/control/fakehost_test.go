package control

import (
	"context"
	"errors"
	"time"
)

// fakeHost is a scripted Thermostat that records issued commands.
type fakeHost struct {
	hvac      HVACMode
	cur       *float64
	target    *float64
	actuators map[string]ActuatorState
	since     map[string]time.Time
	now       time.Time
	attrs     map[string]string

	Commands   []ActuatorCommand
	IssueError error

	// ElapsedError, if set, is returned by Elapsed.
	ElapsedError error
}

func newFakeHost(hvac HVACMode) *fakeHost {
	return &fakeHost{
		hvac:      hvac,
		actuators: map[string]ActuatorState{},
		since:     map[string]time.Time{},
		attrs:     map[string]string{},
		now:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeHost) EntityID() string   { return "climate.test" }
func (f *fakeHost) HVACMode() HVACMode { return f.hvac }
func (f *fakeHost) Context() Context   { return Context{ID: "ctx-1", Origin: "climate.test"} }

func (f *fakeHost) CurrentTemperature() (float64, bool) {
	if f.cur == nil {
		return 0, false
	}
	return *f.cur, true
}

func (f *fakeHost) TargetTemperature() (float64, bool) {
	if f.target == nil {
		return 0, false
	}
	return *f.target, true
}

func (f *fakeHost) ActuatorState(id string) (ActuatorState, bool) {
	st, ok := f.actuators[id]
	return st, ok
}

// IssueCommand records the command and applies it to the actuator table the
// way a real switch would echo it back.
func (f *fakeHost) IssueCommand(_ context.Context, cmd ActuatorCommand) error {
	if f.IssueError != nil {
		return f.IssueError
	}
	f.Commands = append(f.Commands, cmd)
	st := f.actuators[cmd.Entity]
	switch cmd.Command {
	case CommandTurnOn:
		f.setSwitch(cmd.Entity, true)
	case CommandTurnOff:
		f.setSwitch(cmd.Entity, false)
	case CommandSetOutput:
		st.Value, st.HasValue, st.On = cmd.Value, true, cmd.Value > 0
		f.actuators[cmd.Entity] = st
	}
	return nil
}

func (f *fakeHost) Elapsed(id string, on bool) (time.Duration, error) {
	if f.ElapsedError != nil {
		return 0, f.ElapsedError
	}
	st, ok := f.actuators[id]
	since, known := f.since[id]
	if !ok || !known || st.On != on {
		return 0, ErrUnknownElapsed
	}
	return f.now.Sub(since), nil
}

func (f *fakeHost) PersistedAttribute(controller, key string) (string, bool) {
	v, ok := f.attrs[controller+"/"+key]
	return v, ok
}

// setSwitch sets the physical state, recording the transition time on change.
func (f *fakeHost) setSwitch(id string, on bool) {
	st, ok := f.actuators[id]
	if !ok || st.On != on {
		f.since[id] = f.now
	}
	st.On = on
	f.actuators[id] = st
}

func (f *fakeHost) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fakeHost) reset() {
	f.Commands = nil
}

var errDelivery = errors.New("delivery failed")
