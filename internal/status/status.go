// Package status provides a thread-safe status tracker for the thermostat daemon.
// It is written by the run loop and read by HTTP handlers and MQTT status publishing.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	EntityID  string
	Name      string
	Broker    string
	HTTPAddr  string
	StateFile string
	KeepAlive time.Duration
	Heartbeat time.Duration
}

// Controller is the display state of one controller.
type Controller struct {
	Name     string
	Kind     string // "switch" or "pid"
	Mode     string
	Target   string
	Inverted bool
	Running  bool
	Working  bool
	Gains    string   // "kp,ki,kd", PID only
	Output   *float64 // last applied output, PID only
	Error    string   // last start failure
}

// Actuator is the display state of one actuator.
type Actuator struct {
	ID       string
	Driver   string
	On       bool
	Value    float64
	HasValue bool
	Since    time.Time // last on/off transition, zero if never seen
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	HVACMode      string
	Current       *float64
	Target        *float64
	Controllers   []Controller
	Actuators     []Actuator
	Commands      int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// SetTemperatures records the current and target temperature; nil means unknown.
func (t *Tracker) SetTemperatures(current, target *float64) {
	t.mu.Lock()
	t.snap.Current = copyFloat(current)
	t.snap.Target = copyFloat(target)
	t.mu.Unlock()
}

// SetHVACMode records the thermostat HVAC mode.
func (t *Tracker) SetHVACMode(mode string) {
	t.mu.Lock()
	t.snap.HVACMode = mode
	t.mu.Unlock()
}

// SetControllers replaces the controller table.
func (t *Tracker) SetControllers(cs []Controller) {
	cp := make([]Controller, len(cs))
	for i, c := range cs {
		c.Output = copyFloat(c.Output)
		cp[i] = c
	}
	t.mu.Lock()
	t.snap.Controllers = cp
	t.mu.Unlock()
}

// SetActuators replaces the actuator table.
func (t *Tracker) SetActuators(as []Actuator) {
	cp := append([]Actuator(nil), as...)
	t.mu.Lock()
	t.snap.Actuators = cp
	t.mu.Unlock()
}

// CommandIssued counts one actuator command.
func (t *Tracker) CommandIssued() {
	t.mu.Lock()
	t.snap.Commands++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set from the tracker clock at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Controllers = append([]Controller(nil), t.snap.Controllers...)
	s.Actuators = append([]Actuator(nil), t.snap.Actuators...)
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
