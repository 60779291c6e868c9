package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event              string           `json:"event,omitempty"`
	Reason             string           `json:"reason,omitempty"`
	EntityID           string           `json:"entity_id"`
	Name               string           `json:"name,omitempty"`
	HVACMode           string           `json:"hvac_mode"`
	CurrentTemperature *float64         `json:"current_temperature"`
	TargetTemperature  *float64         `json:"target_temperature"`
	UptimeSeconds      int64            `json:"uptime_seconds"`
	StartTime          string           `json:"start_time"`
	Timestamp          string           `json:"timestamp"`
	Commands           int              `json:"commands"`
	MQTT               MQTTStatus       `json:"mqtt"`
	Controllers        []ControllerJSON `json:"controllers"`
	Actuators          []ActuatorJSON   `json:"actuators"`
	Config             ConfigJSON       `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ControllerJSON is the JSON representation of a controller.
type ControllerJSON struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Mode     string   `json:"mode"`
	Target   string   `json:"target"`
	Inverted bool     `json:"inverted"`
	Running  bool     `json:"running"`
	Working  bool     `json:"working"`
	Gains    string   `json:"pid_params,omitempty"`
	Output   *float64 `json:"output,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ActuatorJSON is the JSON representation of an actuator.
type ActuatorJSON struct {
	ID     string   `json:"id"`
	Driver string   `json:"driver"`
	State  string   `json:"state"`
	Value  *float64 `json:"value,omitempty"`
	Since  string   `json:"since,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	KeepAliveSeconds int64  `json:"keep_alive_seconds"`
	HeartbeatSeconds int64  `json:"heartbeat_seconds"`
	Broker           string `json:"broker"`
	HTTPAddr         string `json:"http_addr"`
	StateFile        string `json:"state_file,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		EntityID:           snap.Config.EntityID,
		Name:               snap.Config.Name,
		HVACMode:           snap.HVACMode,
		CurrentTemperature: snap.Current,
		TargetTemperature:  snap.Target,
		UptimeSeconds:      int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:          snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:          snap.Now.UTC().Format(time.RFC3339),
		Commands:           snap.Commands,
		MQTT:               MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Controllers:        make([]ControllerJSON, 0, len(snap.Controllers)),
		Actuators:          make([]ActuatorJSON, 0, len(snap.Actuators)),
		Config: ConfigJSON{
			KeepAliveSeconds: int64(snap.Config.KeepAlive.Seconds()),
			HeartbeatSeconds: int64(snap.Config.Heartbeat.Seconds()),
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
			StateFile:        snap.Config.StateFile,
		},
	}
	if inner.HVACMode == "" {
		inner.HVACMode = "unknown"
	}

	for _, c := range snap.Controllers {
		inner.Controllers = append(inner.Controllers, ControllerJSON{
			Name:     c.Name,
			Kind:     c.Kind,
			Mode:     c.Mode,
			Target:   c.Target,
			Inverted: c.Inverted,
			Running:  c.Running,
			Working:  c.Working,
			Gains:    c.Gains,
			Output:   c.Output,
			Error:    c.Error,
		})
	}
	for _, a := range snap.Actuators {
		aj := ActuatorJSON{ID: a.ID, Driver: a.Driver, State: "OFF"}
		if a.On {
			aj.State = "ON"
		}
		if a.HasValue {
			v := a.Value
			aj.Value = &v
		}
		if !a.Since.IsZero() {
			aj.Since = a.Since.UTC().Format(time.RFC3339)
		}
		inner.Actuators = append(inner.Actuators, aj)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact JSON status published over MQTT.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
