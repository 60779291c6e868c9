// Package mqtt connects the thermostat to an MQTT broker with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadTemperature = errors.New("mqtt: temperature payload is neither a number nor {\"temperature\": n}")
	ErrBadState       = errors.New("mqtt: actuator payload is neither ON/OFF nor a number")
)

// Handler receives messages for a subscription.
// Handlers run on the client's goroutine and must not block.
type Handler func(topic string, payload []byte)

// Client publishes and subscribes on a broker.
type Client interface {
	// Publish sends payload to topic. While disconnected the message is
	// buffered and replayed after reconnecting.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers handler for a topic filter (+ and # wildcards allowed).
	// Subscriptions survive reconnects.
	Subscribe(topic string, handler Handler) error

	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// Message is a single outgoing publication.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Topics builds the topic tree of one thermostat: <prefix>/<entity_id>/...
type Topics struct {
	Base string
}

// NewTopics returns the topic tree for entityID under prefix.
func NewTopics(prefix, entityID string) Topics {
	return Topics{Base: strings.TrimSuffix(prefix, "/") + "/" + entityID}
}

func (t Topics) Temperature() string { return t.Base + "/temperature" }
func (t Topics) TargetSet() string   { return t.Base + "/target/set" }
func (t Topics) ModeSet() string     { return t.Base + "/mode/set" }
func (t Topics) Status() string      { return t.Base + "/status" }
func (t Topics) System() string      { return t.Base + "/system" }

// ActuatorState is where an actuator reports its state.
func (t Topics) ActuatorState(id string) string { return t.Base + "/actuator/" + id + "/state" }

// ActuatorSet is where commands for an actuator are published.
func (t Topics) ActuatorSet(id string) string { return t.Base + "/actuator/" + id + "/set" }

// ActuatorStates is the wildcard filter covering every actuator state topic.
func (t Topics) ActuatorStates() string { return t.ActuatorState("+") }

// ActuatorID extracts the actuator id from a state topic.
func (t Topics) ActuatorID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Base+"/actuator/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/state")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Match reports whether topic matches the subscription filter.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// ParseTemperature accepts a plain number or a JSON object {"temperature": n}.
func ParseTemperature(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %q", ErrBadTemperature, s)
		}
		return v, nil
	}
	var body struct {
		Temperature *float64 `json:"temperature"`
	}
	if err := json.Unmarshal([]byte(s), &body); err != nil || body.Temperature == nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTemperature, s)
	}
	return *body.Temperature, nil
}

// State is a decoded actuator state report.
type State struct {
	On       bool
	Value    float64
	HasValue bool
}

// ParseState accepts ON/OFF (any case) or a numeric output; a number above zero counts as on.
func ParseState(payload []byte) (State, error) {
	s := strings.TrimSpace(string(payload))
	switch strings.ToUpper(s) {
	case "ON":
		return State{On: true}, nil
	case "OFF":
		return State{On: false}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return State{}, fmt.Errorf("%w: %q", ErrBadState, s)
	}
	return State{On: v > 0, Value: v, HasValue: true}, nil
}

// FormatSwitch returns the ON/OFF command payload.
func FormatSwitch(on bool) []byte {
	if on {
		return []byte("ON")
	}
	return []byte("OFF")
}

// FormatOutput returns the numeric command payload.
func FormatOutput(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', -1, 64))
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason    string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	EntityID  string
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Entity    string `json:"entity_id"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Entity:    event.EntityID,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is registered as the last will so the broker announces an unclean exit.
func WillPayload(entityID string) []byte {
	b, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Entity: entityID}})
	return b
}
