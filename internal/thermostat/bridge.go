package thermostat

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/smart-thermostat/internal/control"
	"github.com/sweeney/smart-thermostat/internal/mqtt"
)

// Subscribe wires the thermostat's MQTT input topics to q. Malformed payloads
// are logged and dropped.
func Subscribe(client mqtt.Client, topics mqtt.Topics, q *Queue) error {
	subs := []struct {
		topic   string
		handler mqtt.Handler
	}{
		{topics.Temperature(), func(topic string, payload []byte) {
			v, err := mqtt.ParseTemperature(payload)
			if err != nil {
				log.WithError(err).WithField("topic", topic).Warn("Ignoring temperature")
				return
			}
			q.Post(Request{Kind: RequestTemperature, Value: v})
		}},
		{topics.TargetSet(), func(topic string, payload []byte) {
			v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
			if err != nil {
				log.WithError(err).WithField("topic", topic).Warn("Ignoring target")
				return
			}
			q.Post(Request{Kind: RequestTarget, Value: v})
		}},
		{topics.ModeSet(), func(topic string, payload []byte) {
			m, err := control.ParseHVACMode(strings.ToLower(strings.TrimSpace(string(payload))))
			if err != nil {
				log.WithError(err).WithField("topic", topic).Warn("Ignoring hvac mode")
				return
			}
			q.Post(Request{Kind: RequestHVACMode, Mode: m})
		}},
		{topics.ActuatorStates(), func(topic string, payload []byte) {
			id, ok := topics.ActuatorID(topic)
			if !ok {
				return
			}
			st, err := mqtt.ParseState(payload)
			if err != nil {
				log.WithError(err).WithField("topic", topic).Warn("Ignoring actuator state")
				return
			}
			q.Post(Request{
				Kind:     RequestActuatorState,
				Actuator: id,
				State:    control.ActuatorState{On: st.On, Value: st.Value, HasValue: st.HasValue},
			})
		}},
	}

	for _, s := range subs {
		if err := client.Subscribe(s.topic, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
	}
	return nil
}
