// Package metrics exposes the control loop as prometheus series.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "thermostat"

type Metrics struct {
	currentTemp   prometheus.Gauge
	targetTemp    prometheus.Gauge
	output        *prometheus.GaugeVec
	working       *prometheus.GaugeVec
	actuatorOn    *prometheus.GaugeVec
	commands      *prometheus.CounterVec
	commandErrors *prometheus.CounterVec
	ticks         *prometheus.CounterVec
	startFailures *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		currentTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_temperature_celsius",
			Help:      "Last reported room temperature.",
		}),
		targetTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_temperature_celsius",
			Help:      "Requested room temperature.",
		}),
		output: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_output",
			Help:      "Last output applied by a PID controller.",
		}, []string{"controller"}),
		working: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_working",
			Help:      "1 while a controller is actively heating or cooling.",
		}, []string{"controller"}),
		actuatorOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_on",
			Help:      "Physical on/off state of an actuator.",
		}, []string{"actuator"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_commands_total",
			Help:      "Commands issued to actuators.",
		}, []string{"actuator", "command"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_command_errors_total",
			Help:      "Commands that could not be delivered.",
		}, []string{"actuator"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_ticks_total",
			Help:      "Control invocations by tick kind.",
		}, []string{"controller", "kind"}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_start_failures_total",
			Help:      "Controller starts that failed.",
		}, []string{"controller"}),
	}

	reg.MustRegister(
		m.currentTemp,
		m.targetTemp,
		m.output,
		m.working,
		m.actuatorOn,
		m.commands,
		m.commandErrors,
		m.ticks,
		m.startFailures,
	)
	return m
}

// SetTemperatures updates the temperature gauges; unknown values are left as they were.
func (m *Metrics) SetTemperatures(current, target *float64) {
	if m == nil {
		return
	}
	if current != nil {
		m.currentTemp.Set(*current)
	}
	if target != nil {
		m.targetTemp.Set(*target)
	}
}

// ObserveController records the working flag and, when known, the output.
func (m *Metrics) ObserveController(name string, working bool, output *float64) {
	if m == nil {
		return
	}
	m.working.WithLabelValues(name).Set(boolValue(working))
	if output != nil {
		m.output.WithLabelValues(name).Set(*output)
	}
}

// SetActuator records the physical state of an actuator.
func (m *Metrics) SetActuator(id string, on bool) {
	if m == nil {
		return
	}
	m.actuatorOn.WithLabelValues(id).Set(boolValue(on))
}

// CommandIssued counts a command; failed marks it undelivered.
func (m *Metrics) CommandIssued(actuator, command string, failed bool) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(actuator, command).Inc()
	if failed {
		m.commandErrors.WithLabelValues(actuator).Inc()
	}
}

// ControlTick counts one Control call.
func (m *Metrics) ControlTick(controller, kind string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(controller, kind).Inc()
}

// StartFailed counts a failed controller start.
func (m *Metrics) StartFailed(controller string) {
	if m == nil {
		return
	}
	m.startFailures.WithLabelValues(controller).Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
