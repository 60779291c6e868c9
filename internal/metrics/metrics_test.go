package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	cur, target, out := 20.5, 21.0, 21.8
	m.SetTemperatures(&cur, &target)
	m.ObserveController("floor", true, &out)
	m.ObserveController("radiator", false, nil)
	m.SetActuator("heater", true)
	m.CommandIssued("heater", "turn_on", false)
	m.CommandIssued("heater", "turn_on", true)
	m.ControlTick("floor", "normal")
	m.ControlTick("floor", "keep_alive")
	m.StartFailed("floor")

	body := scrape(t, reg)
	for _, want := range []string{
		"thermostat_current_temperature_celsius 20.5",
		"thermostat_target_temperature_celsius 21",
		`thermostat_controller_output{controller="floor"} 21.8`,
		`thermostat_controller_working{controller="floor"} 1`,
		`thermostat_controller_working{controller="radiator"} 0`,
		`thermostat_actuator_on{actuator="heater"} 1`,
		`thermostat_actuator_commands_total{actuator="heater",command="turn_on"} 2`,
		`thermostat_actuator_command_errors_total{actuator="heater"} 1`,
		`thermostat_controller_ticks_total{controller="floor",kind="keep_alive"} 1`,
		`thermostat_controller_start_failures_total{controller="floor"} 1`,
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, `controller_output{controller="radiator"}`)
}

func TestUnknownTemperatureKeepsLastValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	cur := 19.0
	m.SetTemperatures(&cur, nil)
	m.SetTemperatures(nil, nil)
	assert.Contains(t, scrape(t, reg), "thermostat_current_temperature_celsius 19")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetTemperatures(nil, nil)
		m.ObserveController("x", true, nil)
		m.SetActuator("x", true)
		m.CommandIssued("x", "turn_on", false)
		m.ControlTick("x", "normal")
		m.StartFailed("x")
	})
}
