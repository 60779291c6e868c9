package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/smart-thermostat/internal/config"
	"github.com/sweeney/smart-thermostat/internal/control"
	"github.com/sweeney/smart-thermostat/internal/gpio"
	"github.com/sweeney/smart-thermostat/internal/mqtt"
	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/store"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
	"github.com/sweeney/smart-thermostat/internal/web"
)

const testConfigYAML = `
entity_id: living_room
name: Living Room
hvac_mode: heat
state_file: %STATE%
controllers:
  - name: radiator
    type: switch
    mode: heat
    target: heater
  - name: floor
    type: pid
    mode: heat
    target: valve.floor
    pid_params: "10,0,0"
actuators:
  - id: heater
    driver: gpio
    pin: 17
  - id: valve.floor
    driver: mqtt
`

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type loopHarness struct {
	sw        *gpio.FakeSwitch
	client    *mqtt.FakeClient
	topics    mqtt.Topics
	queue     *thermostat.Queue
	keepAlive chan time.Time
	heartbeat chan time.Time
	sig       chan os.Signal
	done      chan error
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")
	data := bytes.ReplaceAll([]byte(testConfigYAML), []byte("%STATE%"), []byte(statePath))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, statePath
}

func startLoop(t *testing.T) *loopHarness {
	t.Helper()
	path, _ := writeConfig(t)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	lh := &loopHarness{
		sw:        gpio.NewFakeSwitch(false),
		client:    mqtt.NewFakeClient(),
		topics:    mqtt.NewTopics(cfg.TopicPrefix, cfg.EntityID),
		queue:     thermostat.NewQueue(4),
		keepAlive: make(chan time.Time),
		heartbeat: make(chan time.Time),
		sig:       make(chan os.Signal),
		done:      make(chan error, 1),
	}
	st, err := store.Open(cfg.StateFile)
	require.NoError(t, err)
	drivers, err := thermostat.BuildDrivers(cfg, lh.client, lh.topics, func(config.ActuatorConfig) (gpio.Switch, error) {
		return lh.sw, nil
	})
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := status.NewTracker(start, status.Config{EntityID: cfg.EntityID})
	pub := &publisher{client: lh.client, topics: lh.topics, tracker: tracker, entityID: cfg.EntityID}
	host, err := thermostat.New(cfg, thermostat.Deps{
		Store:    st,
		Drivers:  drivers,
		Tracker:  tracker,
		Clock:    fakeClock(start, time.Second),
		OnUpdate: func() { pub.status("", "") },
	})
	require.NoError(t, err)

	go func() {
		lh.done <- runLoop(context.Background(), loop{
			host:      host,
			requests:  lh.queue.C(),
			keepAlive: lh.keepAlive,
			heartbeat: lh.heartbeat,
			sig:       lh.sig,
			pub:       pub,
			now:       fakeClock(start, time.Second),
		})
	}()
	return lh
}

func (lh *loopHarness) submit(t *testing.T, req thermostat.Request) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return lh.queue.Submit(ctx, req)
}

func (lh *loopHarness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	lh.sig <- s
	select {
	case err := <-lh.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func systemEvents(t *testing.T, lh *loopHarness) []mqtt.SystemPayloadInner {
	t.Helper()
	var out []mqtt.SystemPayloadInner
	for _, m := range lh.client.Messages(lh.topics.System()) {
		var p mqtt.SystemPayload
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		assert.True(t, m.Retained)
		out = append(out, p.System)
	}
	return out
}

func TestRunLoopAppliesRequests(t *testing.T) {
	lh := startLoop(t)

	require.NoError(t, lh.submit(t, thermostat.Request{Kind: thermostat.RequestTemperature, Value: 20}))
	require.NoError(t, lh.submit(t, thermostat.Request{Kind: thermostat.RequestTarget, Value: 21}))
	err := lh.submit(t, thermostat.Request{Kind: thermostat.RequestGains, Controller: "radiator", Gains: &control.Gains{}})
	assert.ErrorIs(t, err, thermostat.ErrNotPID)

	lh.stop(t, syscall.SIGTERM)

	assert.Equal(t, []bool{true, false}, lh.sw.Sets, "heater on, then off at shutdown")
	var valve []string
	for _, m := range lh.client.Messages(lh.topics.ActuatorSet("valve.floor")) {
		valve = append(valve, string(m.Payload))
	}
	assert.Equal(t, []string{"10"}, valve)

	statuses := lh.client.Messages(lh.topics.Status())
	require.Len(t, statuses, 3, "two handled requests plus shutdown")
	for _, m := range statuses {
		assert.True(t, m.Retained)
	}
}

func TestRunLoopKeepAlive(t *testing.T) {
	lh := startLoop(t)
	require.NoError(t, lh.submit(t, thermostat.Request{Kind: thermostat.RequestTemperature, Value: 20}))
	require.NoError(t, lh.submit(t, thermostat.Request{Kind: thermostat.RequestTarget, Value: 21}))

	lh.keepAlive <- time.Now()
	lh.stop(t, syscall.SIGINT)

	assert.Equal(t, []bool{true, true, false}, lh.sw.Sets)
}

func TestRunLoopShutdownEvent(t *testing.T) {
	lh := startLoop(t)
	lh.stop(t, syscall.SIGTERM)

	events := systemEvents(t, lh)
	require.Len(t, events, 1)
	assert.Equal(t, "SHUTDOWN", events[0].Event)
	assert.Equal(t, "SIGTERM", events[0].Reason)
	assert.Equal(t, "living_room", events[0].Entity)
	assert.Equal(t, "2026-01-01T12:00:00Z", events[0].Timestamp)

	statuses := lh.client.Messages(lh.topics.Status())
	require.Len(t, statuses, 1)
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(statuses[0].Payload, &sj))
	assert.Equal(t, "SHUTDOWN", sj.Status.Event)
	assert.True(t, sj.Status.MQTT.Connected)
	assert.True(t, lh.sw.Closed)
}

func TestRunLoopHeartbeat(t *testing.T) {
	lh := startLoop(t)
	lh.heartbeat <- time.Now()
	lh.heartbeat <- time.Now()
	lh.stop(t, syscall.SIGTERM)

	events := systemEvents(t, lh)
	require.Len(t, events, 3)
	assert.Equal(t, "HEARTBEAT", events[0].Event)
	assert.Equal(t, "HEARTBEAT", events[1].Event)
	assert.Equal(t, "2026-01-01T12:00:01Z", events[1].Timestamp)
	assert.Equal(t, "SHUTDOWN", events[2].Event)
}

func TestRunLoopPublishFailureIsNotFatal(t *testing.T) {
	lh := startLoop(t)
	lh.client.PublishError = assert.AnError
	require.NoError(t, lh.submit(t, thermostat.Request{Kind: thermostat.RequestTemperature, Value: 20}))
	lh.heartbeat <- time.Now()
	lh.stop(t, syscall.SIGTERM)
	assert.Empty(t, lh.client.Published)
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGINT", signalName(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", signalName(syscall.SIGTERM))
	assert.Equal(t, "UNKNOWN", signalName(syscall.SIGHUP))
}

func TestTickerCDisabled(t *testing.T) {
	assert.Nil(t, tickerC(0))
	assert.NotNil(t, tickerC(time.Hour))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path, _ := writeConfig(t)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "config ok: living_room (Living Room), hvac_mode=heat")
	assert.Contains(t, out, "controller floor: pid heat -> valve.floor")
	assert.Contains(t, out, "actuator heater: gpio")
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entity_id: x\ncontrollers: []\n"), 0644))
	_, err := execute(t, "validate", "--config", path)
	assert.ErrorIs(t, err, config.ErrNoControllers)
}

func TestStateCommand(t *testing.T) {
	path, statePath := writeConfig(t)
	st, err := store.Open(statePath)
	require.NoError(t, err)
	st.Set("floor", map[string]string{control.AttrPIDParams: "2.5,0.1,0"})
	require.NoError(t, st.Save())

	out, err := execute(t, "state", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "floor:")
	assert.Contains(t, out, "pid_params: 2.5,0.1,0")
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, setupLogging("debug"))
	assert.Error(t, setupLogging("chatty"))
	require.NoError(t, setupLogging("info"))
}

// stalledDispatcher accepts requests but never answers, like a stopped run loop.
type stalledDispatcher struct {
	got     chan struct{}
	release chan struct{}
}

func (d *stalledDispatcher) Submit(ctx context.Context, req thermostat.Request) error {
	d.got <- struct{}{}
	<-d.release
	return nil
}

func TestStopServerDoesNotWaitForStalledRequests(t *testing.T) {
	d := &stalledDispatcher{got: make(chan struct{}, 1), release: make(chan struct{})}
	t.Cleanup(func() { close(d.release) })

	tracker := status.NewTracker(time.Now(), status.Config{EntityID: "living_room"})
	srv := web.New("", tracker, d, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)

	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/api/target", "application/json", strings.NewReader(`{"target": 21}`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	select {
	case <-d.got:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the dispatcher")
	}

	done := make(chan struct{})
	go func() {
		stopServer(srv, 50*time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stopServer blocked on a stalled request")
	}
}
