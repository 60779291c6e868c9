package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heater = "switch.heater"

func newTestHysteresis(t *testing.T, host *fakeHost, mode Mode, inverted bool, minCycle time.Duration) *Hysteresis {
	t.Helper()
	h, err := NewHysteresis(
		Config{Name: "backup", Mode: mode, Target: heater, Inverted: inverted},
		HysteresisConfig{ColdTolerance: 0.3, HotTolerance: 0.3, MinCycle: minCycle},
		host,
	)
	require.NoError(t, err)
	return h
}

func startHysteresis(t *testing.T, h *Hysteresis, cur, target float64) {
	t.Helper()
	require.NoError(t, h.Start(context.Background(), cur, target))
	require.True(t, h.Running())
}

func TestNewHysteresisRejectsBadConfig(t *testing.T) {
	host := newFakeHost(HVACHeat)
	_, err := NewHysteresis(Config{Name: "x", Mode: "fan", Target: heater}, HysteresisConfig{}, host)
	assert.ErrorIs(t, err, ErrUnsupportedMode)

	_, err = NewHysteresis(Config{Name: "x", Mode: ModeHeat}, HysteresisConfig{}, host)
	assert.ErrorIs(t, err, ErrMissingTarget)

	_, err = NewHysteresis(Config{Mode: ModeHeat, Target: heater}, HysteresisConfig{}, host)
	assert.ErrorIs(t, err, ErrMissingName)
}

func TestHysteresisControlNoopWhenStopped(t *testing.T) {
	host := newFakeHost(HVACHeat)
	h := newTestHysteresis(t, host, ModeHeat, false, 0)

	h.Control(context.Background(), 15, 21, TickNormal, false)
	assert.Empty(t, host.Commands)
	assert.False(t, h.Running())
}

func TestHysteresisHeatTurnsOnWhenTooCold(t *testing.T) {
	for _, cur := range []float64{20.6, 20, 10, -5} {
		host := newFakeHost(HVACHeat)
		host.setSwitch(heater, false)
		h := newTestHysteresis(t, host, ModeHeat, false, 0)
		startHysteresis(t, h, cur, 21)

		h.Control(context.Background(), cur, 21, TickNormal, false)

		require.Len(t, host.Commands, 1, "cur=%v", cur)
		assert.Equal(t, CommandTurnOn, host.Commands[0].Command)
		assert.Equal(t, heater, host.Commands[0].Entity)
		assert.Equal(t, "ctx-1", host.Commands[0].Context.ID)
		assert.True(t, h.IsWorking())
	}
}

func TestHysteresisDeadBandIssuesNothing(t *testing.T) {
	for _, on := range []bool{false, true} {
		for _, cur := range []float64{20.75, 21, 21.25} {
			host := newFakeHost(HVACHeatCool)
			host.setSwitch(heater, on)
			h := newTestHysteresis(t, host, ModeHeat, false, 0)
			startHysteresis(t, h, cur, 21)

			h.Control(context.Background(), cur, 21, TickNormal, false)

			if on {
				// Inside the band but not too cold: a running heater is turned off.
				require.Len(t, host.Commands, 1)
				assert.Equal(t, CommandTurnOff, host.Commands[0].Command)
			} else {
				assert.Empty(t, host.Commands, "on=%v cur=%v", on, cur)
			}
		}
	}
}

func TestHysteresisDeadBandNoToggling(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, false)
	h := newTestHysteresis(t, host, ModeHeat, false, 0)
	startHysteresis(t, h, 21, 21)

	for _, cur := range []float64{20.8, 21.0, 21.2, 20.9, 21.1} {
		h.Control(context.Background(), cur, 21, TickNormal, false)
	}
	assert.Empty(t, host.Commands)
}

func TestHysteresisHeatTurnsOffWhenWarm(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, true)
	h := newTestHysteresis(t, host, ModeHeat, false, 0)
	startHysteresis(t, h, 22, 21)

	h.Control(context.Background(), 22, 21, TickNormal, false)

	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOff, host.Commands[0].Command)
	assert.False(t, h.IsWorking())
}

func TestHysteresisCoolMode(t *testing.T) {
	tests := []struct {
		name string
		hvac HVACMode
		cur  float64
		want []Command
	}{
		{"too hot in cool", HVACCool, 22, []Command{CommandTurnOn}},
		{"too hot in heat_cool", HVACHeatCool, 22, []Command{CommandTurnOn}},
		{"too hot in heat", HVACHeat, 22, nil},
		{"too hot in off", HVACOff, 22, nil},
		{"too cold in cool", HVACCool, 18, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost(tt.hvac)
			host.setSwitch(heater, false)
			h := newTestHysteresis(t, host, ModeCool, false, 0)
			startHysteresis(t, h, tt.cur, 21)

			h.Control(context.Background(), tt.cur, 21, TickNormal, false)

			var got []Command
			for _, c := range host.Commands {
				got = append(got, c.Command)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHysteresisHeatIgnoredInCoolHVAC(t *testing.T) {
	host := newFakeHost(HVACCool)
	host.setSwitch(heater, false)
	h := newTestHysteresis(t, host, ModeHeat, false, 0)
	startHysteresis(t, h, 15, 21)

	h.Control(context.Background(), 15, 21, TickNormal, false)
	assert.Empty(t, host.Commands)
}

func TestHysteresisInvertedFlipsCommands(t *testing.T) {
	host := newFakeHost(HVACHeat)
	// Inverted device: physically on means logically off.
	host.setSwitch(heater, true)
	h := newTestHysteresis(t, host, ModeHeat, true, 0)
	startHysteresis(t, h, 15, 21)
	assert.False(t, h.IsWorking())

	h.Control(context.Background(), 15, 21, TickNormal, false)
	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOff, host.Commands[0].Command)
	assert.True(t, h.IsWorking())

	// Once warm, the logical off is a physical on.
	host.reset()
	h.Control(context.Background(), 22, 21, TickNormal, false)
	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOn, host.Commands[0].Command)
	assert.False(t, h.IsWorking())

	// Settled: no further commands.
	host.reset()
	h.Control(context.Background(), 22, 21, TickNormal, false)
	assert.Empty(t, host.Commands)
}

func TestHysteresisStopTurnsOff(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, true)
	h := newTestHysteresis(t, host, ModeHeat, false, 0)
	startHysteresis(t, h, 15, 21)

	h.Stop(context.Background())

	assert.False(t, h.Running())
	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOff, host.Commands[0].Command)
}

func TestHysteresisStopInvertedTurnsOnPhysically(t *testing.T) {
	host := newFakeHost(HVACHeat)
	h := newTestHysteresis(t, host, ModeHeat, true, 0)
	startHysteresis(t, h, 15, 21)

	h.Stop(context.Background())

	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOn, host.Commands[0].Command)
}

func TestHysteresisMinCycleGating(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, true) // turned on at T
	h := newTestHysteresis(t, host, ModeHeat, false, 5*time.Minute)
	startHysteresis(t, h, 22, 21)

	host.advance(2 * time.Minute)

	// need_on is false but the heater has been on for only 2 minutes.
	h.Control(context.Background(), 22, 21, TickNormal, false)
	assert.Empty(t, host.Commands)

	// Forcing bypasses the gate.
	h.Control(context.Background(), 22, 21, TickNormal, true)
	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOff, host.Commands[0].Command)
}

func TestHysteresisMinCycleElapsed(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, true)
	h := newTestHysteresis(t, host, ModeHeat, false, 5*time.Minute)
	startHysteresis(t, h, 22, 21)

	host.advance(5 * time.Minute)
	h.Control(context.Background(), 22, 21, TickNormal, false)

	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOff, host.Commands[0].Command)
}

func TestHysteresisMinCycleUnknownElapsedGates(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, false)
	host.ElapsedError = ErrUnknownElapsed
	h := newTestHysteresis(t, host, ModeHeat, false, time.Minute)
	startHysteresis(t, h, 15, 21)

	host.advance(time.Hour)
	h.Control(context.Background(), 15, 21, TickNormal, false)
	assert.Empty(t, host.Commands)
}

func TestHysteresisKeepAliveIgnoresMinCycle(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, true)
	h := newTestHysteresis(t, host, ModeHeat, false, 5*time.Minute)
	startHysteresis(t, h, 22, 21)

	host.advance(time.Minute)
	h.Control(context.Background(), 22, 21, TickKeepAlive, false)

	require.Len(t, host.Commands, 1)
	assert.Equal(t, CommandTurnOff, host.Commands[0].Command)
}

func TestHysteresisKeepAliveReasserts(t *testing.T) {
	tests := []struct {
		name string
		on   bool
		cur  float64
		want Command
	}{
		{"on and needed", true, 15, CommandTurnOn},
		{"off and not needed", false, 22, CommandTurnOff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost(HVACHeat)
			host.setSwitch(heater, tt.on)
			h := newTestHysteresis(t, host, ModeHeat, false, 0)
			startHysteresis(t, h, tt.cur, 21)

			// A normal tick leaves a settled switch alone.
			h.Control(context.Background(), tt.cur, 21, TickNormal, false)
			assert.Empty(t, host.Commands)

			h.Control(context.Background(), tt.cur, 21, TickKeepAlive, false)
			require.Len(t, host.Commands, 1)
			assert.Equal(t, tt.want, host.Commands[0].Command)
		})
	}
}

func TestHysteresisDeliveryFailureIsNotFatal(t *testing.T) {
	host := newFakeHost(HVACHeat)
	host.setSwitch(heater, false)
	host.IssueError = errDelivery
	h := newTestHysteresis(t, host, ModeHeat, false, 0)
	startHysteresis(t, h, 15, 21)

	h.Control(context.Background(), 15, 21, TickNormal, false)
	assert.True(t, h.Running())
	assert.Empty(t, host.Commands)
}

func TestHysteresisNegativeTolerancesClamped(t *testing.T) {
	host := newFakeHost(HVACHeat)
	h, err := NewHysteresis(
		Config{Name: "backup", Mode: ModeHeat, Target: heater},
		HysteresisConfig{ColdTolerance: -1, HotTolerance: -2},
		host,
	)
	require.NoError(t, err)
	assert.Equal(t, HysteresisConfig{}, h.Tolerances())
	assert.Nil(t, h.ExtraAttributes())
}
