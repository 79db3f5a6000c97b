package agent

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapse-box/internal/config"
	"timelapse-box/internal/core"
	"timelapse-box/internal/led"
	"timelapse-box/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Device:        config.DefaultDevice(),
		Server:        config.ServerConfig{Port: "0"},
		PatternsDir:   filepath.Join(dir, "patterns"),
		SchedulesFile: filepath.Join(dir, "schedules.json"),
	}
}

func newTestAgent(t *testing.T, cfg *config.Config) *Agent {
	t.Helper()
	a, err := NewAgent(cfg)
	require.NoError(t, err)
	t.Cleanup(a.cancel)
	return a
}

func waitEvent(t *testing.T, sub core.Subscriber) core.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func TestNewAgentWithValidDevice(t *testing.T) {
	a := newTestAgent(t, testConfig(t))

	assert.True(t, a.Networking())
	assert.Nil(t, a.mqttClient, "mqtt stays off unless enabled")
	snap := a.state.Clone()
	assert.True(t, snap.Networking)
	assert.True(t, snap.Power)
	assert.Equal(t, 255, snap.Brightness)
	assert.Nil(t, a.bleController)
}

func TestNetworkFieldDisablesNetworking(t *testing.T) {
	for _, mutate := range []func(*config.DeviceConfiguration){
		func(d *config.DeviceConfiguration) { d.Hostname = "box" },
		func(d *config.DeviceConfiguration) { d.Password = "1234567" },
	} {
		cfg := testConfig(t)
		cfg.MQTT.Enabled = true
		cfg.MQTT.TopicPrefix = "timelapse"
		mutate(&cfg.Device)

		a := newTestAgent(t, cfg)
		assert.False(t, a.Networking())
		assert.Nil(t, a.server)
		assert.Nil(t, a.mqttClient)
		assert.False(t, a.state.Clone().Networking)
		assert.NotNil(t, a.strip, "the strip still runs")
	}
}

func TestStripFieldIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device.NumLEDs = 0

	_, err := NewAgent(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidField))
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "numLeds", cfgErr.Field)
}

func TestStripFieldCheckedBehindNetworkFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device.Password = "short"
	cfg.Device.LEDPin = 40

	_, err := NewAgent(cfg)
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ledPin", cfgErr.Field)
}

func TestHandleStripCommands(t *testing.T) {
	a := newTestAgent(t, testConfig(t))
	drv := a.driver.(*led.MemoryDriver)
	sub := a.eventBus.Subscribe(core.StateChangedEvent)

	a.handleCommand(core.Command{Type: core.CmdSetColor, Payload: map[string]interface{}{"r": 10.0, "g": 20.0, "b": 30.0}})
	snap := waitEvent(t, sub).Payload.(core.Snapshot)
	assert.Equal(t, []int{10, 20, 30}, []int{snap.ColorR, snap.ColorG, snap.ColorB})
	last, _ := drv.Last()
	assert.Equal(t, []byte{20, 10, 30}, last[0:3])

	a.handleCommand(core.Command{Type: core.CmdSetBrightness, Payload: map[string]interface{}{"value": 300.0}})
	snap = waitEvent(t, sub).Payload.(core.Snapshot)
	assert.Equal(t, 255, snap.Brightness)

	a.handleCommand(core.Command{Type: core.CmdSetBrightness, Payload: map[string]interface{}{"value": 100.0}})
	snap = waitEvent(t, sub).Payload.(core.Snapshot)
	assert.Equal(t, 100, snap.Brightness)
	assert.Equal(t, uint8(100), a.strip.Brightness())

	a.handleCommand(core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": false}})
	snap = waitEvent(t, sub).Payload.(core.Snapshot)
	assert.False(t, snap.Power)
	last, _ = drv.Last()
	assert.Equal(t, make([]byte, 3*config.DefaultNumLEDs), last)
}

func TestHandleSetPixel(t *testing.T) {
	a := newTestAgent(t, testConfig(t))

	a.handleCommand(core.Command{Type: core.CmdSetPixel, Payload: map[string]interface{}{"index": 2.0, "r": 255.0}})
	assert.Equal(t, led.Color{R: 255}, a.strip.State().Pixels[2])

	a.handleCommand(core.Command{Type: core.CmdSetPixel, Payload: map[string]interface{}{"index": 1.0, "r": 300.0, "g": -5.0, "b": 7.0}})
	assert.Equal(t, led.Color{R: 255, B: 7}, a.strip.State().Pixels[1])

	_, framesBefore := a.driver.(*led.MemoryDriver).Last()
	a.handleCommand(core.Command{Type: core.CmdSetPixel, Payload: map[string]interface{}{"index": 99.0}})
	_, framesAfter := a.driver.(*led.MemoryDriver).Last()
	assert.Equal(t, framesBefore, framesAfter)
}

func TestHandleScheduleCommands(t *testing.T) {
	a := newTestAgent(t, testConfig(t))
	sub := a.eventBus.Subscribe(core.ScheduleChangedEvent)

	a.handleCommand(core.Command{Type: core.CmdAddSchedule, Payload: map[string]interface{}{"spec": "0 7 * * *", "command": "power on"}})
	entries := waitEvent(t, sub).Payload.(map[cron.EntryID]scheduler.ScheduleEntry)
	require.Len(t, entries, 1)

	var id cron.EntryID
	for k := range entries {
		id = k
	}
	a.handleCommand(core.Command{Type: core.CmdRemoveSchedule, Payload: map[string]interface{}{"id": float64(id)}})
	entries = waitEvent(t, sub).Payload.(map[cron.EntryID]scheduler.ScheduleEntry)
	assert.Empty(t, entries)

	a.handleCommand(core.Command{Type: core.CmdAddSchedule, Payload: map[string]interface{}{"spec": "bad", "command": "power on"}})
	assert.Empty(t, sub)
}

func TestHandlePatternFileCommands(t *testing.T) {
	a := newTestAgent(t, testConfig(t))
	sub := a.eventBus.Subscribe(core.PatternListEvent, core.PatternCodeEvent)

	a.handleCommand(core.Command{Type: core.CmdSavePatternCode, Payload: map[string]interface{}{"name": "wave.lua", "code": "show()"}})
	ev := waitEvent(t, sub)
	assert.Equal(t, core.PatternListEvent, ev.Type)
	assert.Equal(t, []string{"wave.lua"}, ev.Payload)

	a.handleCommand(core.Command{Type: core.CmdGetPatternCode, Payload: map[string]interface{}{"name": "wave.lua"}})
	ev = waitEvent(t, sub)
	assert.Equal(t, core.PatternCodeEvent, ev.Type)
	assert.Equal(t, map[string]string{"name": "wave.lua", "code": "show()"}, ev.Payload)

	a.handleCommand(core.Command{Type: core.CmdDeletePattern, Payload: map[string]interface{}{"name": "wave.lua"}})
	ev = waitEvent(t, sub)
	assert.Equal(t, []string{}, ev.Payload)
}
