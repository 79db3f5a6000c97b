package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapse-box/internal/config"
	"timelapse-box/internal/core"
	"timelapse-box/internal/scheduler"
)

type staticPatterns []string

func (p staticPatterns) GetPatternList() ([]string, error) { return p, nil }

type fixture struct {
	srv      *Server
	http     *httptest.Server
	commands core.CommandChannel
	bus      *core.EventBus
	state    *core.State
}

func newFixture(t *testing.T, device config.DeviceConfiguration) *fixture {
	t.Helper()
	f := &fixture{
		commands: make(core.CommandChannel, 4),
		bus:      core.NewEventBus(),
		state:    core.NewState(),
	}
	f.srv = NewServer(Options{
		Port:     "0",
		Device:   device,
		Commands: f.commands,
		EventBus: f.bus,
		State:    f.state,
		Patterns: staticPatterns{"rainbow.lua"},
		Schedules: func() map[cron.EntryID]scheduler.ScheduleEntry {
			return map[cron.EntryID]scheduler.ScheduleEntry{1: {Spec: "0 7 * * *", Command: "power on"}}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.srv.Start(ctx)

	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg rawMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestConfigEndpointRedactsAndValidates(t *testing.T) {
	f := newFixture(t, config.DefaultDevice())

	resp, err := http.Get(f.http.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report ConfigReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.True(t, report.Valid)
	assert.Equal(t, "*redacted*", report.Device.Password)
	assert.Equal(t, config.DefaultHostname, report.Device.Hostname)
	assert.Equal(t, uint16(config.DefaultFTPControlPort), report.Device.FTPControlPort)
}

func TestConfigEndpointReportsFirstInvalidField(t *testing.T) {
	d := config.DefaultDevice()
	d.Password = "short"
	d.NumLEDs = 0
	f := newFixture(t, d)

	resp, err := http.Get(f.http.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	var report ConfigReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.False(t, report.Valid)
	assert.Equal(t, "password", report.Field)
	assert.Contains(t, report.Error, "password")
}

func TestStateEndpoint(t *testing.T) {
	f := newFixture(t, config.DefaultDevice())
	f.state.SetPower(true)
	f.state.SetBrightness(42)

	resp, err := http.Get(f.http.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap core.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.Power)
	assert.Equal(t, 42, snap.Brightness)

	post, err := http.Post(f.http.URL+"/api/state", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestWebSocketInitialMessagesAndCommands(t *testing.T) {
	f := newFixture(t, config.DefaultDevice())
	f.state.SetColor(1, 2, 3)
	conn := f.dial(t)

	msg := readMessage(t, conn)
	require.Equal(t, MsgState, msg.Type)
	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	assert.Equal(t, 3, snap.ColorB)

	msg = readMessage(t, conn)
	require.Equal(t, MsgPatternList, msg.Type)
	assert.JSONEq(t, `["rainbow.lua"]`, string(msg.Payload))

	msg = readMessage(t, conn)
	require.Equal(t, MsgScheduleList, msg.Type)
	assert.Contains(t, string(msg.Payload), "power on")

	require.NoError(t, conn.WriteJSON(core.Command{Type: core.CmdSetBrightness, Payload: map[string]interface{}{"value": 77}}))
	select {
	case cmd := <-f.commands:
		assert.Equal(t, core.CmdSetBrightness, cmd.Type)
		assert.Equal(t, 77, cmd.Int("value", 0))
	case <-time.After(3 * time.Second):
		t.Fatal("command not forwarded")
	}
}

func TestWebSocketBroadcastsEvents(t *testing.T) {
	f := newFixture(t, config.DefaultDevice())
	conn := f.dial(t)
	for i := 0; i < 3; i++ {
		readMessage(t, conn)
	}
	require.Eventually(t, func() bool { return f.srv.Hub.ClientCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	f.bus.Publish(core.Event{Type: core.PatternChangedEvent, Payload: map[string]interface{}{"running": "rainbow.lua"}})

	msg := readMessage(t, conn)
	assert.Equal(t, MsgPatternStatus, msg.Type)
	assert.JSONEq(t, `{"running":"rainbow.lua"}`, string(msg.Payload))
}
