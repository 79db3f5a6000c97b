package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDelivers(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(StateChangedEvent)

	eb.Publish(Event{Type: StateChangedEvent, Payload: 1})
	eb.Publish(Event{Type: PatternChangedEvent, Payload: 2})

	assert.Len(t, sub, 1)
	ev := <-sub
	assert.Equal(t, 1, ev.Payload)
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	a := eb.Subscribe(StateChangedEvent)
	b := eb.Subscribe(StateChangedEvent)

	eb.Unsubscribe(a, StateChangedEvent)
	eb.Publish(Event{Type: StateChangedEvent})

	assert.Len(t, a, 0)
	assert.Len(t, b, 1)
}

func TestEventBusDropsWhenFull(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(StateChangedEvent)

	for i := 0; i < cap(sub)+10; i++ {
		eb.Publish(Event{Type: StateChangedEvent, Payload: i})
	}
	assert.Equal(t, subscriberBuffer, cap(sub))
	assert.Len(t, sub, cap(sub))
	assert.Equal(t, 0, (<-sub).Payload, "the oldest events are kept")
}

func TestStateClone(t *testing.T) {
	s := NewState()
	s.SetPower(true)
	s.SetColor(1, 2, 3)
	s.SetBrightness(42)
	s.SetRunningPattern("rainbow.lua")
	s.SetNetworking(true)
	s.SetConnection(true, -60)

	snap := s.Clone()
	assert.Equal(t, Snapshot{
		Networking:     true,
		BLEConnected:   true,
		RSSI:           -60,
		Power:          true,
		ColorR:         1,
		ColorG:         2,
		ColorB:         3,
		Brightness:     42,
		RunningPattern: "rainbow.lua",
	}, snap)
}

func TestCommandAccessors(t *testing.T) {
	cmd := Command{Type: CmdSetBrightness, Payload: map[string]interface{}{
		"value": float64(12), "isOn": true, "name": "x.lua",
	}}
	assert.Equal(t, 12, cmd.Int("value", 0))
	assert.Equal(t, 7, cmd.Int("missing", 7))
	assert.True(t, cmd.Bool("isOn", false))
	name, ok := cmd.Str("name")
	assert.True(t, ok)
	assert.Equal(t, "x.lua", name)
}
