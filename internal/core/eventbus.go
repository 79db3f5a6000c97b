package core

import "sync"

// EventType names what changed; subscribers pick the types they care about.
type EventType string

const (
	StateChangedEvent    EventType = "StateChanged"
	PatternChangedEvent  EventType = "PatternChanged"
	ScheduleChangedEvent EventType = "ScheduleChanged"
	PatternListEvent     EventType = "PatternList"
	PatternCodeEvent     EventType = "PatternCode"
	DeviceConnectedEvent EventType = "DeviceConnected"
)

// Event carries a change notice from the orchestrator or a pattern run to the
// web socket hub and the MQTT publisher.
type Event struct {
	Type    EventType
	Payload interface{}
}

// Subscriber is the receiving end handed out by Subscribe.
type Subscriber chan Event

// subscriberBuffer is how many events a subscriber may fall behind by before
// Publish starts dropping for it.
const subscriberBuffer = 100

// EventBus fans events out to in-process subscribers by type.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers one buffered channel for all of eventTypes.
func (eb *EventBus) Subscribe(eventTypes ...EventType) Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(Subscriber, subscriberBuffer)
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}

	return ch
}

// Unsubscribe detaches ch from eventTypes. The channel is left open so a
// reader draining it does not see a spurious close.
func (eb *EventBus) Unsubscribe(ch Subscriber, eventTypes ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range eventTypes {
		subs := eb.subscribers[t]
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish hands event to every subscriber of event.Type without waiting.
// A subscriber whose buffer is full misses this event.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers[event.Type] {
		select {
		case sub <- event:
		default:
		}
	}
}
