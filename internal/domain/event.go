package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventCardRead        EventType = "card.read"
	EventAccessGranted   EventType = "access.granted"
	EventAccessDenied    EventType = "access.denied"
	EventDoorLocked      EventType = "door.locked"
	EventDoorUnlocked    EventType = "door.unlocked"
	EventDoorState       EventType = "door.state"
	EventSensorChange    EventType = "sensor.change"
	EventCommandReceived EventType = "command.received"
)

// Event is the envelope published on the in-process event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	DoorID    string          `json:"door_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for door events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// NewID generates a ULID for event envelopes and audit rows. The shared
// monotonic entropy source keeps IDs unique even when several events of
// one swipe carry the same timestamp.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
