package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"doorman/internal/domain"
)

// Reporter bridges door events from the in-process bus onto broker topics.
// It is the only component that turns bus traffic into outbound MQTT;
// controllers publish to the bus and never touch the broker directly.
//
// Everything goes out with retain off. The status heartbeat replays current
// state for late subscribers, so a stale retained message would only
// mislead them.
type Reporter struct {
	backend Backend
	qos     byte
	log     *slog.Logger

	mu     sync.Mutex
	unsubs []func()
}

// NewReporter creates a reporter publishing through backend at qos.
func NewReporter(backend Backend, qos byte, log *slog.Logger) *Reporter {
	return &Reporter{backend: backend, qos: qos, log: log}
}

// Attach subscribes the reporter to the event types it forwards.
func (r *Reporter) Attach(bus domain.EventBus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubs = append(r.unsubs,
		bus.Subscribe(domain.EventCardRead, r.relay(CardReadTopic)),
		bus.Subscribe(domain.EventDoorState, r.relay(StatusTopic)),
		bus.Subscribe(domain.EventSensorChange, r.relaySensor),
	)
}

// Detach drops the bus subscriptions. Events already in flight may still
// be delivered by the bus after Detach returns.
func (r *Reporter) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

// relay returns a handler forwarding the event payload unchanged to the
// topic derived from its door.
func (r *Reporter) relay(topic func(string) string) domain.EventHandler {
	return func(ctx context.Context, e domain.Event) {
		r.publish(ctx, topic(e.DoorID), e.Payload)
	}
}

// relaySensor routes a sensor change to its kind-specific topic.
func (r *Reporter) relaySensor(ctx context.Context, e domain.Event) {
	var p domain.SensorChangePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		r.log.Warn("sensor event payload unreadable", "door", e.DoorID, "error", err)
		return
	}
	suffix := strings.TrimSuffix(p.Type, "_change")
	r.publish(ctx, SensorTopic(e.DoorID, suffix), e.Payload)
}

// publish is best-effort. A broker outage must not stall the bus, so
// failures are logged and dropped.
func (r *Reporter) publish(ctx context.Context, topic string, payload []byte) {
	if err := r.backend.Publish(ctx, topic, payload, r.qos, false); err != nil {
		r.log.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
