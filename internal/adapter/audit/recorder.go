package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"doorman/internal/domain"
)

// Recorder turns bus events into audit rows. It subscribes to every event
// and skips door.state snapshots, which are ephemeral status traffic, not
// access history.
//
// Inserts are best-effort: a failing database is logged and the event
// dropped, so the doors keep working through storage trouble.
type Recorder struct {
	store domain.AuditStore
	log   *slog.Logger

	mu    sync.Mutex
	unsub func()
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store domain.AuditStore, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Attach subscribes the recorder to the bus.
func (r *Recorder) Attach(bus domain.EventBus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsub = bus.SubscribeAll(r.handle)
}

// Detach drops the bus subscription.
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *Recorder) handle(ctx context.Context, e domain.Event) {
	if e.Type == domain.EventDoorState {
		return
	}
	if err := r.store.Insert(ctx, recordFromEvent(e)); err != nil {
		r.log.Warn("audit insert failed", "event", string(e.Type), "door", e.DoorID, "error", err)
	}
}

// recordFromEvent maps one event to its audit row. Card and decision
// columns are lifted out of the payload for the types that carry them; an
// unreadable payload still yields a row with the raw detail.
func recordFromEvent(e domain.Event) domain.AuditRecord {
	rec := domain.AuditRecord{
		ID:        domain.NewID(e.Timestamp),
		DoorID:    e.DoorID,
		Type:      e.Type,
		Detail:    string(e.Payload),
		CreatedAt: e.Timestamp,
	}

	switch e.Type {
	case domain.EventCardRead:
		var p domain.CardReadPayload
		if json.Unmarshal(e.Payload, &p) == nil {
			rec.CardRaw = p.Card.Raw
			rec.Granted = p.Access.Granted
		}
	case domain.EventAccessGranted, domain.EventAccessDenied:
		var p domain.AccessDecisionPayload
		if json.Unmarshal(e.Payload, &p) == nil {
			rec.CardRaw = p.Card
			rec.Granted = e.Type == domain.EventAccessGranted
			rec.Reason = p.Reason
		}
	}
	return rec
}
