package domain

import (
	"context"
	"time"
)

// AuditRecord is one row of the append-only access log. Card fields are
// populated for card.read events and empty otherwise.
type AuditRecord struct {
	ID        string    `json:"id"`
	DoorID    string    `json:"door_id"`
	Type      EventType `json:"type"`
	CardRaw   string    `json:"card_raw,omitempty"`
	Granted   bool      `json:"granted,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"` // raw event payload
	CreatedAt time.Time `json:"created_at"`
}

// AuditStore persists access events.
type AuditStore interface {
	Insert(ctx context.Context, rec AuditRecord) error
	RecentByDoor(ctx context.Context, doorID string, limit int) ([]AuditRecord, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
