package domain

import "fmt"

// AccessLevel classifies the clearance a door requires and a card holds.
type AccessLevel string

const (
	LevelRegular        AccessLevel = "regular"
	LevelItar           AccessLevel = "itar"
	LevelItarServerRoom AccessLevel = "itar_server_room"
)

// ParseAccessLevel validates a configured level string.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch AccessLevel(s) {
	case LevelRegular, LevelItar, LevelItarServerRoom:
		return AccessLevel(s), nil
	default:
		return "", fmt.Errorf("unknown access level %q", s)
	}
}

// AllowListEntry grants one card a set of access levels. Loaded once from
// configuration; immutable at runtime.
type AllowListEntry struct {
	CardRaw uint64
	Levels  []AccessLevel
	Holder  string // optional display name, used in logs and audit rows
}

// HasLevel reports whether the entry grants the given level.
func (e AllowListEntry) HasLevel(level AccessLevel) bool {
	for _, l := range e.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating a credential against the allow-list.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

// AccessDecisionPayload is the detail attached to access.granted and
// access.denied events.
type AccessDecisionPayload struct {
	DoorID    string `json:"door_id"`
	Card      string `json:"card"` // zero-padded hex, as published on card_read
	Holder    string `json:"holder,omitempty"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}
