// Package access decides whether a decoded credential opens a door.
//
// The decision function is pure: the allow-list is injected at construction
// and never mutated, so the same credential and required level always
// produce the same decision. Doors share one policy and differ only in the
// level they pass to Evaluate.
package access

import (
	"fmt"

	"doorman/internal/domain"
	"doorman/internal/infra/config"
)

// Policy evaluates credentials against an immutable allow-list.
type Policy struct {
	allow map[uint64]domain.AllowListEntry
}

// NewPolicy builds a policy over the given allow-list entries. A later
// entry for the same card replaces an earlier one.
func NewPolicy(entries []domain.AllowListEntry) *Policy {
	allow := make(map[uint64]domain.AllowListEntry, len(entries))
	for _, e := range entries {
		allow[e.CardRaw] = e
	}
	return &Policy{allow: allow}
}

// Evaluate decides whether cred may open a door requiring the given level.
// A credential that failed its parity check is always denied, before the
// allow-list is consulted: a corrupted frame could otherwise alias another
// card's raw value.
func (p *Policy) Evaluate(cred domain.Credential, required domain.AccessLevel) domain.Decision {
	if !cred.ParityValid {
		return domain.Decision{Reason: "parity mismatch"}
	}
	entry, ok := p.allow[cred.Raw]
	if !ok {
		return domain.Decision{Reason: "card not in allow list"}
	}
	if !entry.HasLevel(required) {
		return domain.Decision{Reason: fmt.Sprintf("level %s not granted", required)}
	}
	return domain.Decision{Granted: true, Reason: fmt.Sprintf("level %s granted", required)}
}

// Holder returns the configured holder name for a card, or "" when the card
// is unknown or unnamed.
func (p *Policy) Holder(raw uint64) string {
	return p.allow[raw].Holder
}

// LoadAllowList converts configured allow entries into domain entries,
// parsing card values and level names.
func LoadAllowList(entries []config.AllowEntry) ([]domain.AllowListEntry, error) {
	out := make([]domain.AllowListEntry, 0, len(entries))
	for i, e := range entries {
		raw, err := config.ParseCard(e.Card)
		if err != nil {
			return nil, fmt.Errorf("allowlist[%d]: %w", i, err)
		}
		levels := make([]domain.AccessLevel, 0, len(e.Levels))
		for _, l := range e.Levels {
			level, err := domain.ParseAccessLevel(l)
			if err != nil {
				return nil, fmt.Errorf("allowlist[%d]: %w", i, err)
			}
			levels = append(levels, level)
		}
		out = append(out, domain.AllowListEntry{CardRaw: raw, Levels: levels, Holder: e.Name})
	}
	return out, nil
}
