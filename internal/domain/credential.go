package domain

import (
	"fmt"
	"time"
)

// Credential is a single decoded card presentation. Immutable once emitted
// by the decoder; its string form may be logged or published, the value
// itself is discarded after the door controller handles it.
type Credential struct {
	Raw          uint64 // frame bits concatenated MSB-first
	BitLength    int    // total bits received, parity included
	FacilityCode uint32 // 26-bit frames: bits 1..8
	CardNumber   uint32 // 26-bit frames: bits 9..24; 34-bit frames: bits 1..32
	ParityValid  bool   // false when no parity scheme applies or a check failed
	ReadAt       time.Time
}

// RawHex renders the raw frame value as a zero-padded lowercase hex string,
// one digit per nibble of frame length.
func (c Credential) RawHex() string {
	digits := (c.BitLength + 3) / 4
	if digits == 0 {
		digits = 1
	}
	return fmt.Sprintf("0x%0*x", digits, c.Raw)
}

func (c Credential) String() string {
	return fmt.Sprintf("%s (%d bits, parity_valid=%t)", c.RawHex(), c.BitLength, c.ParityValid)
}

// CardFields is the card block of a card_read publication.
type CardFields struct {
	Raw          string `json:"raw"`
	FacilityCode uint32 `json:"facility_code"`
	Number       uint32 `json:"number"`
}

// AccessFields is the access block of a card_read publication.
type AccessFields struct {
	Granted     bool `json:"granted"`
	ParityValid bool `json:"parity_valid"`
}

// CardReadPayload is the wire form published on the card_read topic.
type CardReadPayload struct {
	DoorID    string       `json:"door_id"`
	Card      CardFields   `json:"card"`
	Access    AccessFields `json:"access"`
	Timestamp int64        `json:"timestamp"`
}

// NewCardReadPayload assembles the card_read publication for a credential
// and the decision reached for it.
func NewCardReadPayload(doorID string, c Credential, granted bool) CardReadPayload {
	return CardReadPayload{
		DoorID: doorID,
		Card: CardFields{
			Raw:          c.RawHex(),
			FacilityCode: c.FacilityCode,
			Number:       c.CardNumber,
		},
		Access: AccessFields{
			Granted:     granted,
			ParityValid: c.ParityValid,
		},
		Timestamp: c.ReadAt.Unix(),
	}
}
