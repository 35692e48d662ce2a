// Package wiegand decodes the two-wire Wiegand reader protocol: each
// card bit arrives as a brief falling pulse on one of two lines (D0 for
// zero, D1 for one), and a read is complete once the lines stay quiet
// for the inter-bit timeout.
package wiegand

import (
	"time"

	"doorman/internal/domain"
)

// Decode turns an ordered bit sequence into a Credential. The raw value
// concatenates all bits MSB-first. 26- and 34-bit frames additionally
// get their parity checked and fields extracted:
//
//	26 bits: bit 0 even parity over bits 1..12, bit 25 odd parity over
//	bits 13..24, facility = bits 1..8, card number = bits 9..24.
//	34 bits: bit 0 even parity over bits 1..16, bit 33 odd parity over
//	bits 17..32, card number = bits 1..32 (no facility field).
//
// Any other length decodes raw-only with ParityValid false. A parity
// mismatch never aborts decoding; the credential is emitted with
// ParityValid false and policy decides its fate.
func Decode(bits []byte, readAt time.Time) domain.Credential {
	c := domain.Credential{
		Raw:       fieldValue(bits, 0, len(bits)-1),
		BitLength: len(bits),
		ReadAt:    readAt,
	}

	switch len(bits) {
	case 26:
		c.ParityValid = evenParityOK(bits, 0, 1, 12) && oddParityOK(bits, 25, 13, 24)
		c.FacilityCode = uint32(fieldValue(bits, 1, 8))
		c.CardNumber = uint32(fieldValue(bits, 9, 24))
	case 34:
		c.ParityValid = evenParityOK(bits, 0, 1, 16) && oddParityOK(bits, 33, 17, 32)
		c.CardNumber = uint32(fieldValue(bits, 1, 32))
	}
	return c
}

// fieldValue packs bits[from..to] (inclusive) into an unsigned value,
// MSB first. Frames longer than 64 bits shed their oldest bits.
func fieldValue(bits []byte, from, to int) uint64 {
	var v uint64
	for i := from; i <= to; i++ {
		v = v<<1 | uint64(bits[i]&1)
	}
	return v
}

// countOnes returns the number of set bits in bits[from..to] inclusive.
func countOnes(bits []byte, from, to int) int {
	n := 0
	for i := from; i <= to; i++ {
		if bits[i]&1 == 1 {
			n++
		}
	}
	return n
}

// evenParityOK checks that the parity bit at pos makes bits[from..to]
// plus itself contain an even number of ones.
func evenParityOK(bits []byte, pos, from, to int) bool {
	return int(bits[pos]&1) == countOnes(bits, from, to)%2
}

// oddParityOK checks that the parity bit at pos makes bits[from..to]
// plus itself contain an odd number of ones.
func oddParityOK(bits []byte, pos, from, to int) bool {
	return int(bits[pos]&1) == 1-countOnes(bits, from, to)%2
}
