package domain

import (
	"encoding/hex"
	"strings"

	dErrors "chainrelay/pkg/domain-errors"
)

// HashSize is the width of a ledger digest in bytes (a bytes32 slot).
const HashSize = 32

// MessageHash is the sender-supplied plaintext digest, normalized to lowercase
// hex with a 0x prefix. The relay never computes it; it only checks the shape.
//
// Invariant: 1..64 hex digits after the prefix, not all zero.
type MessageHash string

// ParseMessageHash validates and normalizes a hash received from a client.
// Shorter digests are accepted and left-padded when converted to bytes32,
// matching how the contract stores them.
//
// Errors: returns CodeInvalidInput for empty, non-hex, oversized, or zero hashes.
func ParseMessageHash(s string) (MessageHash, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "message hash is required")
	}
	if len(raw) > HashSize*2 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "message hash exceeds 32 bytes")
	}
	raw = strings.ToLower(raw)
	zero := true
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "message hash must be hex encoded")
		}
		if c != '0' {
			zero = false
		}
	}
	if zero {
		return "", dErrors.New(dErrors.CodeInvalidInput, "message hash cannot be zero")
	}
	return MessageHash("0x" + raw), nil
}

// Bytes32 returns the hash as a left-padded 32-byte array.
func (h MessageHash) Bytes32() [HashSize]byte {
	var out [HashSize]byte
	raw := strings.TrimPrefix(string(h), "0x")
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) > HashSize {
		return out
	}
	copy(out[HashSize-len(b):], b)
	return out
}

// Key returns the canonical 64-digit form, so that 0xabc and 0x0abc map to the
// same ledger slot.
func (h MessageHash) Key() string {
	b := h.Bytes32()
	return "0x" + hex.EncodeToString(b[:])
}

func (h MessageHash) String() string { return string(h) }

// IsNil reports whether the hash is empty.
func (h MessageHash) IsNil() bool { return h == "" }
