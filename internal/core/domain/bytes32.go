package domain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Bytes32 is a fixed 32-byte digest. Session hashes and receipt digests use it.
type Bytes32 [32]byte

var ErrInvalidBytes32 = errors.New("expected 32-byte hex digest")

// ParseBytes32 decodes a 64-character hex string, with or without a 0x prefix.
func ParseBytes32(raw string) (Bytes32, error) {
	var out Bytes32
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if len(s) != 64 {
		return out, ErrInvalidBytes32
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidBytes32, err)
	}
	copy(out[:], b)
	return out, nil
}

// DecodeHex decodes a hex string of any even length, with or without a 0x prefix.
// It returns nil bytes on error.
func DecodeHex(raw string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// BytesToBytes32 copies b into a Bytes32. It fails unless len(b) is exactly 32.
func BytesToBytes32(b []byte) (Bytes32, error) {
	var out Bytes32
	if len(b) != len(out) {
		return out, ErrInvalidBytes32
	}
	copy(out[:], b)
	return out, nil
}

// IsZero reports whether every byte is zero. An all-zero session hash counts as empty.
func (h Bytes32) IsZero() bool {
	return h == Bytes32{}
}

// Hex returns the 0x-prefixed lowercase encoding.
func (h Bytes32) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Bytes32) String() string {
	return h.Hex()
}

func (h Bytes32) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

func (h *Bytes32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBytes32(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
