package domain

import (
	"errors"
	"regexp"
	"strings"
)

// AccountID is the opaque settlement-layer identity of a provider, patient, funder or authority.
type AccountID string

// NullAccount is the reserved burn identity. It can never hold the authority role.
const NullAccount AccountID = "0x0000000000000000000000000000000000000000"

const maxAccountIDLen = 128

var accountIDRe = regexp.MustCompile(`^[a-zA-Z0-9_:.\-]+$`)

var ErrInvalidAccountID = errors.New("invalid account id")

// ParseAccountID normalizes raw input into an AccountID. Hex-style identifiers are lowercased
// so that 0xABC and 0xabc refer to the same account.
func ParseAccountID(raw string) (AccountID, error) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxAccountIDLen || !accountIDRe.MatchString(s) {
		return "", ErrInvalidAccountID
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = "0x" + strings.ToLower(s[2:])
	}
	return AccountID(s), nil
}

// IsNull reports whether a is the reserved null/burn account.
func (a AccountID) IsNull() bool {
	return a == NullAccount
}

func (a AccountID) String() string {
	return string(a)
}
