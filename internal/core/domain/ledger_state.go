package domain

import (
	"math"
	"time"
)

// LedgerState is the single process-wide custody state: the configuration guard, the
// identifier allocator and the commit sequence. Every mutating operation locks it first.
type LedgerState struct {
	Authority         *AccountID `json:"authority,omitempty"`
	MinAmount         uint64     `json:"min_amount"`
	MaxAmount         uint64     `json:"max_amount"`
	FeeAmount         uint64     `json:"fee_amount"`
	NextPaymentID     uint64     `json:"next_payment_id"`
	Sequence          uint64     `json:"sequence"`
	LastReceiptDigest Bytes32    `json:"last_receipt_digest"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasAuthority returns true once the authority has been set.
func (s *LedgerState) HasAuthority() bool {
	return s.Authority != nil
}

// IsAuthority returns true if caller is the configured authority.
func (s *LedgerState) IsAuthority(caller AccountID) bool {
	return s.Authority != nil && *s.Authority == caller
}

// AmountInBounds checks v against the inclusive [MinAmount, MaxAmount] range.
func (s *LedgerState) AmountInBounds(v uint64) bool {
	return v >= s.MinAmount && v <= s.MaxAmount
}

// TotalCharge returns amount plus the flat fee. ok is false on overflow.
func (s *LedgerState) TotalCharge(amount uint64) (total uint64, ok bool) {
	if amount > math.MaxUint64-s.FeeAmount {
		return 0, false
	}
	return amount + s.FeeAmount, true
}

// AllocatePaymentID returns the current counter value and advances it by one.
func (s *LedgerState) AllocatePaymentID() uint64 {
	id := s.NextPaymentID
	s.NextPaymentID++
	return id
}

// Advance moves the ledger to the next commit position and returns it.
func (s *LedgerState) Advance(now time.Time) uint64 {
	s.Sequence++
	s.UpdatedAt = now
	return s.Sequence
}

// Clone returns a deep copy so callers can stage changes without touching the original.
func (s *LedgerState) Clone() *LedgerState {
	c := *s
	if s.Authority != nil {
		a := *s.Authority
		c.Authority = &a
	}
	return &c
}
