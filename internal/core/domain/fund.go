package domain

import (
	"errors"
	"math"
	"time"
)

var (
	ErrFundOverflow     = errors.New("fund balance would overflow")
	ErrFundInsufficient = errors.New("fund balance below debit")
)

// FundBalance is a funder's bookkeeping balance. It is independent of settlement-layer funds.
type FundBalance struct {
	Funder    AccountID `json:"funder"`
	Balance   uint64    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Covers reports whether the balance can absorb a debit of total.
func (f *FundBalance) Covers(total uint64) bool {
	return f.Balance >= total
}

// Credit adds amount. The balance is left unchanged on error.
func (f *FundBalance) Credit(amount uint64, at time.Time) error {
	if f.Balance > math.MaxUint64-amount {
		return ErrFundOverflow
	}
	f.Balance += amount
	f.UpdatedAt = at
	return nil
}

// Debit removes amount. The balance never goes below zero.
func (f *FundBalance) Debit(amount uint64, at time.Time) error {
	if !f.Covers(amount) {
		return ErrFundInsufficient
	}
	f.Balance -= amount
	f.UpdatedAt = at
	return nil
}
