package dto

import (
	"time"

	"custody-engine/internal/core/domain"
)

// ProcessPaymentRequest is the request body for payment processing.
// session_hash is only hex-decoded here; its length and value are checked by the engine
// after the authority and amount checks.
type ProcessPaymentRequest struct {
	SessionID   uint64 `json:"session_id"`
	Provider    string `json:"provider" binding:"required,account_id"`
	Patient     string `json:"patient" binding:"required,account_id"`
	Funder      string `json:"funder" binding:"required,account_id"`
	Amount      uint64 `json:"amount"`
	SessionHash string `json:"session_hash"`
}

// ProcessPaymentResponse carries the allocated payment identifier.
type ProcessPaymentResponse struct {
	PaymentID uint64 `json:"payment_id"`
}

// PaymentResponse is the public view of a receipt.
type PaymentResponse struct {
	ID             uint64 `json:"id"`
	SessionID      uint64 `json:"session_id"`
	Provider       string `json:"provider"`
	Patient        string `json:"patient"`
	Funder         string `json:"funder"`
	Caller         string `json:"caller"`
	Amount         uint64 `json:"amount"`
	FeeCharged     uint64 `json:"fee_charged"`
	SequenceNumber uint64 `json:"sequence_number"`
	Status         string `json:"status"`
	SessionHash    string `json:"session_hash"`
	ReceiptDigest  string `json:"receipt_digest"`
	CreatedAt      string `json:"created_at"`
}

// NewPaymentResponse maps a receipt to its response body.
func NewPaymentResponse(p *domain.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:             p.ID,
		SessionID:      p.SessionID,
		Provider:       p.Provider.String(),
		Patient:        p.Patient.String(),
		Funder:         p.Funder.String(),
		Caller:         p.Caller.String(),
		Amount:         p.Amount,
		FeeCharged:     p.FeeCharged,
		SequenceNumber: p.SequenceNumber,
		Status:         string(p.Status),
		SessionHash:    p.SessionHash.Hex(),
		ReceiptDigest:  p.ReceiptDigest.Hex(),
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PaymentStatusResponse reports whether an identifier has been settled.
type PaymentStatusResponse struct {
	ID   uint64 `json:"id"`
	Paid bool   `json:"paid"`
}

// UpdateFundRequest credits a funder balance.
type UpdateFundRequest struct {
	Funder string `json:"funder" binding:"required,account_id"`
	Amount uint64 `json:"amount"`
}

// FundBalanceResponse is the balance of one funder.
type FundBalanceResponse struct {
	Funder  string `json:"funder"`
	Balance uint64 `json:"balance"`
}

// SetAuthorityRequest is the request body for the one-time authority bootstrap.
type SetAuthorityRequest struct {
	Authority string `json:"authority" binding:"required,account_id"`
}

// SetValueRequest is the request body for the min, max and fee setters.
type SetValueRequest struct {
	Value uint64 `json:"value"`
}

// IncrementIdentifierResponse carries the identifier the next payment will use.
type IncrementIdentifierResponse struct {
	NextPaymentID uint64 `json:"next_payment_id"`
}

// TokenResponse is the response body for an issued admin token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // Unix timestamp
}

// ConfigResponse is the current guard configuration plus ledger counters.
type ConfigResponse struct {
	Authority         *string `json:"authority"`
	MinAmount         uint64  `json:"min_amount"`
	MaxAmount         uint64  `json:"max_amount"`
	FeeAmount         uint64  `json:"fee_amount"`
	NextPaymentID     uint64  `json:"next_payment_id"`
	Sequence          uint64  `json:"sequence"`
	LastReceiptDigest string  `json:"last_receipt_digest"`
	UpdatedAt         string  `json:"updated_at"`
}

// NewConfigResponse maps the ledger state to its response body.
func NewConfigResponse(s *domain.LedgerState) ConfigResponse {
	resp := ConfigResponse{
		MinAmount:         s.MinAmount,
		MaxAmount:         s.MaxAmount,
		FeeAmount:         s.FeeAmount,
		NextPaymentID:     s.NextPaymentID,
		Sequence:          s.Sequence,
		LastReceiptDigest: s.LastReceiptDigest.Hex(),
		UpdatedAt:         s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.Authority != nil {
		a := s.Authority.String()
		resp.Authority = &a
	}
	return resp
}
