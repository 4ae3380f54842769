package domain

import "time"

// PaymentStatus is the lifecycle state of a payment receipt. Receipts are only ever written
// once the payment has fully settled, so Completed is the sole state.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
)

// PaymentRecord is the immutable receipt of one committed disbursement.
type PaymentRecord struct {
	ID             uint64        `json:"id"`
	SessionID      uint64        `json:"session_id"`
	Provider       AccountID     `json:"provider"`
	Patient        AccountID     `json:"patient"`
	Funder         AccountID     `json:"funder"`
	Caller         AccountID     `json:"caller"`
	Amount         uint64        `json:"amount"`
	FeeCharged     uint64        `json:"fee_charged"`
	SequenceNumber uint64        `json:"sequence_number"`
	Status         PaymentStatus `json:"status"`
	SessionHash    Bytes32       `json:"session_hash"`
	ReceiptDigest  Bytes32       `json:"receipt_digest"`
	CreatedAt      time.Time     `json:"created_at"`
}

// IsCompleted returns true if the receipt records a settled payment.
func (p *PaymentRecord) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// TotalDebited is what the funder's bookkeeping balance lost for this payment.
func (p *PaymentRecord) TotalDebited() uint64 {
	return p.Amount + p.FeeCharged
}
