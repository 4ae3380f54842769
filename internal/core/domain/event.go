package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an observable custody event.
type EventType string

const (
	EventPaymentProcessed   EventType = "PAYMENT_PROCESSED"
	EventFundBalanceUpdated EventType = "FUND_BALANCE_UPDATED"
)

// PaymentProcessed is emitted once per committed payment.
type PaymentProcessed struct {
	PaymentID uint64 `json:"id"`
	SessionID uint64 `json:"session_id"`
}

// FundBalanceUpdated is emitted once per committed credit.
type FundBalanceUpdated struct {
	Funder AccountID `json:"funder"`
	Amount uint64    `json:"amount"`
}

// Event is the envelope published after a commit. Exactly one payload field is set.
type Event struct {
	ID                 uuid.UUID           `json:"id"`
	Type               EventType           `json:"type"`
	Sequence           uint64              `json:"sequence"`
	PaymentProcessed   *PaymentProcessed   `json:"payment_processed,omitempty"`
	FundBalanceUpdated *FundBalanceUpdated `json:"fund_balance_updated,omitempty"`
	OccurredAt         time.Time           `json:"occurred_at"`
}

// NewPaymentProcessedEvent builds the event for a committed receipt.
func NewPaymentProcessedEvent(rec *PaymentRecord) Event {
	return Event{
		ID:       uuid.New(),
		Type:     EventPaymentProcessed,
		Sequence: rec.SequenceNumber,
		PaymentProcessed: &PaymentProcessed{
			PaymentID: rec.ID,
			SessionID: rec.SessionID,
		},
		OccurredAt: rec.CreatedAt,
	}
}

// NewFundBalanceUpdatedEvent builds the event for a committed credit.
func NewFundBalanceUpdatedEvent(funder AccountID, amount, sequence uint64, at time.Time) Event {
	return Event{
		ID:       uuid.New(),
		Type:     EventFundBalanceUpdated,
		Sequence: sequence,
		FundBalanceUpdated: &FundBalanceUpdated{
			Funder: funder,
			Amount: amount,
		},
		OccurredAt: at,
	}
}
