package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSetAuthority        AuditAction = "SET_AUTHORITY"
	AuditActionSetMinAmount        AuditAction = "SET_MIN_AMOUNT"
	AuditActionSetMaxAmount        AuditAction = "SET_MAX_AMOUNT"
	AuditActionSetFee              AuditAction = "SET_FEE"
	AuditActionIncrementIdentifier AuditAction = "INCREMENT_IDENTIFIER"
	AuditActionProcessPayment      AuditAction = "PROCESS_PAYMENT"
	AuditActionUpdateFundBalance   AuditAction = "UPDATE_FUND_BALANCE"
	AuditActionIssueToken          AuditAction = "ISSUE_TOKEN"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Caller       *AccountID  `json:"caller,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
