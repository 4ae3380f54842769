package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClientStatus represents the state of an API client.
type ClientStatus string

const (
	ClientStatusActive    ClientStatus = "ACTIVE"
	ClientStatusSuspended ClientStatus = "SUSPENDED"
)

// APIClient is a platform backend allowed to call the custody API. Requests it signs are
// executed on behalf of Account.
type APIClient struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Account      AccountID    `json:"account"`
	AccessKey    string       `json:"access_key"`
	SecretKeyEnc string       `json:"-"` // Encrypted, never expose
	Status       ClientStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsActive returns true if the client may authenticate.
func (c *APIClient) IsActive() bool {
	return c.Status == ClientStatusActive
}
