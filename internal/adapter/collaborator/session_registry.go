package collaborator

import (
	"context"
	"net/http"
	"time"

	"custody-engine/internal/core/domain"
)

// SessionRegistryClient implements ports.SessionVerifier over the registry's REST API.
type SessionRegistryClient struct {
	api jsonClient
}

// NewSessionRegistryClient creates a client for the registry at baseURL. doer may be nil.
func NewSessionRegistryClient(baseURL string, doer HTTPDoer, timeout time.Duration) *SessionRegistryClient {
	return &SessionRegistryClient{api: newJSONClient(baseURL, doer, timeout)}
}

type verifySessionRequest struct {
	SessionID   uint64           `json:"session_id"`
	Patient     domain.AccountID `json:"patient"`
	SessionHash domain.Bytes32   `json:"session_hash"`
}

type verifySessionResponse struct {
	Valid bool `json:"valid"`
}

// VerifySession asks whether the triple matches a completed service delivery.
// An unknown session is reported as false, not as an error.
func (c *SessionRegistryClient) VerifySession(ctx context.Context, sessionID uint64, patient domain.AccountID, sessionHash domain.Bytes32) (bool, error) {
	var out verifySessionResponse
	status, err := c.api.do(ctx, http.MethodPost, "/v1/sessions/verify", verifySessionRequest{
		SessionID:   sessionID,
		Patient:     patient,
		SessionHash: sessionHash,
	}, &out)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Valid, nil
}
