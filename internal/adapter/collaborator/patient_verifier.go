package collaborator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"custody-engine/internal/core/domain"
)

// PatientVerifierClient implements ports.PatientVerifier.
type PatientVerifierClient struct {
	api jsonClient
}

// NewPatientVerifierClient creates a client for the verifier at baseURL. doer may be nil.
func NewPatientVerifierClient(baseURL string, doer HTTPDoer, timeout time.Duration) *PatientVerifierClient {
	return &PatientVerifierClient{api: newJSONClient(baseURL, doer, timeout)}
}

type patientVerificationResponse struct {
	Verified bool `json:"verified"`
}

// IsVerified reports whether patient confirmed delivery for the session.
func (c *PatientVerifierClient) IsVerified(ctx context.Context, sessionID uint64, patient domain.AccountID) (bool, error) {
	path := fmt.Sprintf("/v1/sessions/%d/patients/%s/verification", sessionID, url.PathEscape(patient.String()))

	var out patientVerificationResponse
	status, err := c.api.do(ctx, http.MethodGet, path, nil, &out)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Verified, nil
}
