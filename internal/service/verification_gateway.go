package service

import (
	"context"
	"net/http"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

// VerificationGatewayImpl implements ports.VerificationGateway.
// The session registry is asked first; the patient verifier is only consulted if it passes.
type VerificationGatewayImpl struct {
	sessions ports.SessionVerifier
	patients ports.PatientVerifier
	log      zerolog.Logger
}

// NewVerificationGateway creates a new VerificationGatewayImpl.
func NewVerificationGateway(sessions ports.SessionVerifier, patients ports.PatientVerifier, log zerolog.Logger) *VerificationGatewayImpl {
	return &VerificationGatewayImpl{sessions: sessions, patients: patients, log: log}
}

// Verify returns nil only if both collaborators confirm the session.
func (g *VerificationGatewayImpl) Verify(ctx context.Context, sessionID uint64, patient domain.AccountID, sessionHash domain.Bytes32) error {
	ok, err := g.sessions.VerifySession(ctx, sessionID, patient, sessionHash)
	if err != nil {
		g.log.Warn().Err(err).Uint64("session_id", sessionID).Msg("session registry call failed")
		return apperror.Wrap(apperror.CodeInvalidSessionHash, "Session verification failed", http.StatusUnprocessableEntity, err)
	}
	if !ok {
		return apperror.ErrInvalidSessionHash()
	}

	ok, err = g.patients.IsVerified(ctx, sessionID, patient)
	if err != nil {
		g.log.Warn().Err(err).Uint64("session_id", sessionID).Msg("patient verifier call failed")
		return apperror.Wrap(apperror.CodeInvalidVerification, "Patient verification failed", http.StatusUnprocessableEntity, err)
	}
	if !ok {
		return apperror.ErrInvalidVerification()
	}
	return nil
}
