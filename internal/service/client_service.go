package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ClientServiceImpl implements ports.ClientService.
type ClientServiceImpl struct {
	clientRepo ports.ClientRepository
	encSvc     ports.EncryptionService
	tokenSvc   ports.TokenService
	log        zerolog.Logger
}

// NewClientService creates a new ClientServiceImpl.
func NewClientService(
	clientRepo ports.ClientRepository,
	encSvc ports.EncryptionService,
	tokenSvc ports.TokenService,
	log zerolog.Logger,
) *ClientServiceImpl {
	return &ClientServiceImpl{
		clientRepo: clientRepo,
		encSvc:     encSvc,
		tokenSvc:   tokenSvc,
		log:        log,
	}
}

// Create provisions an API client bound to an account.
// The plaintext secret is returned once and only its ciphertext is stored.
func (s *ClientServiceImpl) Create(ctx context.Context, req ports.CreateClientRequest) (*ports.ClientCredentials, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.Validation("client name is required")
	}
	account, err := domain.ParseAccountID(req.Account.String())
	if err != nil {
		return nil, apperror.Validation("invalid account id")
	}

	accessKey, err := generateKey("ak_", 16)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate access key: %w", err))
	}
	secretKey, err := generateKey("sk_", 32)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate secret key: %w", err))
	}

	secretKeyEnc, err := s.encSvc.Encrypt(secretKey)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt secret key: %w", err))
	}

	now := time.Now().UTC()
	client := &domain.APIClient{
		ID:           uuid.New(),
		Name:         name,
		Account:      account,
		AccessKey:    accessKey,
		SecretKeyEnc: secretKeyEnc,
		Status:       domain.ClientStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.clientRepo.Create(ctx, client); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create client: %w", err))
	}

	s.log.Info().
		Str("client_id", client.ID.String()).
		Str("account", account.String()).
		Str("access_key", accessKey).
		Msg("api client created")

	return &ports.ClientCredentials{
		ClientID:  client.ID,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}, nil
}

// IssueToken returns an admin JWT for an active client.
func (s *ClientServiceImpl) IssueToken(ctx context.Context, clientID uuid.UUID) (string, time.Time, error) {
	client, err := s.clientRepo.GetByID(ctx, clientID)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("find client: %w", err))
	}
	if client == nil {
		return "", time.Time{}, apperror.ErrNotFound("API client")
	}
	if !client.IsActive() {
		return "", time.Time{}, apperror.ErrClientSuspended()
	}

	token, expiry, err := s.tokenSvc.Generate(client.ID, client.Account)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return token, expiry, nil
}

// generateKey returns prefix followed by n random bytes in hex.
func generateKey(prefix string, n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
