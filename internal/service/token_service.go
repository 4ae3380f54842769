package service

import (
	"errors"
	"fmt"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// adminAudience scopes tokens to the admin API.
const adminAudience = "custody-admin"

type adminClaims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// JWTTokenService implements ports.TokenService using HS256 JWT.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTTokenService creates a new JWT token service.
func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
	}
}

// Generate issues an admin token for the client, carrying the account it acts as.
func (s *JWTTokenService) Generate(clientID uuid.UUID, account domain.AccountID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := adminClaims{
		Account: account.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{adminAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// Validate parses a token and checks signature, expiry, issuer and audience.
func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	var claims adminClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(adminAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	clientID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid client ID in token: %w", err)
	}
	account, err := domain.ParseAccountID(claims.Account)
	if err != nil {
		return nil, errors.New("missing account claim")
	}

	return &ports.TokenClaims{
		ClientID: clientID,
		Account:  account,
	}, nil
}
