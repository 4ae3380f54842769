package service

import (
	"testing"
	"time"

	"custody-engine/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "custody-engine")
	clientID := uuid.New()
	account := domain.AccountID("0xauthority")

	tokenStr, expiresAt, err := svc.Generate(clientID, account)
	require.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, clientID, claims.ClientID)
	assert.Equal(t, account, claims.Account)
}

func TestJWTTokenService_ExpiredToken(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, -time.Hour, "custody-engine")

	tokenStr, _, err := svc.Generate(uuid.New(), "0xa")
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_InvalidSignature(t *testing.T) {
	svc1 := NewJWTTokenService("secret-1", time.Hour, "custody-engine")
	svc2 := NewJWTTokenService("secret-2", time.Hour, "custody-engine")

	tokenStr, _, err := svc1.Generate(uuid.New(), "0xa")
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_WrongIssuer(t *testing.T) {
	issuer := NewJWTTokenService(testJWTSecret, time.Hour, "someone-else")
	validator := NewJWTTokenService(testJWTSecret, time.Hour, "custody-engine")

	tokenStr, _, err := issuer.Generate(uuid.New(), "0xa")
	require.NoError(t, err)

	_, err = validator.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_RejectsForeignAudience(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		Issuer:    "custody-engine",
		Audience:  jwt.ClaimStrings{"dashboard"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	svc := NewJWTTokenService(testJWTSecret, time.Hour, "custody-engine")
	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_RejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.MapClaims{"sub": uuid.NewString(), "iss": "custody-engine", "aud": adminAudience}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	svc := NewJWTTokenService(testJWTSecret, time.Hour, "custody-engine")
	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_InvalidTokenString(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "custody-engine")

	_, err := svc.Validate("not.a.valid.jwt")
	assert.Error(t, err)

	_, err = svc.Validate("")
	assert.Error(t, err)
}
