package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sha256("") in hex
const emptyBodyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	secretKey := "sk_test"
	payload := svc.BuildCanonicalString("POST", "/api/v1/payments", 1708092000, "nonce-1", `{"amount":1000}`)

	signature := svc.Sign(secretKey, payload)
	assert.Regexp(t, `^[0-9a-f]{64}$`, signature)
	assert.True(t, svc.Verify(secretKey, payload, signature))
	assert.True(t, svc.Verify(secretKey, payload, strings.ToUpper(signature)))
}

func TestHMACSignatureService_VerifyFailures(t *testing.T) {
	svc := NewHMACSignatureService()
	signature := svc.Sign("correct-key", "original")

	assert.False(t, svc.Verify("wrong-key", "original", signature))
	assert.False(t, svc.Verify("correct-key", "tampered", signature))
	assert.False(t, svc.Verify("correct-key", "original", "invalidsignature"))
}

func TestHMACSignatureService_DeterministicSign(t *testing.T) {
	svc := NewHMACSignatureService()
	assert.Equal(t, svc.Sign("key", "data"), svc.Sign("key", "data"))
}

func TestHMACSignatureService_BuildCanonicalString(t *testing.T) {
	svc := NewHMACSignatureService()

	result := svc.BuildCanonicalString("get", "/api/v1/funds/0xf1", 1708092000, "n1", "")
	assert.Equal(t, "GET\n/api/v1/funds/0xf1\n1708092000\nn1\n"+emptyBodyDigest, result)
}

func TestHMACSignatureService_BodyChangesCanonical(t *testing.T) {
	svc := NewHMACSignatureService()

	a := svc.BuildCanonicalString("POST", "/api/v1/funds", 1, "n", `{"amount":100}`)
	b := svc.BuildCanonicalString("POST", "/api/v1/funds", 1, "n", `{"amount":101}`)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "amount")
}
