package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// BuildCanonicalString constructs the newline-separated payload a client signs:
//
//	METHOD
//	PATH
//	TIMESTAMP
//	NONCE
//	hex(sha256(BODY))
func (s *HMACSignatureService) BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string {
	sum := sha256.Sum256([]byte(body))
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		nonce,
		hex.EncodeToString(sum[:]),
	}, "\n")
}
