package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AESEncryptionService implements ports.EncryptionService using AES-256-GCM.
// It protects API client secrets at rest.
type AESEncryptionService struct {
	aead cipher.AEAD
}

// NewAESEncryptionService creates a new AES-256-GCM encryption service.
// hexKey must be a 64-character hex string (32 bytes decoded).
func NewAESEncryptionService(hexKey string) (*AESEncryptionService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding AES key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("AES key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &AESEncryptionService{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
// Output is hex(nonce || ciphertext || tag).
func (s *AESEncryptionService) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return hex.EncodeToString(s.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Decrypt opens a value produced by Encrypt.
func (s *AESEncryptionService) Decrypt(ciphertextHex string) (string, error) {
	sealed, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
