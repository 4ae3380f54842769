package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NonceStore remembers the nonces of HMAC-signed custody requests so a captured
// payment or funding request cannot be replayed within the signature's validity window.
// Keys are custody:nonce:<client id>:<nonce>; the value is the unix second the nonce was first seen.
type NonceStore struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// NewNonceStore creates a new Redis-backed nonce store.
func NewNonceStore(client *goredis.Client) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: "custody:nonce:",
		now:    time.Now,
	}
}

func (s *NonceStore) key(clientID, nonce string) string {
	return s.prefix + clientID + ":" + nonce
}

// CheckAndSet claims nonce for clientID. It returns false when the client already used the
// nonce within ttl. ttl should cover the allowed timestamp drift on both sides.
func (s *NonceStore) CheckAndSet(ctx context.Context, clientID string, nonce string, ttl time.Duration) (bool, error) {
	claimed, err := s.client.SetNX(ctx, s.key(clientID, nonce), s.now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim request nonce: %w", err)
	}
	return claimed, nil
}
