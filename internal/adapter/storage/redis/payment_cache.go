package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"custody-engine/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// PaymentCache implements ports.PaymentCache. Receipts are immutable once
// committed, so entries never need invalidation; the TTL only bounds memory.
type PaymentCache struct {
	client *goredis.Client
	prefix string
}

// NewPaymentCache creates a new Redis-backed receipt cache.
func NewPaymentCache(client *goredis.Client) *PaymentCache {
	return &PaymentCache{
		client: client,
		prefix: "custody:payment:",
	}
}

func (c *PaymentCache) key(id uint64) string {
	return c.prefix + strconv.FormatUint(id, 10)
}

// Get returns the cached receipt, or nil, nil on a miss.
func (c *PaymentCache) Get(ctx context.Context, id uint64) (*domain.PaymentRecord, error) {
	val, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis payment get: %w", err)
	}

	var rec domain.PaymentRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode cached payment %d: %w", id, err)
	}
	return &rec, nil
}

// Set stores a committed receipt with ttl.
func (c *PaymentCache) Set(ctx context.Context, rec *domain.PaymentRecord, ttl time.Duration) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode payment %d: %w", rec.ID, err)
	}
	if err := c.client.Set(ctx, c.key(rec.ID), body, ttl).Err(); err != nil {
		return fmt.Errorf("redis payment set: %w", err)
	}
	return nil
}
