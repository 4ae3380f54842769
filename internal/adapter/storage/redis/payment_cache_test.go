package redis

import (
	"context"
	"testing"
	"time"

	"custody-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReceipt(id uint64) *domain.PaymentRecord {
	rec := &domain.PaymentRecord{
		ID:             id,
		SessionID:      9,
		Provider:       "0xprovider",
		Patient:        "0xpatient",
		Funder:         "0xfunder",
		Caller:         "0xcaller",
		Amount:         1_000,
		FeeCharged:     10,
		SequenceNumber: 4,
		Status:         domain.PaymentStatusCompleted,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rec.SessionHash[0] = 0xaa
	rec.ReceiptDigest[31] = 0xbb
	return rec
}

func TestPaymentCache_SetAndGet(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewPaymentCache(client)
	ctx := context.Background()

	got, err := cache.Get(ctx, 3)
	assert.NoError(t, err)
	assert.Nil(t, got)

	rec := testReceipt(3)
	require.NoError(t, cache.Set(ctx, rec, time.Hour))

	got, err = cache.Get(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *rec, *got)
}

func TestPaymentCache_TTLExpiry(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewPaymentCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, testReceipt(1), time.Second))
	s.FastForward(2 * time.Second)

	got, err := cache.Get(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, got, "expired receipt should miss")
}

func TestPaymentCache_CorruptEntry(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewPaymentCache(client)

	require.NoError(t, s.Set("custody:payment:7", "{not json"))

	_, err := cache.Get(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode cached payment 7")
}
