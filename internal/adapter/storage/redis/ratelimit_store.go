package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimitStore implements fixed-window rate limiting counters backed by Redis.
type RateLimitStore struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// NewRateLimitStore creates a new Redis-backed rate limit store.
func NewRateLimitStore(client *goredis.Client) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		prefix: "custody:ratelimit:",
		now:    time.Now,
	}
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix seconds
}

// Allow counts one request against key in the current window.
// INCR and EXPIRE run in one MULTI so a counter never outlives its window.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	secs := int64(window / time.Second)
	if secs <= 0 {
		return nil, fmt.Errorf("rate limit window must be at least 1s, got %s", window)
	}

	windowID := s.now().Unix() / secs
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, windowID)

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window+time.Second)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit incr: %w", err)
	}

	count := incr.Val()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (windowID + 1) * secs,
	}, nil
}
