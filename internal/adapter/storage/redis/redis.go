package redis

import (
	"context"
	"fmt"
	"time"

	"custody-engine/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	dialTimeout   = 5 * time.Second
	ioTimeout     = 2 * time.Second
	healthTimeout = 2 * time.Second
)

// NewClient creates a Redis client and verifies connectivity. Redis only backs
// best-effort paths (cache, nonces, limits, events), so timeouts are kept short.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Msg("Redis connection established")

	return client, nil
}

// HealthCheck implements ports.HealthChecker for Redis.
type HealthCheck struct {
	client *goredis.Client
}

func NewHealthCheck(client *goredis.Client) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return h.client.Ping(ctx).Err()
}

func (h *HealthCheck) Name() string {
	return "redis"
}
