package postgres

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotBootstrapped is reported while the ledger state row is missing; run `custodyd migrate`.
var ErrNotBootstrapped = errors.New("ledger state not bootstrapped")

// HealthCheck implements ports.HealthChecker for PostgreSQL. The database is only healthy
// once the ledger state row exists, since every custody operation locks it.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	var ready bool
	if err := h.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM custody_state WHERE id = 1)`).Scan(&ready); err != nil {
		return fmt.Errorf("postgres readiness: %w", err)
	}
	if !ready {
		return ErrNotBootstrapped
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
