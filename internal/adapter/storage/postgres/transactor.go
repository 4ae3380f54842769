package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor. Every custody mutation runs
// inside one of its transactions so the state row lock and the writes commit together.
type Transactor struct {
	pool Pool
}

func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin starts a read-committed transaction; the state row lock provides serialization.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin custody tx: %w", err)
	}
	return tx, nil
}
