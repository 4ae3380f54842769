package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-engine/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const stateColumns = `authority, min_amount, max_amount, fee_amount, next_payment_id, sequence, last_receipt_digest, updated_at`

// StateRepo implements ports.StateRepository over the single custody_state row.
type StateRepo struct {
	pool Pool
}

// NewStateRepo creates a new StateRepo.
func NewStateRepo(pool Pool) *StateRepo {
	return &StateRepo{pool: pool}
}

// Get reads the ledger state without locking.
func (r *StateRepo) Get(ctx context.Context) (*domain.LedgerState, error) {
	query := `SELECT ` + stateColumns + ` FROM custody_state WHERE id = 1`

	s, err := scanState(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get custody state: %w", err)
	}
	return s, nil
}

// GetForUpdate reads the ledger state with SELECT ... FOR UPDATE.
func (r *StateRepo) GetForUpdate(ctx context.Context, tx pgx.Tx) (*domain.LedgerState, error) {
	query := `SELECT ` + stateColumns + ` FROM custody_state WHERE id = 1 FOR UPDATE`

	s, err := scanState(tx.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock custody state: %w", err)
	}
	return s, nil
}

// Update writes every mutable field of the state row within tx.
func (r *StateRepo) Update(ctx context.Context, tx pgx.Tx, s *domain.LedgerState) error {
	query := `UPDATE custody_state
		SET authority = $1, min_amount = $2, max_amount = $3, fee_amount = $4,
			next_payment_id = $5, sequence = $6, last_receipt_digest = $7, updated_at = $8
		WHERE id = 1`

	tag, err := tx.Exec(ctx, query,
		authorityParam(s.Authority), s.MinAmount, s.MaxAmount, s.FeeAmount,
		s.NextPaymentID, s.Sequence, s.LastReceiptDigest[:], s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update custody state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update custody state: %w", pgx.ErrNoRows)
	}
	return nil
}

// Bootstrap inserts the initial row; an existing row is left untouched.
func (r *StateRepo) Bootstrap(ctx context.Context, s *domain.LedgerState) (bool, error) {
	query := `INSERT INTO custody_state (id, ` + stateColumns + `)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		authorityParam(s.Authority), s.MinAmount, s.MaxAmount, s.FeeAmount,
		s.NextPaymentID, s.Sequence, s.LastReceiptDigest[:], s.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("bootstrap custody state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanState(row pgx.Row) (*domain.LedgerState, error) {
	var (
		s         domain.LedgerState
		authority *string
		digest    []byte
	)
	err := row.Scan(
		&authority, &s.MinAmount, &s.MaxAmount, &s.FeeAmount,
		&s.NextPaymentID, &s.Sequence, &digest, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if authority != nil {
		a := domain.AccountID(*authority)
		s.Authority = &a
	}
	if s.LastReceiptDigest, err = domain.BytesToBytes32(digest); err != nil {
		return nil, fmt.Errorf("decode last_receipt_digest: %w", err)
	}
	return &s, nil
}

func authorityParam(a *domain.AccountID) *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}
