package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-engine/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// FundRepo implements ports.FundRepository.
type FundRepo struct {
	pool Pool
}

// NewFundRepo creates a new FundRepo.
func NewFundRepo(pool Pool) *FundRepo {
	return &FundRepo{pool: pool}
}

// Get fetches a funder balance (non-locking read). Unknown funders return nil.
func (r *FundRepo) Get(ctx context.Context, funder domain.AccountID) (*domain.FundBalance, error) {
	query := `SELECT funder, balance, updated_at FROM fund_balances WHERE funder = $1`

	f, err := scanFund(r.pool.QueryRow(ctx, query, string(funder)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fund balance: %w", err)
	}
	return f, nil
}

// GetForUpdate fetches a funder balance with a row lock inside tx.
func (r *FundRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, funder domain.AccountID) (*domain.FundBalance, error) {
	query := `SELECT funder, balance, updated_at FROM fund_balances WHERE funder = $1 FOR UPDATE`

	f, err := scanFund(tx.QueryRow(ctx, query, string(funder)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock fund balance: %w", err)
	}
	return f, nil
}

// Save upserts the funder balance within tx.
func (r *FundRepo) Save(ctx context.Context, tx pgx.Tx, f *domain.FundBalance) error {
	query := `INSERT INTO fund_balances (funder, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (funder) DO UPDATE SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at`

	if _, err := tx.Exec(ctx, query, string(f.Funder), f.Balance, f.UpdatedAt); err != nil {
		return fmt.Errorf("save fund balance: %w", err)
	}
	return nil
}

func scanFund(row pgx.Row) (*domain.FundBalance, error) {
	var (
		f      domain.FundBalance
		funder string
	)
	if err := row.Scan(&funder, &f.Balance, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Funder = domain.AccountID(funder)
	return &f, nil
}
