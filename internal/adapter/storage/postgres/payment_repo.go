package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-engine/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, session_id, provider, patient, funder, caller, amount, fee_charged,
	sequence_number, status, session_hash, receipt_digest, created_at`

// PaymentRepo implements ports.PaymentRepository. Rows are never updated or deleted.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a receipt within tx.
func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PaymentRecord) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		p.ID, p.SessionID, string(p.Provider), string(p.Patient), string(p.Funder), string(p.Caller),
		p.Amount, p.FeeCharged, p.SequenceNumber, string(p.Status),
		p.SessionHash[:], p.ReceiptDigest[:], p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a receipt by its identifier.
func (r *PaymentRepo) GetByID(ctx context.Context, id uint64) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment by id: %w", err)
	}
	return p, nil
}

// IsSettled reports whether a receipt exists for id, reading inside tx.
func (r *PaymentRepo) IsSettled(ctx context.Context, tx pgx.Tx, id uint64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment settled: %w", err)
	}
	return exists, nil
}

// ListFrom returns up to limit receipts with id >= fromID in id order.
func (r *PaymentRepo) ListFrom(ctx context.Context, fromID uint64, limit int) ([]domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id >= $1 ORDER BY id ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	var (
		p                                  domain.PaymentRecord
		provider, patient, funder, caller string
		status                             string
		sessionHash, digest                []byte
	)
	err := row.Scan(
		&p.ID, &p.SessionID, &provider, &patient, &funder, &caller,
		&p.Amount, &p.FeeCharged, &p.SequenceNumber, &status,
		&sessionHash, &digest, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Provider = domain.AccountID(provider)
	p.Patient = domain.AccountID(patient)
	p.Funder = domain.AccountID(funder)
	p.Caller = domain.AccountID(caller)
	p.Status = domain.PaymentStatus(status)
	if p.SessionHash, err = domain.BytesToBytes32(sessionHash); err != nil {
		return nil, fmt.Errorf("decode session_hash: %w", err)
	}
	if p.ReceiptDigest, err = domain.BytesToBytes32(digest); err != nil {
		return nil, fmt.Errorf("decode receipt_digest: %w", err)
	}
	return &p, nil
}
