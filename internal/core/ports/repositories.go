package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// StateRepository persists the single ledger state row.
// GetForUpdate takes the row lock that serializes every mutating operation.
type StateRepository interface {
	Get(ctx context.Context) (*domain.LedgerState, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx) (*domain.LedgerState, error)
	Update(ctx context.Context, tx pgx.Tx, state *domain.LedgerState) error
	// Bootstrap inserts the initial state if none exists. Returns true if a row was created.
	Bootstrap(ctx context.Context, state *domain.LedgerState) (bool, error)
}

// FundRepository persists per-funder bookkeeping balances.
type FundRepository interface {
	Get(ctx context.Context, funder domain.AccountID) (*domain.FundBalance, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, funder domain.AccountID) (*domain.FundBalance, error)
	Save(ctx context.Context, tx pgx.Tx, balance *domain.FundBalance) error
}

// PaymentRepository is the append-only receipt registry.
type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, record *domain.PaymentRecord) error
	GetByID(ctx context.Context, id uint64) (*domain.PaymentRecord, error)
	IsSettled(ctx context.Context, tx pgx.Tx, id uint64) (bool, error)
	// ListFrom returns up to limit receipts with id >= fromID, ordered by id.
	ListFrom(ctx context.Context, fromID uint64, limit int) ([]domain.PaymentRecord, error)
}

// ClientRepository defines persistence operations for API clients.
type ClientRepository interface {
	Create(ctx context.Context, client *domain.APIClient) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.APIClient, error)
	GetByAccessKey(ctx context.Context, accessKey string) (*domain.APIClient, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DeliveryRepository persists webhook delivery attempts for events.
type DeliveryRepository interface {
	Create(ctx context.Context, log *domain.EventDeliveryLog) error
	Update(ctx context.Context, log *domain.EventDeliveryLog) error
	GetByEventID(ctx context.Context, eventID uuid.UUID) ([]domain.EventDeliveryLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
