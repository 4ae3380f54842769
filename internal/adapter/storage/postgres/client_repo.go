package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const clientColumns = `id, name, account, access_key, secret_key_enc, status, created_at, updated_at`

// ClientRepo implements ports.ClientRepository.
type ClientRepo struct {
	pool Pool
}

// NewClientRepo creates a new ClientRepo.
func NewClientRepo(pool Pool) *ClientRepo {
	return &ClientRepo{pool: pool}
}

// Create inserts a new API client.
func (r *ClientRepo) Create(ctx context.Context, c *domain.APIClient) error {
	query := `INSERT INTO api_clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, string(c.Account), c.AccessKey, c.SecretKeyEnc,
		string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert api client: %w", err)
	}
	return nil
}

// GetByID fetches an API client by its UUID.
func (r *ClientRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.APIClient, error) {
	query := `SELECT ` + clientColumns + ` FROM api_clients WHERE id = $1`

	c, err := scanClient(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api client by id: %w", err)
	}
	return c, nil
}

// GetByAccessKey fetches an API client by its public access key.
func (r *ClientRepo) GetByAccessKey(ctx context.Context, accessKey string) (*domain.APIClient, error) {
	query := `SELECT ` + clientColumns + ` FROM api_clients WHERE access_key = $1`

	c, err := scanClient(r.pool.QueryRow(ctx, query, accessKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api client by access_key: %w", err)
	}
	return c, nil
}

func scanClient(row pgx.Row) (*domain.APIClient, error) {
	var (
		c               domain.APIClient
		account, status string
	)
	err := row.Scan(
		&c.ID, &c.Name, &account, &c.AccessKey, &c.SecretKeyEnc,
		&status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Account = domain.AccountID(account)
	c.Status = domain.ClientStatus(status)
	return &c, nil
}
