package postgres

import (
	"context"
	"fmt"
	"time"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
)

// DeliveryRepo implements ports.DeliveryRepository for webhook delivery attempts.
type DeliveryRepo struct {
	pool Pool
}

func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

func (r *DeliveryRepo) Create(ctx context.Context, log *domain.EventDeliveryLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO event_delivery_logs
		(id, event_id, event_type, webhook_url, payload, http_status, attempt, status, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.ID, log.EventID, string(log.EventType), log.WebhookURL,
		log.Payload, log.HTTPStatus, log.Attempt, string(log.Status),
		log.LastError, log.CreatedAt, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) Update(ctx context.Context, log *domain.EventDeliveryLog) error {
	log.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`UPDATE event_delivery_logs
		 SET http_status = $1, attempt = $2, status = $3, last_error = $4, updated_at = $5
		 WHERE id = $6`,
		log.HTTPStatus, log.Attempt, string(log.Status), log.LastError, log.UpdatedAt, log.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery log: %w", err)
	}
	return nil
}

// GetByEventID lists delivery attempts for one event, newest first.
func (r *DeliveryRepo) GetByEventID(ctx context.Context, eventID uuid.UUID) ([]domain.EventDeliveryLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, event_type, webhook_url, payload,
			http_status, attempt, status, last_error, created_at, updated_at
		 FROM event_delivery_logs
		 WHERE event_id = $1
		 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.EventDeliveryLog
	for rows.Next() {
		var (
			l                 domain.EventDeliveryLog
			eventType, status string
		)
		if err := rows.Scan(
			&l.ID, &l.EventID, &eventType, &l.WebhookURL, &l.Payload,
			&l.HTTPStatus, &l.Attempt, &status, &l.LastError,
			&l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		l.EventType = domain.EventType(eventType)
		l.Status = domain.DeliveryStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
