package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the webhook delivery state of an event.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// EventDeliveryLog tracks webhook delivery of one event across attempts.
type EventDeliveryLog struct {
	ID         uuid.UUID      `json:"id"`
	EventID    uuid.UUID      `json:"event_id"`
	EventType  EventType      `json:"event_type"`
	WebhookURL string         `json:"webhook_url"`
	Payload    string         `json:"payload"` // JSON string
	HTTPStatus *int           `json:"http_status"`
	Attempt    int            `json:"attempt"`
	Status     DeliveryStatus `json:"status"`
	LastError  *string        `json:"last_error"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
