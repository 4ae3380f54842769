package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// defaultRetryIntervals are the waits between webhook delivery attempts.
var defaultRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// HeaderEventSignature carries the HMAC-SHA256 of the request body.
const HeaderEventSignature = "X-Custody-Signature"

// WebhookPayload is the JSON structure POSTed to the webhook URL.
type WebhookPayload struct {
	EventType domain.EventType `json:"event_type"`
	Data      domain.Event     `json:"data"`
	Signature string           `json:"signature"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookTarget configures webhook delivery. An empty URL disables it.
type WebhookTarget struct {
	URL    string
	Secret string
}

// EventDispatcherImpl implements ports.EventDispatcher. Events are published to the event
// bus synchronously and delivered to the webhook in the background.
type EventDispatcherImpl struct {
	publisher    ports.EventPublisher
	deliveryRepo ports.DeliveryRepository
	sigSvc       ports.SignatureService
	httpClient   HTTPClient
	target       WebhookTarget
	retries      []time.Duration
	wg           sync.WaitGroup
	stop         chan struct{}
	stopOnce     sync.Once
	log          zerolog.Logger
}

// NewEventDispatcher creates a new event dispatcher.
// deliveryRepo may be nil, in which case delivery attempts are only logged.
func NewEventDispatcher(
	publisher ports.EventPublisher,
	deliveryRepo ports.DeliveryRepository,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	target WebhookTarget,
	log zerolog.Logger,
) *EventDispatcherImpl {
	return &EventDispatcherImpl{
		publisher:    publisher,
		deliveryRepo: deliveryRepo,
		sigSvc:       sigSvc,
		httpClient:   httpClient,
		target:       target,
		retries:      defaultRetryIntervals,
		stop:         make(chan struct{}),
		log:          log,
	}
}

// WithRetryIntervals replaces the waits between delivery attempts.
func (s *EventDispatcherImpl) WithRetryIntervals(intervals []time.Duration) *EventDispatcherImpl {
	s.retries = intervals
	return s
}

// Dispatch publishes a committed event. Failures are logged, never returned.
func (s *EventDispatcherImpl) Dispatch(ctx context.Context, event domain.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.Type)).
			Msg("failed to publish event")
	}

	if s.target.URL == "" {
		return
	}

	payload, err := s.buildPayload(event)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", event.ID.String()).Msg("webhook: failed to build payload")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverWithRetries(event, payload)
	}()
}

// Wait blocks until in-flight webhook deliveries finish.
func (s *EventDispatcherImpl) Wait() {
	s.wg.Wait()
}

// Shutdown cancels pending retry waits and then waits for in-flight deliveries. A delivery
// interrupted between attempts is recorded as failed.
func (s *EventDispatcherImpl) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// waitRetry sleeps for d and reports false if Shutdown was called first.
func (s *EventDispatcherImpl) waitRetry(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stop:
		return false
	}
}

func (s *EventDispatcherImpl) buildPayload(event domain.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return json.Marshal(WebhookPayload{
		EventType: event.Type,
		Data:      event,
		Signature: s.sigSvc.Sign(s.target.Secret, string(data)),
	})
}

// deliverWithRetries POSTs payload until a 2xx response or the retries run out.
func (s *EventDispatcherImpl) deliverWithRetries(event domain.Event, payload []byte) {
	ctx := context.Background()
	now := time.Now().UTC()
	entry := &domain.EventDeliveryLog{
		ID:         uuid.New(),
		EventID:    event.ID,
		EventType:  event.Type,
		WebhookURL: s.target.URL,
		Payload:    string(payload),
		Status:     domain.DeliveryStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.record(ctx, entry, true)

	eventID := event.ID.String()
	for attempt := 0; attempt <= len(s.retries); attempt++ {
		if attempt > 0 && !s.waitRetry(s.retries[attempt-1]) {
			entry.Status = domain.DeliveryStatusFailed
			s.record(ctx, entry, false)
			s.log.Warn().Str("event_id", eventID).Int("attempt", entry.Attempt).Msg("webhook: shutting down, retries abandoned")
			return
		}
		entry.Attempt = attempt + 1

		status, err := s.post(payload)
		if err != nil {
			msg := err.Error()
			entry.LastError = &msg
			entry.HTTPStatus = nil
			s.record(ctx, entry, false)
			s.log.Warn().Err(err).Str("event_id", eventID).Int("attempt", entry.Attempt).Msg("webhook: delivery failed")
			continue
		}

		entry.HTTPStatus = &status
		if status >= 200 && status < 300 {
			entry.Status = domain.DeliveryStatusDelivered
			entry.LastError = nil
			s.record(ctx, entry, false)
			s.log.Info().Str("event_id", eventID).Int("attempt", entry.Attempt).Int("status", status).Msg("webhook: delivered successfully")
			return
		}

		msg := fmt.Sprintf("non-2xx response: %d", status)
		entry.LastError = &msg
		s.record(ctx, entry, false)
		s.log.Warn().Str("event_id", eventID).Int("attempt", entry.Attempt).Int("status", status).Msg("webhook: non-2xx response, retrying")
	}

	entry.Status = domain.DeliveryStatusFailed
	s.record(ctx, entry, false)
	s.log.Error().Str("event_id", eventID).Msg("webhook: all retry attempts exhausted")
}

func (s *EventDispatcherImpl) post(payload []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, s.target.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventSignature, s.sigSvc.Sign(s.target.Secret, string(payload)))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *EventDispatcherImpl) record(ctx context.Context, entry *domain.EventDeliveryLog, create bool) {
	if s.deliveryRepo == nil {
		return
	}
	var err error
	if create {
		err = s.deliveryRepo.Create(ctx, entry)
	} else {
		err = s.deliveryRepo.Update(ctx, entry)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", entry.EventID.String()).Msg("webhook: failed to persist delivery log")
	}
}
