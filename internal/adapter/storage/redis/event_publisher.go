package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"custody-engine/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventPublisher implements ports.EventPublisher over Redis pub/sub.
type EventPublisher struct {
	client  *goredis.Client
	channel string
}

// NewEventPublisher creates a publisher for channel.
func NewEventPublisher(client *goredis.Client, channel string) *EventPublisher {
	return &EventPublisher{client: client, channel: channel}
}

// Publish sends the JSON-encoded event. Subscribers that are not connected miss it.
func (p *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe streams decoded events until ctx is cancelled.
// Messages that fail to decode are logged and skipped.
func (p *EventPublisher) Subscribe(ctx context.Context, log zerolog.Logger) (<-chan domain.Event, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", p.channel, err)
	}

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping undecodable event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
