package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shopcall-backend/internal/domain"
	"shopcall-backend/pkg/logger"
)

// RedisTransport implements the broadcast channel over Redis Pub/Sub,
// so events reach call members connected to other process instances.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport creates a new RedisTransport
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func eventChannel(callID uuid.UUID) string {
	return fmt.Sprintf("call:events:%s", callID)
}

// Publish broadcasts an event to every subscriber of the call.
// Fire-and-forget: delivery is at-most-once with no ordering guarantee
// across senders.
func (t *RedisTransport) Publish(ctx context.Context, callID uuid.UUID, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := t.client.Publish(ctx, eventChannel(callID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe streams the call's events until ctx is cancelled
func (t *RedisTransport) Subscribe(ctx context.Context, callID uuid.UUID) (<-chan *domain.Event, error) {
	pubsub := t.client.Subscribe(ctx, eventChannel(callID))

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to call channel: %w", err)
	}

	events := make(chan *domain.Event, 64)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warn("Failed to unmarshal call event",
						zap.String("call_id", callID.String()),
						zap.Error(err))
					continue
				}
				select {
				case events <- &event:
				default:
					// Slow consumer, drop rather than block the stream
				}
			}
		}
	}()

	return events, nil
}
