package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/events"
)

type redisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStreamSink appends events to a Redis stream, trimmed approximately to maxLen
// entries when maxLen is positive.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) Sink {
	return &redisStreamSink{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (s *redisStreamSink) Name() string { return "redis_stream" }

func (s *redisStreamSink) Deliver(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"actor_id":   event.Actor.ID,
		"timestamp":  event.Timestamp.UnixMilli(),
		"payload":    string(payload),
	}
	if event.TicketID != "" {
		fields["ticket_id"] = event.TicketID
	}

	args := &redis.XAddArgs{Stream: s.stream, Values: fields}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}

	s.logger.Debug("enqueued lifecycle event",
		zap.String("stream", s.stream),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID))
	return nil
}

// Close is a no-op; the client belongs to the persistence layer.
func (s *redisStreamSink) Close() error { return nil }
