package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/messaging"
)

const sinkTimeout = 5 * time.Second

// NotificationService logs lifecycle events and forwards them to the configured sinks
// from a background queue, so a slow broker never holds up a transition.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	sinks      []messaging.Sink
	queue      chan events.Event
}

// NewNotificationService creates the service. queueSize bounds the number of events
// waiting for delivery; beyond it events are dropped and logged.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, queueSize int, sinks ...messaging.Sink) *NotificationService {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		sinks:      sinks,
		queue:      make(chan events.Event, queueSize),
	}
}

// RegisterHandlers subscribes to every lifecycle event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("event_id", event.ID),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.ID),
		zap.Any("payload", event.Payload))
	if len(n.sinks) == 0 {
		return nil
	}
	select {
	case n.queue <- event:
	default:
		n.logger.Warn("notification queue full; event dropped",
			zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	}
	return nil
}

// Run drains the queue into the sinks until ctx is cancelled.
func (n *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			n.forward(ctx, event)
		}
	}
}

func (n *NotificationService) forward(ctx context.Context, event events.Event) {
	for _, sink := range n.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Deliver(sinkCtx, event)
		cancel()
		if err != nil {
			n.logger.Warn("event sink delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
		}
	}
}

// Close releases the sinks.
func (n *NotificationService) Close() {
	for _, sink := range n.sinks {
		if err := sink.Close(); err != nil {
			n.logger.Warn("failed to close sink", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}
