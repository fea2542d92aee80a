// Package messaging forwards lifecycle events to external brokers.
package messaging

import (
	"context"

	"github.com/spec-kit/ticket-bot/internal/events"
)

// Sink receives published lifecycle events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event events.Event) error
	Close() error
}
