package worker

import (
	"context"

	"github.com/spec-kit/ticket-bot/internal/service"
)

// StartNotificationWorker registers notification handlers and starts forwarding events
// to the configured sinks until ctx is cancelled. The returned channel closes once the
// worker has stopped.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) <-chan struct{} {
	done := make(chan struct{})
	if notificationService == nil {
		close(done)
		return done
	}
	notificationService.RegisterHandlers()
	go func() {
		defer close(done)
		notificationService.Run(ctx)
	}()
	return done
}
