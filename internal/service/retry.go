package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/platform"
)

// retrier runs idempotent platform calls a bounded number of times.
type retrier struct {
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

func (r retrier) do(ctx context.Context, op string, fn func() error) error {
	attempts := r.attempts
	if attempts < 1 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && platform.IsNotFound(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.delay)),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		r.logger.Warn("platform call failed", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(err))
	}
	return err
}

// post retries a message post and returns the new message id.
func (r retrier) post(ctx context.Context, p platform.Platform, channelID string, msg platform.Message) (string, error) {
	var id string
	err := r.do(ctx, "post message", func() error {
		var err error
		id, err = p.PostMessage(ctx, channelID, msg)
		return err
	})
	return id, err
}
