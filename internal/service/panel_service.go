package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/config"
	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// PanelService owns the category-selection message.
type PanelService struct {
	tickets      repository.TicketStore
	platform     platform.Platform
	dispatcher   events.Dispatcher
	clock        clockwork.Clock
	retry        retrier
	storeTimeout time.Duration
	logger       *zap.Logger

	channelID string
	panel     config.PanelFile
}

// PanelDependencies bundles collaborators for the panel service.
type PanelDependencies struct {
	Tickets      repository.TicketStore
	Platform     platform.Platform
	Dispatcher   events.Dispatcher
	Clock        clockwork.Clock
	ChannelID    string
	Panel        config.PanelFile
	MaxAttempts  int
	RetryDelay   time.Duration
	StoreTimeout time.Duration
	Logger       *zap.Logger
}

// NewPanelService constructs the service.
func NewPanelService(deps PanelDependencies) *PanelService {
	return &PanelService{
		tickets:      deps.Tickets,
		platform:     deps.Platform,
		dispatcher:   deps.Dispatcher,
		clock:        deps.Clock,
		retry:        retrier{attempts: deps.MaxAttempts, delay: deps.RetryDelay, logger: deps.Logger},
		storeTimeout: deps.StoreTimeout,
		logger:       deps.Logger,
		channelID:    deps.ChannelID,
		panel:        deps.Panel,
	}
}

// Category looks up a configured category.
func (s *PanelService) Category(key string) (domain.PanelCategory, bool) {
	for _, category := range s.panel.Categories {
		if category.Key == key {
			return category, true
		}
	}
	return domain.PanelCategory{}, false
}

// Categories returns the configured categories in display order.
func (s *PanelService) Categories() []domain.PanelCategory {
	return append([]domain.PanelCategory(nil), s.panel.Categories...)
}

// Message renders the panel.
func (s *PanelService) Message() platform.Message {
	options := make([]platform.SelectOption, 0, len(s.panel.Categories))
	for _, category := range s.panel.Categories {
		options = append(options, platform.SelectOption{
			Value:       category.Key,
			Label:       category.Label,
			Description: category.Description,
			Emoji:       category.Emoji,
		})
	}
	return platform.Message{
		Embed: &platform.Embed{Title: s.panel.Title, Description: s.panel.Description},
		Select: &platform.Select{
			CustomID:    platform.PanelSelectID,
			Placeholder: "Choose a category",
			Options:     options,
		},
	}
}

// Deploy publishes the panel. An existing panel in the same channel is edited in place;
// a missing message or a channel change posts a fresh one. A panel left behind in a
// previous channel loses its menu so only one panel accepts selections.
func (s *PanelService) Deploy(ctx context.Context) (*domain.Panel, error) {
	if s.channelID == "" {
		return nil, apperrors.NewValidationError("panel channel is not configured", nil)
	}
	msg := s.Message()

	getCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	existing, err := s.tickets.GetPanel(getCtx)
	cancel()
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewPersistenceError(err)
	}

	messageID, reposted := "", true
	if existing != nil && existing.ChannelID == s.channelID && existing.MessageID != "" {
		err := s.retry.do(ctx, "edit panel", func() error {
			return s.platform.EditMessage(ctx, s.channelID, existing.MessageID, msg)
		})
		switch {
		case err == nil:
			messageID, reposted = existing.MessageID, false
		case platform.IsNotFound(err):
			s.logger.Info("panel message gone; posting a new one", zap.String("message_id", existing.MessageID))
		default:
			return nil, apperrors.NewDeliveryError("panel", err)
		}
	}
	if messageID == "" {
		if messageID, err = s.retry.post(ctx, s.platform, s.channelID, msg); err != nil {
			return nil, apperrors.NewDeliveryError("panel", err)
		}
	}
	if existing != nil && existing.ChannelID != s.channelID && existing.MessageID != "" {
		s.retire(ctx, existing)
	}

	panel := &domain.Panel{
		Key:        domain.PanelKey,
		ChannelID:  s.channelID,
		MessageID:  messageID,
		Title:      s.panel.Title,
		Categories: s.Categories(),
		UpdatedAt:  s.clock.Now().UTC(),
	}
	putCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.tickets.UpsertPanel(putCtx, panel); err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	s.logger.Info("panel deployed",
		zap.String("channel_id", panel.ChannelID),
		zap.String("message_id", panel.MessageID),
		zap.Bool("reposted", reposted))
	if s.dispatcher != nil {
		event := events.New(events.EventPanelDeployed, "", domain.SystemActor(), panel.UpdatedAt, events.PanelDeployedPayload{
			ChannelID: panel.ChannelID,
			MessageID: panel.MessageID,
			Reposted:  reposted,
		})
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish panel event", zap.Error(err))
		}
	}
	return panel, nil
}

// retire strips the menu from a panel posted in another channel. Failures are logged only.
func (s *PanelService) retire(ctx context.Context, old *domain.Panel) {
	notice := platform.Message{
		Content: fmt.Sprintf("Tickets are now opened in <#%s>.", s.channelID),
		Embed:   &platform.Embed{Title: s.panel.Title, Description: s.panel.Description},
	}
	err := s.retry.do(ctx, "retire panel", func() error {
		return s.platform.EditMessage(ctx, old.ChannelID, old.MessageID, notice)
	})
	if err != nil && !platform.IsNotFound(err) {
		s.logger.Warn("old panel still shows its menu",
			zap.String("channel_id", old.ChannelID),
			zap.String("message_id", old.MessageID),
			zap.Error(err))
	}
}
