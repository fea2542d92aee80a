package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// interactionResponder is the part of *discordgo.Session used to answer interactions.
type interactionResponder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Handler adapts discordgo callbacks to the Router.
type Handler struct {
	router  *Router
	base    context.Context
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler builds a handler. base bounds every routed event; timeout caps each one.
func NewHandler(base context.Context, router *Router, timeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{router: router, base: base, timeout: timeout, logger: logger}
}

// Attach registers the interaction and message callbacks on session.
func (h *Handler) Attach(session *discordgo.Session) {
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		h.OnInteraction(s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		h.OnMessage(m)
	})
}

// OnInteraction acknowledges the interaction ephemerally, runs it, and edits the
// acknowledgement with the outcome.
func (h *Handler) OnInteraction(s interactionResponder, i *discordgo.InteractionCreate) {
	event, ok := ClassifyInteraction(i)
	if !ok {
		return
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		h.logger.Warn("failed to acknowledge interaction", zap.String("interaction_id", i.ID), zap.Error(err))
		return
	}

	ctx, cancel := h.eventContext()
	defer cancel()
	reply, err := h.router.Route(ctx, event)
	if err != nil {
		reply = apperrors.UserMessage(err)
	}
	if reply == "" {
		reply = "Done."
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		h.logger.Warn("failed to answer interaction", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

// OnMessage records a chat message. Failures are logged; nobody is told.
func (h *Handler) OnMessage(m *discordgo.MessageCreate) {
	event, ok := ClassifyMessage(m)
	if !ok {
		return
	}
	ctx, cancel := h.eventContext()
	defer cancel()
	if _, err := h.router.Route(ctx, event); err != nil {
		h.logger.Warn("failed to record message",
			zap.String("channel_id", m.ChannelID),
			zap.String("message_id", m.ID),
			zap.Error(err))
	}
}

func (h *Handler) eventContext() (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(h.base)
	}
	return context.WithTimeout(h.base, h.timeout)
}
