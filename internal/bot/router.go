package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/service"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// TicketOperations is the slice of the lifecycle the chat surface drives.
type TicketOperations interface {
	CreateTicket(ctx context.Context, input service.CreateTicketInput) (*service.CreateTicketResult, error)
	Claim(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error)
	Unclaim(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error)
	Transfer(ctx context.Context, ticketID string, actor domain.Actor, targetID string) (*domain.Ticket, error)
	Close(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error)
	RecordMessage(ctx context.Context, msg service.IncomingMessage) error
	TicketByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
}

// Router dispatches classified events to the lifecycle.
type Router struct {
	tickets TicketOperations
	logger  *zap.Logger
}

// NewRouter builds a router over ops.
func NewRouter(ops TicketOperations, logger *zap.Logger) *Router {
	return &Router{tickets: ops, logger: logger}
}

// Route performs the event and returns the confirmation shown to the actor. An empty
// reply means nothing should be said.
func (r *Router) Route(ctx context.Context, event Event) (string, error) {
	switch e := event.(type) {
	case PanelSelected:
		result, err := r.tickets.CreateTicket(ctx, service.CreateTicketInput{OwnerID: e.UserID, CategoryKey: e.CategoryKey})
		if err != nil {
			return "", err
		}
		if result.Reused {
			return fmt.Sprintf("You already have an open ticket here: <#%s>", result.Ticket.ChannelID), nil
		}
		return fmt.Sprintf("Your ticket is ready: <#%s>", result.Ticket.ChannelID), nil

	case ControlPressed:
		ticket, err := r.tickets.TicketByChannel(ctx, e.ChannelID)
		if err != nil {
			return "", err
		}
		actor := domain.UserActor(e.UserID)
		var reply string
		switch e.Control {
		case domain.ControlClaim:
			_, err = r.tickets.Claim(ctx, ticket.ID, actor)
			reply = "You claimed this ticket."
		case domain.ControlUnclaim:
			_, err = r.tickets.Unclaim(ctx, ticket.ID, actor)
			reply = "You released this ticket."
		case domain.ControlClose:
			_, err = r.tickets.Close(ctx, ticket.ID, actor)
			reply = "Ticket closed."
		default:
			err = apperrors.NewValidationError("unknown control", map[string]any{"control": string(e.Control)})
		}
		if err != nil {
			return "", err
		}
		return reply, nil

	case TransferRequested:
		if e.TargetID == "" {
			return "", apperrors.NewValidationError("choose a supporter to transfer to", nil)
		}
		ticket, err := r.tickets.TicketByChannel(ctx, e.ChannelID)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeNotFound) {
				return "", apperrors.NewValidationError("this command only works inside a ticket channel", nil)
			}
			return "", err
		}
		if _, err := r.tickets.Transfer(ctx, ticket.ID, domain.UserActor(e.UserID), e.TargetID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Ticket transferred to <@%s>.", e.TargetID), nil

	case MessagePosted:
		return "", r.tickets.RecordMessage(ctx, service.IncomingMessage{
			ChannelID:   e.ChannelID,
			MessageID:   e.MessageID,
			AuthorID:    e.AuthorID,
			Content:     e.Content,
			Attachments: e.Attachments,
			Timestamp:   e.Timestamp,
		})
	}
	return "", apperrors.NewInternalError(fmt.Errorf("unhandled bot event %T", event))
}
