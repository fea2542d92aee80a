package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bot/internal/api/dto"
	"github.com/spec-kit/ticket-bot/internal/domain"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// TicketReader is the read side of the lifecycle.
type TicketReader interface {
	OpenTickets(ctx context.Context) ([]domain.Ticket, error)
	Ticket(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// TranscriptReader loads and renders stored transcripts.
type TranscriptReader interface {
	Artifact(ctx context.Context, ticketID string) (*domain.TranscriptArtifact, error)
	Decode(artifact *domain.TranscriptArtifact) (*domain.TranscriptDocument, error)
	Render(artifact *domain.TranscriptArtifact) (string, error)
}

// TicketsHandler serves the admin ticket endpoints.
type TicketsHandler struct {
	tickets     TicketReader
	transcripts TranscriptReader
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets TicketReader, transcripts TranscriptReader) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, transcripts: transcripts}
}

// ListOpen GET /admin/tickets.
func (h *TicketsHandler) ListOpen(c *fiber.Ctx) error {
	query, err := parseTicketListQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.OpenTickets(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.TicketView, 0, len(tickets))
	for i := range tickets {
		if !matches(&tickets[i], query) {
			continue
		}
		items = append(items, dto.NewTicketView(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /admin/tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	ticket, err := h.tickets.Ticket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketView(ticket)})
}

// Transcript GET /admin/tickets/:id/transcript. Plain text by default, the decoded
// document with ?format=json.
func (h *TicketsHandler) Transcript(c *fiber.Ctx) error {
	artifact, err := h.transcripts.Artifact(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	switch c.Query("format", "text") {
	case "json":
		doc, err := h.transcripts.Decode(artifact)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		return c.JSON(fiber.Map{"data": doc})
	case "text":
		text, err := h.transcripts.Render(artifact)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(text)
	default:
		return apperrors.NewValidationError("format must be text or json", nil)
	}
}

func parseTicketListQuery(c *fiber.Ctx) (dto.TicketListQuery, error) {
	query := dto.TicketListQuery{
		ClaimedBy: strings.TrimSpace(c.Query("claimed_by")),
		Category:  strings.TrimSpace(c.Query("category")),
	}
	if raw := strings.TrimSpace(c.Query("state")); raw != "" {
		state := domain.TicketState(strings.ToUpper(raw))
		switch state {
		case domain.TicketStateCreated, domain.TicketStateLocked, domain.TicketStateClaimed:
			query.State = state
		default:
			return query, apperrors.NewValidationError("invalid state filter", map[string]any{"state": raw})
		}
	}
	return query, nil
}

func matches(t *domain.Ticket, query dto.TicketListQuery) bool {
	if query.State != "" && t.State != query.State {
		return false
	}
	if query.ClaimedBy != "" && t.Claimant() != query.ClaimedBy {
		return false
	}
	if query.Category != "" && t.CategoryKey != query.Category {
		return false
	}
	return true
}
