package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated     EventType = "ticket_created"
	EventTicketClaimed     EventType = "ticket_claimed"
	EventTicketUnclaimed   EventType = "ticket_unclaimed"
	EventTicketTransferred EventType = "ticket_transferred"
	EventTicketWarned      EventType = "ticket_warned"
	EventTicketClosed      EventType = "ticket_closed"
	EventPanelDeployed     EventType = "panel_deployed"
)

// AllEventTypes lists every type the lifecycle publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketClaimed,
	EventTicketUnclaimed,
	EventTicketTransferred,
	EventTicketWarned,
	EventTicketClosed,
	EventPanelDeployed,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID     string `json:"id"`
	System bool   `json:"system,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, ticketID string, actor domain.Actor, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     Actor{ID: actor.ID, System: actor.System},
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ChannelID   string `json:"channel_id"`
	OwnerID     string `json:"owner_id"`
	CategoryKey string `json:"category_key"`
}

// TicketClaimPayload is shared by claim and unclaim.
type TicketClaimPayload struct {
	SupporterID string `json:"supporter_id"`
}

// TicketTransferredPayload payload.
type TicketTransferredPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TicketWarnedPayload payload.
type TicketWarnedPayload struct {
	CloseAt time.Time `json:"close_at"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	Reason   domain.CloseReason `json:"reason"`
	ClosedBy string             `json:"closed_by"`
}

// PanelDeployedPayload payload.
type PanelDeployedPayload struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Reposted  bool   `json:"reposted"`
}
