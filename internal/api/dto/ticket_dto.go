package dto

import (
	"time"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

// TicketListQuery captures filters for the open-ticket listing.
type TicketListQuery struct {
	State     domain.TicketState
	ClaimedBy string
	Category  string
}

// TransferView is one entry of a ticket's transfer history.
type TransferView struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// TicketView response.
type TicketView struct {
	ID               string             `json:"id"`
	GuildID          string             `json:"guild_id"`
	ChannelID        string             `json:"channel_id"`
	OwnerID          string             `json:"owner_id"`
	CategoryKey      string             `json:"category_key"`
	State            domain.TicketState `json:"state"`
	ClaimedBy        *string            `json:"claimed_by"`
	Transfers        []TransferView     `json:"transfers"`
	Controls         []domain.Control   `json:"controls"`
	ControlMessageID string             `json:"control_message_id"`
	CreatedAt        time.Time          `json:"created_at"`
	LastActivityAt   time.Time          `json:"last_activity_at"`
	WarnedAt         *time.Time         `json:"warned_at,omitempty"`
	ClosedAt         *time.Time         `json:"closed_at,omitempty"`
	ClosedBy         string             `json:"closed_by,omitempty"`
	CloseReason      domain.CloseReason `json:"close_reason,omitempty"`
	ClosedClaimant   string             `json:"closed_claimant,omitempty"`
}

// PanelView response.
type PanelView struct {
	ChannelID  string                 `json:"channel_id"`
	MessageID  string                 `json:"message_id"`
	Title      string                 `json:"title"`
	Categories []domain.PanelCategory `json:"categories"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// NewTicketView maps a ticket for output.
func NewTicketView(t *domain.Ticket) TicketView {
	transfers := make([]TransferView, 0, len(t.TransferHistory))
	for _, tr := range t.TransferHistory {
		transfers = append(transfers, TransferView{From: tr.From, To: tr.To, At: tr.At})
	}
	controls := t.Controls()
	if controls == nil {
		controls = []domain.Control{}
	}
	return TicketView{
		ID:               t.ID,
		GuildID:          t.GuildID,
		ChannelID:        t.ChannelID,
		OwnerID:          t.OwnerID,
		CategoryKey:      t.CategoryKey,
		State:            t.State,
		ClaimedBy:        t.ClaimedBy,
		Transfers:        transfers,
		Controls:         controls,
		ControlMessageID: t.ControlMessageID,
		CreatedAt:        t.CreatedAt,
		LastActivityAt:   t.LastActivityAt,
		WarnedAt:         t.WarnedAt,
		ClosedAt:         t.ClosedAt,
		ClosedBy:         t.ClosedBy,
		CloseReason:      t.CloseReason,
		ClosedClaimant:   t.ClosedClaimant,
	}
}

// NewPanelView maps a panel for output.
func NewPanelView(p *domain.Panel) PanelView {
	return PanelView{
		ChannelID:  p.ChannelID,
		MessageID:  p.MessageID,
		Title:      p.Title,
		Categories: p.Categories,
		UpdatedAt:  p.UpdatedAt,
	}
}
