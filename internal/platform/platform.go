// Package platform is the capability boundary between ticket logic and the chat platform.
package platform

import (
	"context"
	"errors"
	"strings"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

// ErrNotFound reports that a channel, message or user no longer exists on the platform.
var ErrNotFound = errors.New("platform resource not found")

const (
	controlPrefix = "ticket:"
	// PanelSelectID is the custom id of the category select menu on the panel.
	PanelSelectID = "ticket:panel"
)

// ChannelRequest describes a new ticket channel.
type ChannelRequest struct {
	GuildID          string
	ParentID         string
	Name             string
	Topic            string
	OwnerID          string
	SupporterRoleIDs []string
}

// Embed is a minimal rich block.
type Embed struct {
	Title       string
	Description string
}

// SelectOption is one entry of a select menu.
type SelectOption struct {
	Value       string
	Label       string
	Description string
	Emoji       string
}

// Select is a single-choice menu.
type Select struct {
	CustomID    string
	Placeholder string
	Options     []SelectOption
}

// Message is what components post or edit. A nil Controls slice on edit removes
// every button from the message.
type Message struct {
	Content  string
	Embed    *Embed
	Controls []domain.Control
	Select   *Select
}

// File is an attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Platform is handed to services at construction; nothing looks the session up globally.
type Platform interface {
	CreateTicketChannel(ctx context.Context, req ChannelRequest) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
	SetWritePermission(ctx context.Context, channelID, userID string, allow bool) error
	PostMessage(ctx context.Context, channelID string, msg Message) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error
	SendFile(ctx context.Context, channelID, content string, file File) error
	SendDirect(ctx context.Context, userID, content string, file *File) error
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
}

// ControlCustomID returns the button custom id for a control.
func ControlCustomID(control domain.Control) string {
	return controlPrefix + string(control)
}

// ParseControlCustomID maps a button custom id back to its control.
func ParseControlCustomID(customID string) (domain.Control, bool) {
	if !strings.HasPrefix(customID, controlPrefix) {
		return "", false
	}
	switch control := domain.Control(strings.TrimPrefix(customID, controlPrefix)); control {
	case domain.ControlClaim, domain.ControlUnclaim, domain.ControlClose:
		return control, true
	default:
		return "", false
	}
}

// IsNotFound reports whether err means the target resource is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
