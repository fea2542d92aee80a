// Package bot turns inbound Discord events into lifecycle operations.
package bot

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/platform"
)

// TransferCommandName is the slash command that hands a ticket to another supporter.
const (
	TransferCommandName  = "transfer"
	transferTargetOption = "supporter"
)

// Event is one classified inbound platform event. It is one of PanelSelected,
// ControlPressed, TransferRequested or MessagePosted.
type Event interface {
	botEvent()
}

// PanelSelected is a category choice on the panel select menu.
type PanelSelected struct {
	UserID      string
	CategoryKey string
}

// ControlPressed is a click on a ticket control button.
type ControlPressed struct {
	ChannelID string
	UserID    string
	Control   domain.Control
}

// TransferRequested is an invocation of the transfer slash command.
type TransferRequested struct {
	ChannelID string
	UserID    string
	TargetID  string
}

// MessagePosted is a plain chat message.
type MessagePosted struct {
	ChannelID   string
	MessageID   string
	AuthorID    string
	Content     string
	Attachments []string
	Timestamp   time.Time
}

func (PanelSelected) botEvent()     {}
func (ControlPressed) botEvent()    {}
func (TransferRequested) botEvent() {}
func (MessagePosted) botEvent()     {}

// ClassifyInteraction maps an interaction to an Event. Interactions the bot does not
// own report false.
func ClassifyInteraction(i *discordgo.InteractionCreate) (Event, bool) {
	if i == nil || i.Interaction == nil {
		return nil, false
	}
	userID := interactionUserID(i.Interaction)
	if userID == "" {
		return nil, false
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data, ok := i.Data.(discordgo.MessageComponentInteractionData)
		if !ok {
			return nil, false
		}
		if data.CustomID == platform.PanelSelectID {
			if len(data.Values) != 1 {
				return nil, false
			}
			return PanelSelected{UserID: userID, CategoryKey: data.Values[0]}, true
		}
		control, ok := platform.ParseControlCustomID(data.CustomID)
		if !ok {
			return nil, false
		}
		return ControlPressed{ChannelID: i.ChannelID, UserID: userID, Control: control}, true

	case discordgo.InteractionApplicationCommand:
		data, ok := i.Data.(discordgo.ApplicationCommandInteractionData)
		if !ok || data.Name != TransferCommandName {
			return nil, false
		}
		return TransferRequested{ChannelID: i.ChannelID, UserID: userID, TargetID: userOption(data.Options, transferTargetOption)}, true
	}
	return nil, false
}

// ClassifyMessage maps a created message to an Event. Messages from bots, including
// this one, are skipped.
func ClassifyMessage(m *discordgo.MessageCreate) (Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return nil, false
	}
	attachments := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a != nil && a.URL != "" {
			attachments = append(attachments, a.URL)
		}
	}
	return MessagePosted{
		ChannelID:   m.ChannelID,
		MessageID:   m.ID,
		AuthorID:    m.Author.ID,
		Content:     m.Content,
		Attachments: attachments,
		Timestamp:   m.Timestamp,
	}, true
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func userOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt == nil || opt.Name != name || opt.Type != discordgo.ApplicationCommandOptionUser {
			continue
		}
		if id, ok := opt.Value.(string); ok {
			return id
		}
	}
	return ""
}
