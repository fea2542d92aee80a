package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

// Discord JSON error codes that mean the target is gone.
const (
	codeUnknownChannel = 10003
	codeUnknownMessage = 10008
	codeUnknownMember  = 10007
	codeUnknownUser    = 10013
)

const (
	ownerReadPermissions = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
	writePermissions     = discordgo.PermissionSendMessages | discordgo.PermissionAttachFiles
	staffPermissions     = ownerReadPermissions | writePermissions
)

// DiscordPlatform implements Platform over a discordgo session.
type DiscordPlatform struct {
	session *discordgo.Session
}

// NewDiscordPlatform wraps an opened session.
func NewDiscordPlatform(session *discordgo.Session) *DiscordPlatform {
	return &DiscordPlatform{session: session}
}

func (p *DiscordPlatform) CreateTicketChannel(ctx context.Context, req ChannelRequest) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: req.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: req.OwnerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: ownerReadPermissions, Deny: writePermissions},
	}
	if p.session.State != nil && p.session.State.User != nil {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    p.session.State.User.ID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: staffPermissions | discordgo.PermissionManageChannels,
		})
	}
	for _, roleID := range req.SupporterRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: roleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: staffPermissions,
		})
	}

	channel, err := p.session.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                req.Topic,
		ParentID:             req.ParentID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("create channel", err)
	}
	return channel.ID, nil
}

func (p *DiscordPlatform) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := p.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return mapError("delete channel", err)
}

func (p *DiscordPlatform) SetWritePermission(ctx context.Context, channelID, userID string, allow bool) error {
	var allowed, denied int64 = ownerReadPermissions, writePermissions
	if allow {
		allowed, denied = ownerReadPermissions|writePermissions, 0
	}
	err := p.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember,
		allowed, denied, discordgo.WithContext(ctx))
	return mapError("set permission", err)
}

func (p *DiscordPlatform) PostMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	send := &discordgo.MessageSend{
		Content:    msg.Content,
		Components: components(msg),
	}
	if embed := embed(msg.Embed); embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{embed}
	}
	posted, err := p.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("post message", err)
	}
	return posted.ID, nil
}

func (p *DiscordPlatform) EditMessage(ctx context.Context, channelID, messageID string, msg Message) error {
	content := msg.Content
	rows := components(msg)
	if rows == nil {
		rows = []discordgo.MessageComponent{}
	}
	edit := &discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Content:    &content,
		Components: &rows,
	}
	if embed := embed(msg.Embed); embed != nil {
		embeds := []*discordgo.MessageEmbed{embed}
		edit.Embeds = &embeds
	}
	_, err := p.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapError("edit message", err)
}

func (p *DiscordPlatform) SendFile(ctx context.Context, channelID, content string, file File) error {
	_, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Files:   []*discordgo.File{discordFile(file)},
	}, discordgo.WithContext(ctx))
	return mapError("send file", err)
}

func (p *DiscordPlatform) SendDirect(ctx context.Context, userID, content string, file *File) error {
	dm, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError("open direct channel", err)
	}
	send := &discordgo.MessageSend{Content: content}
	if file != nil {
		send.Files = []*discordgo.File{discordFile(*file)}
	}
	_, err = p.session.ChannelMessageSendComplex(dm.ID, send, discordgo.WithContext(ctx))
	return mapError("send direct message", err)
}

func (p *DiscordPlatform) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := p.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("fetch member", err)
	}
	return member.Roles, nil
}

func discordFile(file File) *discordgo.File {
	return &discordgo.File{
		Name:        file.Name,
		ContentType: file.ContentType,
		Reader:      bytes.NewReader(file.Data),
	}
}

func embed(e *Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	return &discordgo.MessageEmbed{Title: e.Title, Description: e.Description}
}

// components renders the message's controls and select menu as action rows.
func components(msg Message) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	if msg.Select != nil {
		options := make([]discordgo.SelectMenuOption, 0, len(msg.Select.Options))
		for _, opt := range msg.Select.Options {
			option := discordgo.SelectMenuOption{
				Label:       opt.Label,
				Value:       opt.Value,
				Description: opt.Description,
			}
			if opt.Emoji != "" {
				option.Emoji = &discordgo.ComponentEmoji{Name: opt.Emoji}
			}
			options = append(options, option)
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    msg.Select.CustomID,
				Placeholder: msg.Select.Placeholder,
				Options:     options,
			},
		}})
	}
	if len(msg.Controls) > 0 {
		buttons := make([]discordgo.MessageComponent, 0, len(msg.Controls))
		for _, control := range msg.Controls {
			buttons = append(buttons, button(control))
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons})
	}
	return rows
}

func button(control domain.Control) discordgo.Button {
	b := discordgo.Button{CustomID: ControlCustomID(control)}
	switch control {
	case domain.ControlClaim:
		b.Label, b.Style = "Claim", discordgo.SuccessButton
	case domain.ControlUnclaim:
		b.Label, b.Style = "Unclaim", discordgo.SecondaryButton
	case domain.ControlClose:
		b.Label, b.Style = "Close", discordgo.DangerButton
	}
	return b
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case codeUnknownChannel, codeUnknownMessage, codeUnknownMember, codeUnknownUser:
				return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
			}
		}
		if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
