package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Commands returns the slash commands the bot owns.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        TransferCommandName,
			Description: "Hand this ticket to another supporter",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        transferTargetOption,
					Description: "Supporter who takes over",
					Required:    true,
				},
			},
		},
	}
}

// RegisterCommands installs the slash commands in one guild.
func RegisterCommands(session *discordgo.Session, guildID string) error {
	if session.State == nil || session.State.User == nil {
		return fmt.Errorf("register commands: session is not ready")
	}
	appID := session.State.User.ID
	for _, cmd := range Commands() {
		if _, err := session.ApplicationCommandCreate(appID, guildID, cmd); err != nil {
			return fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	return nil
}
