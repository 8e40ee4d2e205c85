package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// responder acknowledges one interaction. The first Reply becomes the
// interaction response; later ones fall back to follow-up messages, so a
// handler that already deferred or answered still gets its text through.
// Outbound delivery errors are reported once and never retried; a retried
// reply risks showing up twice.
type responder struct {
	session     *discordgo.Session
	interaction *discordgo.InteractionCreate
}

func (r *responder) Reply(content string, ephemeral bool) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := r.session.InteractionRespond(r.interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err == nil {
		return nil
	}

	// Interaction was already acknowledged; deliver as a follow-up instead.
	if _, ferr := r.session.FollowupMessageCreate(r.interaction.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   flags,
	}); ferr != nil {
		return fmt.Errorf("delivering reply: %w", ferr)
	}
	return nil
}

// ReplyConfirm answers with confirm/cancel buttons whose custom ids share
// corrID, so the prompt correlator can match whichever is pressed.
func (r *responder) ReplyConfirm(content, corrID, confirmLabel string) error {
	return r.session.InteractionRespond(r.interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    confirmLabel,
						Style:    discordgo.DangerButton,
						CustomID: corrID + "#yes",
					},
					discordgo.Button{
						Label:    "Cancel",
						Style:    discordgo.SecondaryButton,
						CustomID: corrID + "#no",
					},
				}},
			},
		},
	})
}

// ReplyButton posts a public message carrying a static component.
func (r *responder) ReplyButton(content, label, customID string) error {
	return r.session.InteractionRespond(r.interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    label,
						Style:    discordgo.PrimaryButton,
						CustomID: customID,
					},
				}},
			},
		},
	})
}
