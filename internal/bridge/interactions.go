package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"reportline/internal/domain"
)

// handleInteraction routes button presses and modal submissions. These
// callbacks arrive on discordgo's event goroutines; they never touch
// report state directly and only enqueue actions through the applier.
func (b *Bridge) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.handleButton(s, i)
	case discordgo.InteractionModalSubmit:
		b.handleModal(s, i)
	}
}

func (b *Bridge) handleButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	action, reportID, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	switch action {
	case "approve":
		b.openPunishmentModal(s, i, reportID)
	case "reject":
		user := interactionUser(i)
		b.replyEphemeral(s, i, b.apply(domain.RemoteAction{
			ReportID:      reportID,
			Kind:          domain.ActionReject,
			ModeratorName: user.Username,
			ModeratorID:   user.ID,
		}))
	case "check":
		b.handleCheck(s, i, reportID)
	case "comment":
		b.openCommentModal(s, i, reportID)
	}
}

// openPunishmentModal pre-checks the report so a moderator is not sent
// through the sub-form for a report that is already terminal. The binding
// Pending check still happens on the host loop when the modal is submitted.
func (b *Bridge) openPunishmentModal(s *discordgo.Session, i *discordgo.InteractionCreate, reportID string) {
	r, err := b.source.Get(reportID)
	if err != nil {
		b.replyEphemeral(s, i, "Report not found.")
		return
	}
	if r.Terminal() {
		b.replyEphemeral(s, i, "This report has already been reviewed.")
		return
	}
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID("approve-modal", reportID),
			Title:    fmt.Sprintf("Approve report #%s", reportID),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "punishment_kind",
						Label:       "Punishment kind",
						Style:       discordgo.TextInputShort,
						Placeholder: "ban / mute / kick / warn",
						Required:    true,
						MinLength:   3,
						MaxLength:   10,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "duration",
						Label:       "Duration",
						Style:       discordgo.TextInputShort,
						Placeholder: "Examples: 30m, 7d, 1y, permanent",
						MaxLength:   20,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "reason",
						Label:       "Reason (optional)",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "Additional punishment reason...",
						MaxLength:   500,
					},
				}},
			},
		},
	})
	if err != nil {
		log.Printf("bridge: open punishment modal for %s: %v", reportID, err)
	}
}

func (b *Bridge) openCommentModal(s *discordgo.Session, i *discordgo.InteractionCreate, reportID string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID("comment-modal", reportID),
			Title:    fmt.Sprintf("Comment on report #%s", reportID),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "comment",
						Label:       "Comment",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "Your comment for the reporter...",
						Required:    true,
						MinLength:   1,
						MaxLength:   500,
					},
				}},
			},
		},
	})
	if err != nil {
		log.Printf("bridge: open comment modal for %s: %v", reportID, err)
	}
}

// handleCheck escalates a report to a live voice check. The moderator must
// already be in a voice channel so the violator can be told where to go.
func (b *Bridge) handleCheck(s *discordgo.Session, i *discordgo.InteractionCreate, reportID string) {
	user := interactionUser(i)
	vs, err := s.State.VoiceState(i.GuildID, user.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		b.replyEphemeral(s, i, "You must be in a voice channel to call a player for check.")
		return
	}
	channelName := vs.ChannelID
	if ch, err := s.State.Channel(vs.ChannelID); err == nil {
		channelName = ch.Name
	} else if ch, err := s.Channel(vs.ChannelID); err == nil {
		channelName = ch.Name
	}
	b.replyEphemeral(s, i, b.apply(domain.RemoteAction{
		ReportID:      reportID,
		Kind:          domain.ActionCheck,
		ModeratorName: user.Username,
		ModeratorID:   user.ID,
		VoiceChannel:  channelName,
	}))
}

func (b *Bridge) handleModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	action, reportID, ok := parseCustomID(data.CustomID)
	if !ok {
		return
	}
	user := interactionUser(i)
	switch action {
	case "approve-modal":
		kind := strings.ToLower(strings.TrimSpace(modalValue(data, "punishment_kind")))
		duration := strings.TrimSpace(modalValue(data, "duration"))
		if duration == "" {
			duration = "permanent"
		}
		b.replyEphemeral(s, i, b.apply(domain.RemoteAction{
			ReportID:      reportID,
			Kind:          domain.ActionApprove,
			ModeratorName: user.Username,
			ModeratorID:   user.ID,
			Punishment: domain.Punishment{
				Kind:     kind,
				Duration: duration,
				Reason:   strings.TrimSpace(modalValue(data, "reason")),
			},
		}))
	case "comment-modal":
		b.replyEphemeral(s, i, b.apply(domain.RemoteAction{
			ReportID:      reportID,
			Kind:          domain.ActionComment,
			ModeratorName: user.Username,
			ModeratorID:   user.ID,
			Comment:       strings.TrimSpace(modalValue(data, "comment")),
		}))
	}
}

// apply hands the action to the orchestrator and maps the outcome to the
// ephemeral reply shown to the moderator.
func (b *Bridge) apply(action domain.RemoteAction) string {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()
	err := b.applier.ApplyRemoteAction(ctx, action)
	switch {
	case err == nil:
		switch action.Kind {
		case domain.ActionApprove:
			return fmt.Sprintf("✓ Report #%s approved. Punishment: %s (%s)", action.ReportID, action.Punishment.Kind, action.Punishment.Duration)
		case domain.ActionReject:
			return fmt.Sprintf("✓ Report #%s rejected.", action.ReportID)
		case domain.ActionCheck:
			return fmt.Sprintf("✓ Check recorded for report #%s. Voice channel: %s", action.ReportID, action.VoiceChannel)
		default:
			return fmt.Sprintf("✓ Comment added to report #%s.", action.ReportID)
		}
	case errors.Is(err, domain.ErrNotFound):
		return "Report not found."
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return "This report has already been reviewed."
	default:
		log.Printf("bridge: apply %s on report %s: %v", action.Kind, action.ReportID, err)
		return "Failed to apply the action, try again later."
	}
}

func (b *Bridge) replyEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("bridge: interaction reply: %v", err)
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func modalValue(data discordgo.ModalSubmitInteractionData, id string) string {
	for _, row := range data.Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range ar.Components {
			if ti, ok := c.(*discordgo.TextInput); ok && ti.CustomID == id {
				return ti.Value
			}
		}
	}
	return ""
}
