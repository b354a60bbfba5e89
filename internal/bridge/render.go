package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"reportline/internal/domain"
)

const (
	colorPending  = 0xE67E22
	colorApproved = 0x2ECC71
	colorRejected = 0xE74C3C
)

func statusColor(s domain.Status) int {
	switch s {
	case domain.StatusApproved:
		return colorApproved
	case domain.StatusRejected:
		return colorRejected
	default:
		return colorPending
	}
}

func statusLabel(s domain.Status) string {
	switch s {
	case domain.StatusApproved:
		return "✅ Approved"
	case domain.StatusRejected:
		return "❌ Rejected"
	default:
		return "🕐 Pending"
	}
}

// renderEmbed builds the remote representation of a report from its
// current fields.
func renderEmbed(r domain.Report) *discordgo.MessageEmbed {
	var desc strings.Builder
	fmt.Fprintf(&desc, "**Reporter:** %s\n\n", r.Reporter.Name)
	fmt.Fprintf(&desc, "**Violator:** %s\n", r.ViolatorName)
	if r.ViolatorID != "" {
		fmt.Fprintf(&desc, "**Violator ID:** `%s`\n", r.ViolatorID)
	}
	fmt.Fprintf(&desc, "**Reason:** %s\n", r.Reason)
	fmt.Fprintf(&desc, "**Comment:** %s\n", r.Comment)
	fmt.Fprintf(&desc, "\n**Status:** %s", statusLabel(r.Status))
	if r.ReviewedByRemoteID != "" {
		fmt.Fprintf(&desc, "\n**Reviewed by:** <@%s>", r.ReviewedByRemoteID)
	} else if r.ReviewedBy != "" {
		fmt.Fprintf(&desc, "\n**Reviewed by:** %s", r.ReviewedBy)
	}
	if r.AdminComment != "" {
		fmt.Fprintf(&desc, "\n**Admin comment:** %s", r.AdminComment)
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("New report #%s", r.ID),
		Description: desc.String(),
		Color:       statusColor(r.Status),
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Created: " + r.CreatedAt.UTC().Format("02.01.2006 15:04"),
		},
		Timestamp: r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// renderComponents builds the four moderator controls. Once a report is
// terminal every control is rendered disabled.
func renderComponents(reportID string, disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Approve",
					Style:    discordgo.SuccessButton,
					CustomID: customID("approve", reportID),
					Disabled: disabled,
				},
				discordgo.Button{
					Label:    "Reject",
					Style:    discordgo.DangerButton,
					CustomID: customID("reject", reportID),
					Disabled: disabled,
				},
				discordgo.Button{
					Label:    "Call for check",
					Style:    discordgo.SecondaryButton,
					CustomID: customID("check", reportID),
					Disabled: disabled,
				},
				discordgo.Button{
					Label:    "Comment",
					Style:    discordgo.PrimaryButton,
					CustomID: customID("comment", reportID),
					Disabled: disabled,
				},
			},
		},
	}
}

func customID(action, reportID string) string {
	return "report:" + action + ":" + reportID
}

// parseCustomID splits "report:<action>:<report-id>". Report ids contain
// dashes but no colons.
func parseCustomID(id string) (action, reportID string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != "report" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
