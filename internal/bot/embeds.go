package bot

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/coah80/yoinktube/internal/chat"
)

const (
	colorProgress = 0x5865F2
	colorSuccess  = 0x57F287
	colorError    = 0xED4245
	colorWarning  = 0xFEE75C

	footerText = "yoink-tube"

	maxEmbedDescription = 4096
	maxButtonsPerRow    = 5
)

var colorPrefixes = []struct {
	prefix string
	color  int
}{
	{"✅", colorSuccess},
	{"❌", colorError},
	{"⛔", colorError},
	{"🔒", colorError},
	{"🛑", colorWarning},
	{"⚠️", colorWarning},
	{"⏳", colorWarning},
}

// textEmbed renders a core message. The leading emoji picks the color.
func textEmbed(text string) *discordgo.MessageEmbed {
	color := colorProgress
	trimmed := strings.TrimSpace(text)
	for _, p := range colorPrefixes {
		if strings.HasPrefix(trimmed, p.prefix) {
			color = p.color
			break
		}
	}
	return &discordgo.MessageEmbed{
		Description: clip(text, maxEmbedDescription),
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
}

// mediaEmbed carries the caption and thumbnail of an uploaded video.
func mediaEmbed(caption, thumbName string) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Description: clip(caption, maxEmbedDescription),
		Color:       colorSuccess,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
	if thumbName != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: "attachment://" + thumbName}
	}
	return e
}

func buttonStyle(s chat.ChoiceStyle) discordgo.ButtonStyle {
	switch s {
	case chat.ChoiceDanger:
		return discordgo.DangerButton
	case chat.ChoiceSecondary:
		return discordgo.SecondaryButton
	}
	return discordgo.PrimaryButton
}

// buttonRows lays choices out in rows of at most five buttons.
func buttonRows(choices []chat.Choice) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(choices); start += maxButtonsPerRow {
		end := min(start+maxButtonsPerRow, len(choices))
		row := discordgo.ActionsRow{}
		for _, c := range choices[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    c.Label,
				Style:    buttonStyle(c.Style),
				CustomID: c.ID,
			})
		}
		rows = append(rows, row)
	}
	return rows
}
