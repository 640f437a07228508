// Package webhook sends Discord embed notifications for moderation-worthy
// events (multi-account flags, bans, restrictions), grounded on
// original_source/src/adapters/discord.rs's send_embed/send_red_embed/
// send_purple_embed trio, realized with github.com/bwmarrin/discordgo's
// WebhookExecute instead of a hand-rolled HTTP client.
package webhook

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/akatsuki/bancho/internal/logger"
)

const (
	colorPurple = 0x6611FF
	colorRed    = 0xFF5555
	colorBlue   = 0x00a2ff
)

// Notifier posts embeds to a single Discord webhook URL. A zero-value
// webhookURL makes every WarnPurple/WarnRed/WarnBlue call a no-op, logged at warn level, matching
// the original's "url not set" fallback.
type Notifier struct {
	session    *discordgo.Session
	webhookURL string
	log        *logger.Logger
}

// New constructs a Notifier. webhookURL may be empty.
func New(webhookURL string, log *logger.Logger) (*Notifier, error) {
	if webhookURL == "" {
		return &Notifier{log: log}, nil
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return &Notifier{session: s, webhookURL: webhookURL, log: log}, nil
}

func (n *Notifier) send(ctx context.Context, title, description string, color int) error {
	if n.webhookURL == "" {
		n.log.Warn("discord webhook url not set", "title", title, "description", description)
		return nil
	}
	webhookID, token, err := discordgo.WebhookFromURL(n.webhookURL)
	if err != nil {
		return err
	}
	_, err = n.session.WebhookExecute(webhookID, token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Author:      &discordgo.MessageEmbedAuthor{Name: title},
			Description: description,
			Color:       color,
			Footer:      &discordgo.MessageEmbedFooter{Text: "bancho"},
		}},
	})
	return err
}

// WarnPurple reports a routine moderation-relevant event.
func (n *Notifier) WarnPurple(ctx context.Context, title, description string) error {
	return n.send(ctx, title, description, colorPurple)
}

// WarnRed reports a severe event (ban, confirmed multi-account).
func (n *Notifier) WarnRed(ctx context.Context, title, description string) error {
	return n.send(ctx, title, description, colorRed)
}

// WarnBlue reports an informational event.
func (n *Notifier) WarnBlue(ctx context.Context, title, description string) error {
	return n.send(ctx, title, description, colorBlue)
}
