package notify

import (
	"context"
	"net/http"
)

// Discord embed colour for marketplace notifications.
const discordColor = 0x5865f2

// DiscordSender delivers notifications via a Discord webhook as a single
// embed.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "tokenmarket",
		client:     &http.Client{Timeout: defaultTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Send posts an embed to the webhook. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"username": d.username,
		"embeds":   []discordEmbed{{Title: title, Description: message, Color: discordColor}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
