package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Embed colors keyed by event name.
var discordColors = map[string]int{
	"bundle_succeeded": 0x2ecc71,
	"bundle_failed":    0xe74c3c,
}

const discordDefaultColor = 0x95a5a6

// DiscordSender posts an embed to a webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	color, ok := discordColors[msg.Event]
	if !ok {
		color = discordDefaultColor
	}
	payload := map[string]any{
		"embeds": []discordEmbed{{Title: msg.Title, Description: msg.Body, Color: color}},
	}
	// Discord answers 204 on success.
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
