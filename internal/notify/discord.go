package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DiscordSender delivers operator alerts via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert with the title in bold.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"content": fmt.Sprintf("**%s**\n%s", title, message)}
	status, body, err := postJSON(ctx, d.client, d.webhookURL, payload)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	// Discord answers 204 No Content on success.
	if status < 200 || status >= 300 {
		return fmt.Errorf("discord: unexpected status %d: %s", status, truncate(string(body), 1024))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
