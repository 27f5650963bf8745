package notify

import (
	"context"
	"fmt"
)

// TelegramSender delivers operator alerts to a Telegram chat through a Bot.
type TelegramSender struct {
	bot    *Bot
	chatID string
}

// NewTelegramSender creates a TelegramSender posting to chatID.
func NewTelegramSender(bot *Bot, chatID string) *TelegramSender {
	return &TelegramSender{bot: bot, chatID: chatID}
}

// Send posts the alert with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := fmt.Sprintf("<b>%s</b>\n%s", EscapeHTML(title), EscapeHTML(message))
	_, err := t.bot.SendMessage(ctx, t.chatID, text, SendOptions{ParseMode: ParseModeHTML})
	return err
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
