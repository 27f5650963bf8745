package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// Telegram parse modes.
const (
	ParseModeHTML     = "HTML"
	ParseModeMarkdown = "Markdown"
)

// BotConfig configures a Telegram Bot API client.
type BotConfig struct {
	Token  string
	APIURL string
	// RateLimit sends per RateLimitWindow, per chat. Zero disables limiting.
	RateLimit       int
	RateLimitWindow time.Duration
	Timeout         time.Duration
}

// SendOptions are the optional parameters of the send* methods.
type SendOptions struct {
	ParseMode           string
	ReplyTo             int64
	DisableNotification bool
}

// APIError is a non-ok response from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram: %s: %d %s (retry after %ds)", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// Is maps 429 responses to domain.ErrRateLimited and 401/403 to
// domain.ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case domain.ErrUnauthorized:
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	}
	return false
}

// Bot is a minimal Telegram Bot API client covering what the signal channel
// needs: send, edit, animations and message copies. All methods return the
// id of the message they produced.
type Bot struct {
	token   string
	baseURL string
	client  *http.Client
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// NewBot creates a Bot. limiter may be nil.
func NewBot(cfg BotConfig, limiter domain.RateLimiter) *Bot {
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bot{
		token:   cfg.Token,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		limit:   cfg.RateLimit,
		window:  cfg.RateLimitWindow,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage posts text to chatID.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string, opts SendOptions) (int64, error) {
	payload := b.basePayload(chatID, opts)
	payload["text"] = text
	payload["disable_web_page_preview"] = true
	return b.callForMessage(ctx, chatID, "sendMessage", payload)
}

// EditMessageText replaces the text of an existing message. Editing to
// identical content is not an error.
func (b *Bot) EditMessageText(ctx context.Context, chatID string, messageID int64, text, parseMode string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	_, err := b.call(ctx, chatID, "editMessageText", payload)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

// SendAnimation posts a GIF (file id or URL) with an optional caption.
func (b *Bot) SendAnimation(ctx context.Context, chatID, animation, caption string, opts SendOptions) (int64, error) {
	payload := b.basePayload(chatID, opts)
	payload["animation"] = animation
	if caption != "" {
		payload["caption"] = caption
	}
	return b.callForMessage(ctx, chatID, "sendAnimation", payload)
}

// CopyMessage re-posts an existing message into chatID without a forward
// header.
func (b *Bot) CopyMessage(ctx context.Context, chatID, fromChatID string, messageID int64, opts SendOptions) (int64, error) {
	payload := b.basePayload(chatID, opts)
	payload["from_chat_id"] = fromChatID
	payload["message_id"] = messageID
	return b.callForMessage(ctx, chatID, "copyMessage", payload)
}

func (b *Bot) basePayload(chatID string, opts SendOptions) map[string]any {
	payload := map[string]any{"chat_id": chatID}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if opts.ReplyTo > 0 {
		payload["reply_parameters"] = map[string]any{
			"message_id":                  opts.ReplyTo,
			"allow_sending_without_reply": true,
		}
	}
	if opts.DisableNotification {
		payload["disable_notification"] = true
	}
	return payload
}

func (b *Bot) callForMessage(ctx context.Context, chatID, method string, payload map[string]any) (int64, error) {
	raw, err := b.call(ctx, chatID, method, payload)
	if err != nil {
		return 0, err
	}
	var msg messageResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("telegram: %s: decode result: %w", method, err)
	}
	return msg.MessageID, nil
}

func (b *Bot) call(ctx context.Context, chatID, method string, payload map[string]any) (json.RawMessage, error) {
	if b.limiter != nil && b.limit > 0 {
		if err := b.limiter.Wait(ctx, "telegram:"+chatID, b.limit, b.window); err != nil {
			return nil, fmt.Errorf("telegram: %s: %w", method, err)
		}
	}

	url := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)
	status, body, err := postJSON(ctx, b.client, url, payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s: %w", method, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{Method: method, Code: status, Description: truncate(string(body), 256)}
	}
	if !resp.OK {
		code := resp.ErrorCode
		if code == 0 {
			code = status
		}
		return nil, &APIError{
			Method:      method,
			Code:        code,
			Description: resp.Description,
			RetryAfter:  resp.Parameters.RetryAfter,
		}
	}
	return resp.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
