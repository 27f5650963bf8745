package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/forex"
	"github.com/alanyoungcy/fxsignalbot/internal/notify"
	"github.com/alanyoungcy/fxsignalbot/internal/streaming"
)

// Supplementary message modes for SL/TP edits.
const (
	UpdateModeNone  = "none"
	UpdateModeReply = "reply"
	UpdateModeCopy  = "copy"
)

// MessageBot is the Telegram surface the signal channel needs. *notify.Bot
// satisfies it.
type MessageBot interface {
	SendMessage(ctx context.Context, chatID, text string, opts notify.SendOptions) (int64, error)
	EditMessageText(ctx context.Context, chatID string, messageID int64, text, parseMode string) error
	SendAnimation(ctx context.Context, chatID, animation, caption string, opts notify.SendOptions) (int64, error)
	CopyMessage(ctx context.Context, chatID, fromChatID string, messageID int64, opts notify.SendOptions) (int64, error)
}

// SignalChannelConfig configures the Telegram signal channel.
type SignalChannelConfig struct {
	ChatID     string
	UpdateMode string
	Celebrate  bool
	WinGIF     string
	LossGIF    string
}

// SignalChannelService publishes the lifecycle of each signal as one
// Telegram message that is edited in place, plus optional follow-ups.
type SignalChannelService struct {
	bot      MessageBot
	mappings domain.TelegramMappingStore
	cfg      SignalChannelConfig
	logger   *slog.Logger
}

// NewSignalChannelService creates a SignalChannelService.
func NewSignalChannelService(bot MessageBot, mappings domain.TelegramMappingStore, cfg SignalChannelConfig, logger *slog.Logger) *SignalChannelService {
	if cfg.UpdateMode == "" {
		cfg.UpdateMode = UpdateModeNone
	}
	return &SignalChannelService{
		bot:      bot,
		mappings: mappings,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "signal_channel")),
	}
}

// PublishOpen announces a new signal and remembers its message id.
func (s *SignalChannelService) PublishOpen(ctx context.Context, p domain.Position, sig domain.Signal) error {
	text := formatOpen(sig)
	id, err := s.bot.SendMessage(ctx, s.cfg.ChatID, text, notify.SendOptions{ParseMode: notify.ParseModeHTML})
	if err != nil {
		return fmt.Errorf("signal_channel: send open %s: %w", p.ID, err)
	}
	if err := s.mappings.Save(ctx, domain.TradeTelegramMapping{
		PositionID:        p.ID,
		TelegramMessageID: id,
		TelegramChatID:    s.cfg.ChatID,
	}); err != nil {
		return fmt.Errorf("signal_channel: save mapping %s: %w", p.ID, err)
	}
	s.logger.InfoContext(ctx, "signal published", slog.String("position_id", p.ID), slog.Int64("message_id", id))
	return nil
}

// PublishUpdate edits the signal message after a stop-loss or take-profit
// change. Positions without a message are skipped.
func (s *SignalChannelService) PublishUpdate(ctx context.Context, positionID string, st domain.PositionState, changes []streaming.Change) error {
	m, err := s.mappings.Get(ctx, positionID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.DebugContext(ctx, "no telegram message for position", slog.String("position_id", positionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("signal_channel: load mapping %s: %w", positionID, err)
	}

	summary := formatChanges(st, changes)
	text := formatState(st) + "\n\n" + summary
	if err := s.bot.EditMessageText(ctx, m.TelegramChatID, m.TelegramMessageID, text, notify.ParseModeHTML); err != nil {
		return fmt.Errorf("signal_channel: edit %s: %w", positionID, err)
	}

	var followUp int64
	switch s.cfg.UpdateMode {
	case UpdateModeReply:
		followUp, err = s.bot.SendMessage(ctx, m.TelegramChatID, summary, notify.SendOptions{
			ParseMode: notify.ParseModeHTML,
			ReplyTo:   m.TelegramMessageID,
		})
	case UpdateModeCopy:
		followUp, err = s.bot.CopyMessage(ctx, m.TelegramChatID, m.TelegramChatID, m.TelegramMessageID, notify.SendOptions{})
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("signal_channel: %s update %s: %w", s.cfg.UpdateMode, positionID, err)
	}
	if err := s.mappings.AppendUpdate(ctx, positionID, followUp); err != nil {
		s.logger.WarnContext(ctx, "record update message", slog.String("position_id", positionID), slog.String("error", err.Error()))
	}
	return nil
}

// PublishClose edits the signal message to its final result, optionally
// celebrates, and retires the mapping.
func (s *SignalChannelService) PublishClose(ctx context.Context, positionID string, sig *domain.Signal, cd domain.CloseData, pips float64) error {
	m, err := s.mappings.Get(ctx, positionID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.DebugContext(ctx, "no telegram message for closed position", slog.String("position_id", positionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("signal_channel: load mapping %s: %w", positionID, err)
	}

	// The position is closed either way; the mapping is retired even when
	// the edit fails.
	defer func() {
		if err := s.mappings.SoftDelete(ctx, positionID); err != nil {
			s.logger.WarnContext(ctx, "retire telegram mapping", slog.String("position_id", positionID), slog.String("error", err.Error()))
		}
	}()

	text := formatClose(sig, cd, pips)
	if err := s.bot.EditMessageText(ctx, m.TelegramChatID, m.TelegramMessageID, text, notify.ParseModeHTML); err != nil {
		return fmt.Errorf("signal_channel: edit close %s: %w", positionID, err)
	}

	if s.cfg.Celebrate {
		s.celebrate(ctx, m, cd, pips)
	}
	return nil
}

func (s *SignalChannelService) celebrate(ctx context.Context, m domain.TradeTelegramMapping, cd domain.CloseData, pips float64) {
	win := cd.Profit > 0 || (cd.Profit == 0 && pips > 0)
	gif, caption := s.cfg.LossGIF, fmt.Sprintf("%s closed at %s pips", notify.EscapeHTML(cd.Symbol), signedPips(pips))
	if win {
		gif = s.cfg.WinGIF
		caption = fmt.Sprintf("🎯 %s hit %s pips!", notify.EscapeHTML(cd.Symbol), signedPips(pips))
	}
	opts := notify.SendOptions{ParseMode: notify.ParseModeHTML, ReplyTo: m.TelegramMessageID}

	var err error
	if gif != "" {
		_, err = s.bot.SendAnimation(ctx, m.TelegramChatID, gif, caption, opts)
	} else {
		_, err = s.bot.SendMessage(ctx, m.TelegramChatID, caption, opts)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "celebration message failed", slog.String("position_id", m.PositionID), slog.String("error", err.Error()))
	}
}

// ---------------------------------------------------------------------------
// formatting
// ---------------------------------------------------------------------------

func formatOpen(sig domain.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s %s</b>\n", directionIcon(sig.Direction), sig.Direction, notify.EscapeHTML(sig.Pair))
	fmt.Fprintf(&b, "Entry: <code>%s</code>\n", price(sig.Pair, sig.EntryPrice))
	fmt.Fprintf(&b, "SL: <code>%s</code>\n", price(sig.Pair, sig.StopLoss))
	fmt.Fprintf(&b, "TP: <code>%s</code>", price(sig.Pair, sig.TakeProfit))
	return b.String()
}

func formatState(st domain.PositionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s %s</b>\n", directionIcon(st.Type), st.Type, notify.EscapeHTML(st.Symbol))
	fmt.Fprintf(&b, "Entry: <code>%s</code>\n", price(st.Symbol, st.OpenPrice))
	fmt.Fprintf(&b, "SL: <code>%s</code>\n", optionalPrice(st.Symbol, st.StopLoss))
	fmt.Fprintf(&b, "TP: <code>%s</code>", optionalPrice(st.Symbol, st.TakeProfit))
	return b.String()
}

func formatChanges(st domain.PositionState, changes []streaming.Change) string {
	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		line := fmt.Sprintf("✏️ <i>%s</i>: %s → %s", changeLabel(c.Kind), optionalPrice(st.Symbol, c.Old), optionalPrice(st.Symbol, c.New))
		if c.ProfitLocked > 0 {
			line += fmt.Sprintf(" (%s pips locked)", signedPips(c.ProfitLocked))
		}
		if c.PastPrice {
			line += " ⚠️ through market price"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatClose(sig *domain.Signal, cd domain.CloseData, pips float64) string {
	pair, dir, entry := cd.Symbol, cd.Type, cd.OpenPrice
	if sig != nil {
		pair, dir, entry = sig.Pair, sig.Direction, sig.EntryPrice
	}
	icon := "✅"
	if pips < 0 || cd.Profit < 0 {
		icon = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>CLOSED %s %s</b>\n", icon, dir, notify.EscapeHTML(pair))
	fmt.Fprintf(&b, "Entry: <code>%s</code>\n", price(pair, entry))
	if cd.ClosePrice > 0 {
		fmt.Fprintf(&b, "Close: <code>%s</code>\n", price(pair, cd.ClosePrice))
	}
	fmt.Fprintf(&b, "Result: <b>%s pips</b> (%+.2f)", signedPips(pips), cd.Profit)
	return b.String()
}

var changeLabels = map[streaming.ChangeKind]string{
	streaming.ChangeBreakeven:  "SL moved to breakeven",
	streaming.ChangeTrailing:   "Trailing SL",
	streaming.ChangeTightening: "SL tightened",
	streaming.ChangeWidening:   "SL widened",
	streaming.ChangeSLAdded:    "SL added",
	streaming.ChangeSLRemoved:  "SL removed",
	streaming.ChangeTPExtended: "TP extended",
	streaming.ChangeTPReduced:  "TP reduced",
	streaming.ChangeTPAdded:    "TP added",
	streaming.ChangeTPRemoved:  "TP removed",
}

func changeLabel(k streaming.ChangeKind) string {
	if l, ok := changeLabels[k]; ok {
		return l
	}
	return string(k)
}

func directionIcon(dir domain.PositionType) string {
	if dir == domain.PositionTypeSell {
		return "🔴"
	}
	return "🟢"
}

// priceDigits shows one decimal beyond the pip.
func priceDigits(symbol string) int {
	return int(math.Round(-math.Log10(forex.PipSize(symbol)))) + 1
}

func price(symbol string, v float64) string {
	return fmt.Sprintf("%.*f", priceDigits(symbol), v)
}

func optionalPrice(symbol string, v *float64) string {
	if v == nil || *v == 0 {
		return "none"
	}
	return price(symbol, *v)
}

func signedPips(v float64) string {
	return fmt.Sprintf("%+.1f", v)
}

var _ streaming.TelegramChannel = (*SignalChannelService)(nil)
