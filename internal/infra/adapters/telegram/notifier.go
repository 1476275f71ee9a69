package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/ports/adapter"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

var _ adapter.Notifier = (*Notifier)(nil)

// Notifier sends job outcome messages through a Telegram bot. Owner IDs that
// are numeric chat IDs (optionally prefixed "tg:") are messaged directly;
// anything else goes to the fallback chat when one is configured.
type Notifier struct {
	bot          *tgbotapi.BotAPI
	fallbackChat int64
	log          *zerolog.Logger
}

func NewNotifier(token string, fallbackChat int64, logger *zerolog.Logger) (*Notifier, error) {
	return NewNotifierWithEndpoint(token, tgbotapi.APIEndpoint, fallbackChat, logger)
}

// NewNotifierWithEndpoint targets a custom Bot API endpoint in the
// tgbotapi.APIEndpoint format.
func NewNotifierWithEndpoint(token, endpoint string, fallbackChat int64, logger *zerolog.Logger) (*Notifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token empty")
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	l := logger.With().Str("component", "telegram_notifier").Str("bot", bot.Self.UserName).Logger()
	return &Notifier{bot: bot, fallbackChat: fallbackChat, log: &l}, nil
}

func (n *Notifier) chatFor(ownerID string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(ownerID, "tg:"), 10, 64)
	if err == nil && id != 0 {
		return id, true
	}
	return n.fallbackChat, n.fallbackChat != 0
}

func (n *Notifier) Notify(ctx context.Context, ownerID, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	chatID, ok := n.chatFor(ownerID)
	if !ok {
		return fmt.Errorf("%w: no telegram chat for owner %q", domain.ErrInvalidArgument, ownerID)
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	n.log.Debug().Int64("chat_id", chatID).Str("owner_id", ownerID).Msg("notification sent")
	return nil
}
