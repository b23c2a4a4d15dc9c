// Package alert pushes operator notifications to Telegram chats.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"yoyaku/internal/config"
	"yoyaku/internal/domain"
	"yoyaku/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type TelegramAlerter struct {
	bot     domain.TelegramSender
	chatIDs []int64
	logger  *zerolog.Logger
}

// Connect authorizes the bot token. It returns nil when no token or no chat
// is configured.
func Connect(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(cfg.BotToken) == "" || len(cfg.ChatIDs) == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func New(bot domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *TelegramAlerter {
	l := logger.With().Str("component", "telegram_alert").Logger()
	return &TelegramAlerter{bot: bot, chatIDs: chatIDs, logger: &l}
}

// Alert sends an HTML message to every configured chat. Dynamic parts of
// text must already be escaped.
func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range a.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = models.ParseModeHTML
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			a.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send alert")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
