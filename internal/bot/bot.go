// Package bot runs the operator console on Telegram: pending requests can be
// reviewed and confirmed or denied from the operator chats.
package bot

import (
	"context"
	"time"

	"yoyaku/internal/models"
	"yoyaku/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	updateTimeout  = 30 * time.Second
	pendingHorizon = 90
)

type TelegramService interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

// Lifecycle is the part of the reservation service the console drives.
type Lifecycle interface {
	Confirm(ctx context.Context, id string) (*service.ConfirmResult, error)
	Deny(ctx context.Context, id string) (*service.DenyResult, error)
}

type ReservationLister interface {
	ListReservationsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
}

type Bot struct {
	tg           TelegramService
	lifecycle    Lifecycle
	reservations ReservationLister
	operators    map[int64]bool
	loc          *time.Location
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewBot(
	tg TelegramService,
	lifecycle Lifecycle,
	reservations ReservationLister,
	operatorChatIDs []int64,
	loc *time.Location,
	logger *zerolog.Logger,
) *Bot {
	operators := make(map[int64]bool, len(operatorChatIDs))
	for _, id := range operatorChatIDs {
		operators[id] = true
	}
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With().Str("component", "operator_bot").Logger()
	return &Bot{
		tg:           tg,
		lifecycle:    lifecycle,
		reservations: reservations,
		operators:    operators,
		loc:          loc,
		now:          time.Now,
		logger:       &l,
	}
}

// Start consumes updates until ctx is done or the update channel closes.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			b.tg.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		chatID := chatOf(update)
		if chatID == 0 {
			return
		}
		if !b.isOperator(chatID) {
			l.Warn().Int64("chat_id", chatID).Msg("Update from unknown chat ignored")
			return
		}

		switch {
		case update.CallbackQuery != nil:
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
		case update.Message != nil && update.Message.IsCommand():
			b.handleCommand(updateCtx, update.Message)
		}
	})
}

func chatOf(update tgbotapi.Update) int64 {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.Message.Chat.ID
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID
	default:
		return 0
	}
}
