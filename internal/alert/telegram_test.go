package alert

import (
	"context"
	"errors"
	"testing"

	"yoyaku/internal/config"
	"yoyaku/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestTelegramAlerter(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("SendsToEveryChat", func(t *testing.T) {
		sender := new(mockTelegramSender)
		a := New(sender, []int64{1, 2}, &logger)

		for _, id := range []int64{1, 2} {
			chatID := id
			sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
				msg, ok := c.(tgbotapi.MessageConfig)
				return ok && msg.ChatID == chatID && msg.Text == "<b>新規予約</b>" && msg.ParseMode == models.ParseModeHTML
			})).Return(tgbotapi.Message{}, nil).Once()
		}

		require.NoError(t, a.Alert(context.Background(), "<b>新規予約</b>"))
		sender.AssertExpectations(t)
	})

	t.Run("FailureDoesNotStopOtherChats", func(t *testing.T) {
		sender := new(mockTelegramSender)
		a := New(sender, []int64{1, 2}, &logger)

		sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			return c.(tgbotapi.MessageConfig).ChatID == 1
		})).Return(tgbotapi.Message{}, errors.New("chat not found")).Once()
		sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			return c.(tgbotapi.MessageConfig).ChatID == 2
		})).Return(tgbotapi.Message{}, nil).Once()

		err := a.Alert(context.Background(), "text")
		assert.ErrorContains(t, err, "chat 1")
		sender.AssertExpectations(t)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		sender := new(mockTelegramSender)
		a := New(sender, []int64{1}, &logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, a.Alert(ctx, "text"), context.Canceled)
		sender.AssertNotCalled(t, "Send", mock.Anything)
	})
}

func TestConnect_Disabled(t *testing.T) {
	bot, err := Connect(config.TelegramConfig{})
	require.NoError(t, err)
	assert.Nil(t, bot)

	bot, err = Connect(config.TelegramConfig{BotToken: "token"})
	require.NoError(t, err)
	assert.Nil(t, bot)
}
