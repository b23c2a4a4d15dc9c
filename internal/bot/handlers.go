package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	actionConfirm = "confirm:"
	actionDeny    = "deny:"
)

const helpText = "/pending 承認待ちの予約\n/today 本日の確定予約\n/today YYYY-MM-DD 指定日の確定予約"

var courseLabels = map[models.Course]string{
	models.Course30: "30分",
	models.Course60: "60分",
	models.Course90: "90分",
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		b.sendText(ctx, chatID, helpText, nil)
	case "pending":
		b.sendPending(ctx, chatID)
	case "today":
		b.sendSchedule(ctx, chatID, strings.TrimSpace(msg.CommandArguments()))
	default:
		b.sendText(ctx, chatID, "不明なコマンドです。\n"+helpText, nil)
	}
}

func (b *Bot) sendPending(ctx context.Context, chatID int64) {
	today := b.today()
	rows, err := b.reservations.ListReservationsByDateRange(ctx, today, today.AddDate(0, 0, pendingHorizon))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("List pending reservations failed")
		b.sendText(ctx, chatID, "予約の取得に失敗しました。", nil)
		return
	}

	sent := 0
	for _, r := range rows {
		if !r.IsPending() {
			continue
		}
		keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("承認", actionConfirm+r.ID),
			tgbotapi.NewInlineKeyboardButtonData("見送り", actionDeny+r.ID),
		))
		b.sendText(ctx, chatID, reservationCard(r), &keyboard)
		sent++
	}
	if sent == 0 {
		b.sendText(ctx, chatID, "承認待ちの予約はありません。", nil)
	}
}

func (b *Bot) sendSchedule(ctx context.Context, chatID int64, arg string) {
	day := b.today()
	if arg != "" {
		parsed, err := models.ParseDate(arg)
		if err != nil {
			b.sendText(ctx, chatID, "日付は YYYY-MM-DD で指定してください。", nil)
			return
		}
		day = parsed
	}

	rows, err := b.reservations.ListReservationsByDateRange(ctx, day, day)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("List reservations failed")
		b.sendText(ctx, chatID, "予約の取得に失敗しました。", nil)
		return
	}

	confirmed := make([]*models.Reservation, 0, len(rows))
	for _, r := range rows {
		if r.Status == models.StatusConfirmed {
			confirmed = append(confirmed, r)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].StartTime < confirmed[j].StartTime })

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s の確定予約</b>", day.Format(models.DateLayout))
	if len(confirmed) == 0 {
		sb.WriteString("\nなし")
	}
	for _, r := range confirmed {
		fmt.Fprintf(&sb, "\n%s-%s %s %s", r.StartTime, r.EndTime, courseLabels[r.Course], html.EscapeString(r.Name))
	}
	b.sendText(ctx, chatID, sb.String(), nil)
}

func (b *Bot) handleCallbackQuery(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	var (
		result string
		err    error
	)
	switch {
	case strings.HasPrefix(cb.Data, actionConfirm):
		id := strings.TrimPrefix(cb.Data, actionConfirm)
		_, err = b.lifecycle.Confirm(ctx, id)
		result = "✅ 承認しました"
	case strings.HasPrefix(cb.Data, actionDeny):
		id := strings.TrimPrefix(cb.Data, actionDeny)
		_, err = b.lifecycle.Deny(ctx, id)
		result = "❌ 見送りました"
	default:
		b.answer(ctx, cb.ID, "")
		return
	}

	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("data", cb.Data).Msg("Operator action failed")
		result = "⚠️ " + failureText(err)
	} else {
		zerolog.Ctx(ctx).Info().Str("data", cb.Data).Int64("operator", cb.From.ID).Msg("Operator action applied")
	}
	b.answer(ctx, cb.ID, result)

	if cb.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, cb.Message.Text+"\n\n"+result)
	if _, sendErr := b.tg.Send(edit); sendErr != nil {
		zerolog.Ctx(ctx).Error().Err(sendErr).Msg("Failed to update operator message")
	}
}

func failureText(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return "この予約はすでに処理済みです"
	case errors.Is(err, domain.ErrConflict):
		return "ほかの確定予約と時間が重なっています"
	case errors.Is(err, domain.ErrNotFound):
		return "予約が見つかりません"
	case errors.Is(err, domain.ErrCouponUsed):
		return "クーポンはすでにほかの予約で使用されています"
	default:
		return "処理に失敗しました"
	}
}

func reservationCard(r *models.Reservation) string {
	lines := []string{
		fmt.Sprintf("<b>%s %s-%s</b>", r.DateString(), r.StartTime, r.EndTime),
		fmt.Sprintf("コース: %s / 料金: %d円", courseLabels[r.Course], r.Price),
		"お名前: " + html.EscapeString(r.Name),
		"電話: " + html.EscapeString(r.Phone),
	}
	if r.HasEmail() {
		lines = append(lines, "メール: "+html.EscapeString(r.Email))
	}
	if r.Notes != "" {
		lines = append(lines, "ご要望: "+html.EscapeString(r.Notes))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = models.ParseModeHTML
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	if _, err := b.tg.Send(msg); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to answer callback")
	}
}

func (b *Bot) today() time.Time {
	now := b.now().In(b.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
