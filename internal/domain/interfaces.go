package domain

import (
	"context"
	"time"

	"yoyaku/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ConflictGuard reports whether target collides with the confirmed
// reservations of its date. It runs inside the confirm transaction.
type ConflictGuard func(target *models.Reservation, confirmed []*models.Reservation) bool

type Repository interface {
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListConfirmedByDate(ctx context.Context, date time.Time) ([]*models.Reservation, error)
	ListReservationsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
	HasConfirmedMatch(ctx context.Context, phone, email, name string) (bool, error)
	ConfirmReservation(ctx context.Context, id string, guard ConflictGuard) (*models.Reservation, error)
	DenyReservation(ctx context.Context, id string) (*models.Reservation, error)
	SetCalendarEventID(ctx context.Context, id, eventID string) error
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	UpsertCoupon(ctx context.Context, c *models.Coupon) error
}

// CacheRepository keeps short-lived derived state: the confirmed set of a
// date and per-key request counters.
type CacheRepository interface {
	GetConfirmed(ctx context.Context, date string) ([]*models.Reservation, bool, error)
	SetConfirmed(ctx context.Context, date string, rows []*models.Reservation, ttl time.Duration) error
	InvalidateConfirmed(ctx context.Context, date string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type CalendarWriter interface {
	CreateEvent(ctx context.Context, r *models.Reservation) (string, error)
}

type Mailer interface {
	Send(ctx context.Context, msg *models.EmailMessage) error
}

type LedgerWriter interface {
	UpsertReservation(ctx context.Context, r *models.Reservation) error
}

type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// TaskQueue accepts side effects for later redelivery.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType, reservationID string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
