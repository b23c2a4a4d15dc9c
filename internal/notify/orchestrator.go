// Package notify runs the best-effort side effects of reservation
// transitions: calendar writes, email, operator alerts and ledger sync.
package notify

import (
	"context"
	"errors"
	"strings"

	"yoyaku/internal/config"
	"yoyaku/internal/domain"
	"yoyaku/internal/metrics"
	"yoyaku/internal/models"

	"github.com/rs/zerolog"
)

// Side effect names used in reports, logs and metrics.
const (
	EffectCalendar      = "calendar"
	EffectAdminEmail    = "admin_email"
	EffectCustomerEmail = "customer_email"
	EffectTelegram      = "telegram"
	EffectLedger        = "ledger"
)

// ErrMailDisabled is returned by SendEmail when no mailer is configured.
var ErrMailDisabled = errors.New("mail delivery is not configured")

type Outcome struct {
	Name    string
	Err     error
	Skipped bool
}

func (o Outcome) result() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Err != nil:
		return "failed"
	default:
		return "ok"
	}
}

// Report lists every side effect attempted for one transition, in order.
type Report []Outcome

func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

func (r Report) Find(name string) (Outcome, bool) {
	for _, o := range r {
		if o.Name == name {
			return o, true
		}
	}
	return Outcome{}, false
}

type Settings struct {
	ShopName      string
	SiteURL       string
	MapAddress    string
	AdminTo       []string
	LedgerEnabled bool
}

func SettingsFrom(cfg *config.Config, ledgerEnabled bool) Settings {
	return Settings{
		ShopName:      cfg.Notify.ShopName,
		SiteURL:       strings.TrimRight(cfg.Notify.SiteURL, "/"),
		MapAddress:    cfg.Notify.MapAddress,
		AdminTo:       cfg.Mail.AdminTo,
		LedgerEnabled: ledgerEnabled,
	}
}

// Deps are the optional collaborators. A nil field disables that effect.
type Deps struct {
	Calendar domain.CalendarWriter
	Mailer   domain.Mailer
	Alerter  domain.Alerter
	Queue    domain.TaskQueue
}

type Orchestrator struct {
	deps     Deps
	settings Settings
	logger   *zerolog.Logger
}

func NewOrchestrator(deps Deps, settings Settings, logger *zerolog.Logger) *Orchestrator {
	l := logger.With().Str("component", "notify").Logger()
	return &Orchestrator{deps: deps, settings: settings, logger: &l}
}

// TryWriteCalendarEvent creates the calendar event for r. It never fails:
// ok is false when the calendar is disabled or the write failed, and a
// failed write is queued for retry.
func (o *Orchestrator) TryWriteCalendarEvent(ctx context.Context, r *models.Reservation) (string, bool) {
	eventID, outcome := o.writeCalendar(ctx, r)
	o.record(r, outcome)
	return eventID, outcome.Err == nil && !outcome.Skipped
}

func (o *Orchestrator) writeCalendar(ctx context.Context, r *models.Reservation) (string, Outcome) {
	outcome := Outcome{Name: EffectCalendar}
	if o.deps.Calendar == nil {
		outcome.Skipped = true
		return "", outcome
	}

	eventID, err := o.deps.Calendar.CreateEvent(ctx, r)
	if err != nil {
		outcome.Err = err
		o.enqueue(ctx, models.TaskCalendar, r.ID, nil)
		return "", outcome
	}
	return eventID, outcome
}

// SendEmail delivers msg through the configured mailer.
func (o *Orchestrator) SendEmail(ctx context.Context, msg *models.EmailMessage) error {
	if o.deps.Mailer == nil {
		return ErrMailDisabled
	}
	return o.deps.Mailer.Send(ctx, msg)
}

func (o *Orchestrator) email(ctx context.Context, name string, r *models.Reservation, msg *models.EmailMessage) Outcome {
	outcome := Outcome{Name: name}
	if len(msg.To) == 0 {
		outcome.Skipped = true
		return outcome
	}

	err := o.SendEmail(ctx, msg)
	switch {
	case errors.Is(err, ErrMailDisabled):
		outcome.Skipped = true
	case err != nil:
		outcome.Err = err
		o.enqueue(ctx, models.TaskEmail, r.ID, msg)
	}
	return outcome
}

func (o *Orchestrator) alert(ctx context.Context, text string) Outcome {
	outcome := Outcome{Name: EffectTelegram}
	if o.deps.Alerter == nil {
		outcome.Skipped = true
		return outcome
	}
	outcome.Err = o.deps.Alerter.Alert(ctx, text)
	return outcome
}

func (o *Orchestrator) ledger(ctx context.Context, r *models.Reservation) Outcome {
	outcome := Outcome{Name: EffectLedger}
	if !o.settings.LedgerEnabled || o.deps.Queue == nil {
		outcome.Skipped = true
		return outcome
	}
	outcome.Err = o.deps.Queue.Enqueue(ctx, models.TaskLedger, r.ID, nil)
	return outcome
}

// Confirmed runs the confirmation side effects: calendar, admin email, then
// the customer email when the reservation has an address. The ledger is not
// touched; call SyncLedger once the event id is stored.
func (o *Orchestrator) Confirmed(ctx context.Context, r *models.Reservation) (string, Report) {
	var report Report

	eventID, outcome := o.writeCalendar(ctx, r)
	report = o.add(report, r, outcome)
	if eventID != "" {
		r.CalendarEventID = eventID
	}

	report = o.add(report, r, o.email(ctx, EffectAdminEmail, r, o.settings.adminConfirmMessage(r)))
	if r.HasEmail() {
		report = o.add(report, r, o.email(ctx, EffectCustomerEmail, r, o.settings.customerConfirmMessage(r)))
	}
	return eventID, report
}

// Denied sends the denial notice when the customer left an email address.
func (o *Orchestrator) Denied(ctx context.Context, r *models.Reservation) Report {
	var report Report
	if r.HasEmail() {
		report = o.add(report, r, o.email(ctx, EffectCustomerEmail, r, o.settings.customerDenyMessage(r)))
	}
	return o.add(report, r, o.ledger(ctx, r))
}

// Created notifies the operator of a new pending request and acknowledges
// it to the customer.
func (o *Orchestrator) Created(ctx context.Context, r *models.Reservation) Report {
	var report Report
	report = o.add(report, r, o.email(ctx, EffectAdminEmail, r, o.settings.adminCreatedMessage(r)))
	if r.HasEmail() {
		report = o.add(report, r, o.email(ctx, EffectCustomerEmail, r, o.settings.customerCreatedMessage(r)))
	}
	report = o.add(report, r, o.alert(ctx, o.settings.createdAlert(r)))
	return o.add(report, r, o.ledger(ctx, r))
}

// SyncLedger queues a ledger mirror of the stored reservation row.
func (o *Orchestrator) SyncLedger(ctx context.Context, r *models.Reservation) Outcome {
	outcome := o.ledger(ctx, r)
	o.record(r, outcome)
	return outcome
}

func (o *Orchestrator) add(report Report, r *models.Reservation, outcome Outcome) Report {
	o.record(r, outcome)
	return append(report, outcome)
}

func (o *Orchestrator) record(r *models.Reservation, outcome Outcome) {
	metrics.IncSideEffect(outcome.Name, outcome.result())
	if outcome.Err != nil {
		o.logger.Error().
			Err(outcome.Err).
			Str("reservation_id", r.ID).
			Str("effect", outcome.Name).
			Msg("Side effect failed")
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, taskType, reservationID string, payload interface{}) {
	if o.deps.Queue == nil {
		return
	}
	if err := o.deps.Queue.Enqueue(ctx, taskType, reservationID, payload); err != nil {
		o.logger.Error().Err(err).Str("reservation_id", reservationID).Str("task", taskType).Msg("Failed to queue retry")
	}
}
