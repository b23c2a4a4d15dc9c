package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/events"
	"yoyaku/internal/metrics"
	"yoyaku/internal/models"
	"yoyaku/internal/notify"
	"yoyaku/internal/pricing"
	"yoyaku/internal/slots"

	"github.com/rs/zerolog"
)

const sideEffectTimeout = 30 * time.Second

// SlotSource is the cached view of confirmed reservations used for slot
// listings.
type SlotSource interface {
	slots.ConfirmedSource
	Invalidate(ctx context.Context, date time.Time)
}

type Notifier interface {
	Created(ctx context.Context, r *models.Reservation) notify.Report
	Confirmed(ctx context.Context, r *models.Reservation) (string, notify.Report)
	Denied(ctx context.Context, r *models.Reservation) notify.Report
	SyncLedger(ctx context.Context, r *models.Reservation) notify.Outcome
}

type Options struct {
	CreateLimitPerPhone    int
	CreateLimitWindow      time.Duration
	VerifySlotOnCreate     bool
	RejectOverlapOnConfirm bool
	NotifyOnCreate         bool
}

type CreateRequest struct {
	Date       string `json:"date"`
	StartTime  string `json:"startTime"`
	Course     string `json:"course"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Notes      string `json:"notes"`
	CouponCode string `json:"couponCode"`
}

type QuoteRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Course     string `json:"course"`
	CouponCode string `json:"couponCode"`
}

type SlotsResult struct {
	Date   string   `json:"date"`
	Course string   `json:"course"`
	Slots  []string `json:"slots"`
}

type ConfirmResult struct {
	ReservationID   string        `json:"reservationId"`
	CalendarEventID *string       `json:"calendarEventId"`
	Report          notify.Report `json:"-"`
}

type DenyResult struct {
	ReservationID string        `json:"reservationId"`
	Report        notify.Report `json:"-"`
}

type ReservationService struct {
	repo     domain.Repository
	limiter  domain.CacheRepository
	source   SlotSource
	engine   *slots.Engine
	pricing  *pricing.Resolver
	notifier Notifier
	eventBus domain.EventPublisher
	opts     Options
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewReservationService(
	repo domain.Repository,
	limiter domain.CacheRepository,
	source SlotSource,
	engine *slots.Engine,
	resolver *pricing.Resolver,
	notifier Notifier,
	eventBus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *ReservationService {
	l := logger.With().Str("component", "reservation_service").Logger()
	return &ReservationService{
		repo:     repo,
		limiter:  limiter,
		source:   source,
		engine:   engine,
		pricing:  resolver,
		notifier: notifier,
		eventBus: eventBus,
		opts:     opts,
		now:      time.Now,
		logger:   &l,
	}
}

// SetClock replaces time.Now. Tests only.
func (s *ReservationService) SetClock(now func() time.Time) {
	s.now = now
}

// Slots lists the bookable start times for a date and course.
func (s *ReservationService) Slots(ctx context.Context, date, course string) (*SlotsResult, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	c, err := parseCourse(course)
	if err != nil {
		return nil, err
	}

	open, err := s.engine.Available(ctx, s.source, day, c, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return &SlotsResult{Date: day.Format(models.DateLayout), Course: c.String(), Slots: open}, nil
}

// Quote prices a prospective reservation without persisting anything.
func (s *ReservationService) Quote(ctx context.Context, req QuoteRequest) (pricing.Quote, error) {
	c, err := parseCourse(req.Course)
	if err != nil {
		return pricing.Quote{}, err
	}
	if strings.TrimSpace(req.Email) != "" && !strings.Contains(req.Email, "@") {
		return pricing.Quote{}, domain.NewValidationError("email", "must contain @")
	}
	return s.pricing.Quote(ctx, pricing.Request{
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		Course:     c,
		CouponCode: req.CouponCode,
	})
}

// Create validates and prices a request and stores it as pending.
func (s *ReservationService) Create(ctx context.Context, req CreateRequest) (*models.Reservation, error) {
	r, err := s.create(ctx, req)
	metrics.IncTransition("create", resultLabel(err))
	return r, err
}

func (s *ReservationService) create(ctx context.Context, req CreateRequest) (*models.Reservation, error) {
	r, err := buildReservation(req)
	if err != nil {
		return nil, err
	}

	if err := s.checkCreateLimit(ctx, r.Phone); err != nil {
		return nil, err
	}

	if s.opts.VerifySlotOnCreate {
		confirmed, err := s.repo.ListConfirmedByDate(ctx, r.Date)
		if err != nil {
			return nil, storeError("list confirmed reservations", err)
		}
		if !s.engine.Offers(r.Date, r.Course, r.StartTime, confirmed, s.now()) {
			return nil, fmt.Errorf("%w: %s %s", domain.ErrConflict, r.DateString(), r.StartTime)
		}
		// Offered starts can still overlap a buffered booking.
		if s.opts.RejectOverlapOnConfirm && s.engine.Conflicts(r, confirmed) {
			return nil, fmt.Errorf("%w: %s %s overlaps a confirmed reservation", domain.ErrConflict, r.DateString(), r.StartTime)
		}
	}

	quote, err := s.pricing.Quote(ctx, pricing.Request{
		Name:       r.Name,
		Phone:      r.Phone,
		Email:      r.Email,
		Course:     r.Course,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		return nil, err
	}
	r.Price = quote.FinalPrice
	r.CouponCode = quote.CouponCode

	if err := s.repo.CreateReservation(ctx, r); err != nil {
		return nil, storeError("create reservation", err)
	}

	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("date", r.DateString()).
		Str("start", r.StartTime).
		Str("course", r.Course.String()).
		Int("price", r.Price).
		Bool("first_time", quote.FirstTime).
		Msg("Reservation created")

	s.publishEvent(events.EventReservationCreated, r)

	sctx, cancel := sideEffectContext(ctx)
	defer cancel()
	if s.opts.NotifyOnCreate {
		s.notifier.Created(sctx, r)
	} else {
		s.notifier.SyncLedger(sctx, r)
	}
	return r, nil
}

// Confirm moves a pending reservation to confirmed and runs the calendar
// and email side effects.
func (s *ReservationService) Confirm(ctx context.Context, id string) (*ConfirmResult, error) {
	res, err := s.confirm(ctx, id)
	metrics.IncTransition("confirm", resultLabel(err))
	return res, err
}

func (s *ReservationService) confirm(ctx context.Context, id string) (*ConfirmResult, error) {
	if _, err := s.pendingReservation(ctx, id); err != nil {
		return nil, err
	}

	var guard domain.ConflictGuard
	if s.opts.RejectOverlapOnConfirm {
		guard = s.engine.Conflicts
	}
	r, err := s.repo.ConfirmReservation(ctx, id, guard)
	if err != nil {
		return nil, storeError("confirm reservation", err)
	}
	s.source.Invalidate(ctx, r.Date)
	s.logger.Info().Str("reservation_id", r.ID).Str("date", r.DateString()).Str("start", r.StartTime).Msg("Reservation confirmed")

	sctx, cancel := sideEffectContext(ctx)
	defer cancel()

	eventID, report := s.notifier.Confirmed(sctx, r)
	result := &ConfirmResult{ReservationID: r.ID, Report: report}
	if eventID != "" {
		result.CalendarEventID = &eventID
		r.CalendarEventID = eventID
		if err := s.repo.SetCalendarEventID(sctx, r.ID, eventID); err != nil {
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Str("event_id", eventID).Msg("Failed to store calendar event id")
		}
	}
	result.Report = append(result.Report, s.notifier.SyncLedger(sctx, r))

	s.publishEvent(events.EventReservationConfirmed, r)
	return result, nil
}

// Deny moves a pending reservation to denied and notifies the customer.
func (s *ReservationService) Deny(ctx context.Context, id string) (*DenyResult, error) {
	res, err := s.deny(ctx, id)
	metrics.IncTransition("deny", resultLabel(err))
	return res, err
}

func (s *ReservationService) deny(ctx context.Context, id string) (*DenyResult, error) {
	if _, err := s.pendingReservation(ctx, id); err != nil {
		return nil, err
	}

	r, err := s.repo.DenyReservation(ctx, id)
	if err != nil {
		return nil, storeError("deny reservation", err)
	}
	s.logger.Info().Str("reservation_id", r.ID).Str("date", r.DateString()).Str("start", r.StartTime).Msg("Reservation denied")

	sctx, cancel := sideEffectContext(ctx)
	defer cancel()
	report := s.notifier.Denied(sctx, r)

	s.publishEvent(events.EventReservationDenied, r)
	return &DenyResult{ReservationID: r.ID, Report: report}, nil
}

func (s *ReservationService) pendingReservation(ctx context.Context, id string) (*models.Reservation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("reservationId", "is required")
	}
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, storeError("get reservation", err)
	}
	if !r.IsPending() {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrInvalidState, r.Status)
	}
	return r, nil
}

func (s *ReservationService) checkCreateLimit(ctx context.Context, phone string) error {
	if s.limiter == nil || s.opts.CreateLimitPerPhone <= 0 {
		return nil
	}
	allowed, err := s.limiter.CheckRateLimit(ctx, "create:"+normalizePhone(phone), s.opts.CreateLimitPerPhone, s.opts.CreateLimitWindow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Create limit check failed, allowing request")
		return nil
	}
	if !allowed {
		return fmt.Errorf("%w: too many reservation requests for this phone", domain.ErrRateLimited)
	}
	return nil
}

func (s *ReservationService) publishEvent(eventType string, r *models.Reservation) {
	if s.eventBus == nil {
		return
	}
	payload := events.ReservationEventPayload{
		ReservationID:   r.ID,
		Date:            r.DateString(),
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Course:          r.Course.String(),
		Name:            r.Name,
		Price:           r.Price,
		Status:          r.Status,
		CalendarEventID: r.CalendarEventID,
		OccurredAt:      s.now().UTC(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("reservation_id", r.ID).Msg("publish event error")
	}
}

// sideEffectContext detaches side effects from the caller's cancellation;
// the status change they follow is already committed.
func sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

// storeError keeps lifecycle sentinels from the store and classifies
// everything else as a store failure.
func storeError(op string, err error) error {
	for _, sentinel := range []error{domain.ErrNotFound, domain.ErrInvalidState, domain.ErrConflict, domain.ErrCouponUsed, domain.ErrValidation} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStore, op, err)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.ErrorCode(err)
}
