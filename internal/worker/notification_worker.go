package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/metrics"
	"yoyaku/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey = "yoyaku:notify:queue"
	deadLetterKey = "yoyaku:notify:deadletter"
)

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent task failure")

// Store is the persistence the worker needs: the outbox table and the
// reservation rows the tasks refer to.
type Store interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error)
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]*models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	SetCalendarEventID(ctx context.Context, id, eventID string) error
}

// Handlers deliver the queued side effects. Tasks whose handler is nil fail
// without retry.
type Handlers struct {
	Calendar domain.CalendarWriter
	Mailer   domain.Mailer
	Ledger   domain.LedgerWriter
	Alerter  domain.Alerter
}

// NotificationWorker redelivers side effects that failed inline, plus the
// ledger mirror tasks.
type NotificationWorker struct {
	store        Store
	handlers     Handlers
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.NotificationTask
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

func NewNotificationWorker(store Store, handlers Handlers, redisClient *redis.Client, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	l := logger.With().Str("component", "notification_worker").Logger()

	return &NotificationWorker{
		store:        store,
		handlers:     handlers,
		redis:        redisClient,
		retryPolicy:  retry,
		queue:        make(chan models.NotificationTask, models.WorkerQueueSize),
		pollInterval: pollInterval,
		batchSize:    20,
		logger:       &l,
	}
}

// Enqueue persists a task and schedules it via redis, falling back to the
// in-memory queue. Tasks that fit neither are picked up by polling.
func (w *NotificationWorker) Enqueue(ctx context.Context, taskType, reservationID string, payload interface{}) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if reservationID == "" {
		return errors.New("reservation id is required")
	}

	var raw string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = string(data)
	}

	task := models.NotificationTask{
		TaskType:      taskType,
		ReservationID: reservationID,
		Payload:       raw,
		Status:        models.TaskStatusPending,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, redisQueueKey, &task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, using memory queue")
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("Memory queue full, task left to polling")
	}
	return nil
}

// Start runs the worker loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		n, err := w.ProcessPending(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending tasks")
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case t := <-w.queue:
			w.processTask(ctx, &t)
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessPending runs one batch of due tasks from the store.
func (w *NotificationWorker) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		w.processTask(ctx, t)
	}
	return len(tasks), nil
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		}
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, queued *models.NotificationTask) {
	// The same task can arrive from a queue and from polling; the stored
	// row decides whether it is still due.
	task, err := w.store.GetNotificationTask(ctx, queued.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", queued.ID).Msg("Failed to load task")
		return
	}
	if task == nil || !isDue(task, time.Now()) {
		return
	}

	log := w.logger.With().Int64("task_id", task.ID).Str("task", task.TaskType).Str("reservation_id", task.ReservationID).Logger()

	err = w.handle(ctx, task)
	switch {
	case err == nil:
		if uErr := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); uErr != nil {
			log.Error().Err(uErr).Msg("Failed to mark task completed")
		}
		metrics.IncWorkerTask(task.TaskType, models.TaskStatusCompleted)
		log.Info().Int("attempt", task.RetryCount+1).Msg("Task delivered")
	case errors.Is(err, errPermanent), errors.Is(err, domain.ErrNotFound):
		w.failTask(ctx, task, err)
	default:
		w.retryOrFail(ctx, task, err)
	}
}

func isDue(task *models.NotificationTask, now time.Time) bool {
	if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusRetry {
		return false
	}
	return task.NextRetryAt == nil || !task.NextRetryAt.After(now)
}

func (w *NotificationWorker) handle(ctx context.Context, task *models.NotificationTask) error {
	switch task.TaskType {
	case models.TaskEmail:
		if w.handlers.Mailer == nil {
			return fmt.Errorf("%w: mailer not configured", errPermanent)
		}
		var msg models.EmailMessage
		if err := json.Unmarshal([]byte(task.Payload), &msg); err != nil {
			return fmt.Errorf("%w: decode email payload: %v", errPermanent, err)
		}
		return w.handlers.Mailer.Send(ctx, &msg)

	case models.TaskCalendar:
		if w.handlers.Calendar == nil {
			return fmt.Errorf("%w: calendar not configured", errPermanent)
		}
		r, err := w.store.GetReservation(ctx, task.ReservationID)
		if err != nil {
			return err
		}
		if r.CalendarEventID != "" || r.Status != models.StatusConfirmed {
			return nil
		}
		eventID, err := w.handlers.Calendar.CreateEvent(ctx, r)
		if err != nil {
			return err
		}
		if err := w.store.SetCalendarEventID(ctx, r.ID, eventID); err != nil {
			return fmt.Errorf("store calendar event id: %w", err)
		}
		if w.handlers.Ledger != nil {
			if err := w.Enqueue(ctx, models.TaskLedger, r.ID, nil); err != nil {
				w.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("Failed to queue ledger sync")
			}
		}
		return nil

	case models.TaskLedger:
		if w.handlers.Ledger == nil {
			return fmt.Errorf("%w: ledger not configured", errPermanent)
		}
		r, err := w.store.GetReservation(ctx, task.ReservationID)
		if err != nil {
			return err
		}
		return w.handlers.Ledger.UpsertReservation(ctx, r)
	}
	return fmt.Errorf("%w: unknown task type %q", errPermanent, task.TaskType)
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	if w.retryPolicy.Exhausted(task.RetryCount) {
		w.failTask(ctx, task, cause)
		return
	}

	next := time.Now().Add(w.retryPolicy.NextDelay(task.RetryCount + 1))
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task for retry")
	}
	metrics.IncWorkerTask(task.TaskType, models.TaskStatusRetry)
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Time("next_retry_at", next).Msg("Task failed, will retry")
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task failed")
	}
	metrics.IncWorkerTask(task.TaskType, models.TaskStatusFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task", task.TaskType).Msg("Task failed permanently")

	if w.redis != nil {
		if err := w.pushRedis(ctx, deadLetterKey, task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
		}
	}
	if w.handlers.Alerter != nil {
		text := fmt.Sprintf("<b>通知の再送に失敗しました</b>\n種別: %s\n予約ID: %s\n試行回数: %d\nエラー: %s",
			task.TaskType, html.EscapeString(task.ReservationID), task.RetryCount+1, html.EscapeString(cause.Error()))
		if err := w.handlers.Alerter.Alert(ctx, text); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter alert failed")
		}
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
