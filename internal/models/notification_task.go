package models

import "time"

// NotificationTask is a queued side effect waiting for (re)delivery.
type NotificationTask struct {
	ID            int64      `json:"id"`
	TaskType      string     `json:"task_type"` // email, calendar, ledger
	ReservationID string     `json:"reservation_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
