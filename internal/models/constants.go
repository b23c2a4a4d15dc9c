package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusDenied    = "denied"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

const (
	TaskEmail    = "email"
	TaskCalendar = "calendar"
	TaskLedger   = "ledger"
)

const (
	// DefaultTimezone is the shop's wall-clock zone.
	DefaultTimezone = "Asia/Tokyo"

	DefaultOpenTime          = "10:00"
	DefaultCloseTime         = "23:00"
	DefaultStepMinutes       = 15
	DefaultPreBufferMinutes  = 30
	DefaultPostBufferMinutes = 30
	DefaultMinLeadMinutes    = 60

	// DefaultSlotCacheTTL in seconds
	DefaultSlotCacheTTL = 30

	// WorkerQueueSize in-memory fallback queue size
	WorkerQueueSize = 128

	// CreateLimitPerPhone pending requests allowed per phone inside one window
	CreateLimitPerPhone = 5
	// CreateLimitWindow in seconds
	CreateLimitWindow = 60 * 60
)

const ParseModeHTML = "HTML"
