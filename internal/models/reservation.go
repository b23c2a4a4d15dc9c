package models

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage form of a reservation date.
const DateLayout = "2006-01-02"

type Reservation struct {
	ID              string    `json:"id"`
	Date            time.Time `json:"-"`
	StartTime       string    `json:"startTime"`
	EndTime         string    `json:"endTime"`
	Course          Course    `json:"course"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	Price           int       `json:"price"`
	CouponCode      string    `json:"couponCode,omitempty"`
	Status          string    `json:"status"` // pending, confirmed, denied
	CalendarEventID string    `json:"calendarEventId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DateString returns the calendar date as YYYY-MM-DD.
func (r *Reservation) DateString() string {
	return r.Date.Format(DateLayout)
}

func (r *Reservation) IsPending() bool {
	return r.Status == StatusPending
}

func (r *Reservation) HasEmail() bool {
	return strings.TrimSpace(r.Email) != ""
}

// ParseDate parses a YYYY-MM-DD calendar date. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}
