// Package slots computes bookable start times for a single-resource calendar.
package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yoyaku/internal/models"
	"yoyaku/internal/timegrid"
)

// fallbackMinutes is used for stored rows whose course cannot be resolved so
// that they still block the calendar.
const fallbackMinutes = 60

type Config struct {
	OpenTime          string
	CloseTime         string
	StepMinutes       int
	PreBufferMinutes  int
	PostBufferMinutes int
	MinLeadMinutes    int
	Location          *time.Location
}

// ConfirmedSource returns the confirmed reservations of one calendar date.
type ConfirmedSource interface {
	ListConfirmedByDate(ctx context.Context, date time.Time) ([]*models.Reservation, error)
}

type Engine struct {
	cfg   Config
	open  int
	close int
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.OpenTime == "" {
		cfg.OpenTime = models.DefaultOpenTime
	}
	if cfg.CloseTime == "" {
		cfg.CloseTime = models.DefaultCloseTime
	}
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = models.DefaultStepMinutes
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PreBufferMinutes < 0 || cfg.PostBufferMinutes < 0 || cfg.MinLeadMinutes < 0 {
		return nil, errors.New("buffers and lead time must not be negative")
	}

	open, err := timegrid.ParseClock(cfg.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("open time: %w", err)
	}
	closeMin, err := timegrid.ParseClock(cfg.CloseTime)
	if err != nil && cfg.CloseTime == "24:00" {
		closeMin, err = 24*60, nil
	}
	if err != nil {
		return nil, fmt.Errorf("close time: %w", err)
	}
	if closeMin <= open {
		return nil, fmt.Errorf("close time %s must be after open time %s", cfg.CloseTime, cfg.OpenTime)
	}

	return &Engine{cfg: cfg, open: open, close: closeMin}, nil
}

func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// Compute returns the sorted "HH:MM" start times that can be booked for
// course on date, given the day's confirmed reservations and the current time.
func (e *Engine) Compute(date time.Time, course models.Course, confirmed []*models.Reservation, now time.Time) []string {
	out := []string{}
	dur := course.Minutes()
	if dur <= 0 {
		return out
	}

	type window struct{ from, to int }
	blocked := make([]window, 0, len(confirmed))
	for _, r := range confirmed {
		if r == nil {
			continue
		}
		from, to := e.blockedInterval(r)
		blocked = append(blocked, window{from, to})
	}

	cutoff := now.Add(time.Duration(e.cfg.MinLeadMinutes) * time.Minute)

	for start := e.open; start <= e.close; start += e.cfg.StepMinutes {
		if start+dur > e.close {
			continue
		}
		taken := false
		for _, w := range blocked {
			if start >= w.from && start <= w.to {
				taken = true
				break
			}
		}
		if taken {
			continue
		}
		if e.instant(date, start).Before(cutoff) {
			continue
		}
		out = append(out, timegrid.ToClock(start))
	}
	return out
}

// Available fetches the confirmed set and computes the open slots. A failed
// fetch yields no slots.
func (e *Engine) Available(
	ctx context.Context,
	src ConfirmedSource,
	date time.Time,
	course models.Course,
	now time.Time,
) ([]string, error) {
	confirmed, err := src.ListConfirmedByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("fetch confirmed reservations for %s: %w", date.Format(models.DateLayout), err)
	}
	return e.Compute(date, course, confirmed, now), nil
}

// Offers reports whether start is among the computed slots.
func (e *Engine) Offers(date time.Time, course models.Course, start string, confirmed []*models.Reservation, now time.Time) bool {
	want := timegrid.ToClock(timegrid.ToMinutes(start))
	for _, s := range e.Compute(date, course, confirmed, now) {
		if s == want {
			return true
		}
	}
	return false
}

// Conflicts reports whether target collides with any other confirmed
// reservation of its date: its start falls inside a buffered block, or its
// [start, end) overlaps another booking widened by the pre and post buffers.
func (e *Engine) Conflicts(target *models.Reservation, confirmed []*models.Reservation) bool {
	ts := timegrid.ToMinutes(target.StartTime)
	te := ts + durationOf(target)

	for _, r := range confirmed {
		if r == nil || r.ID == target.ID || r.DateString() != target.DateString() {
			continue
		}
		from, to := e.blockedInterval(r)
		if ts >= from && ts <= to {
			return true
		}
		s := timegrid.ToMinutes(r.StartTime)
		if ts < s+durationOf(r)+e.cfg.PostBufferMinutes && te > s-e.cfg.PreBufferMinutes {
			return true
		}
	}
	return false
}

func (e *Engine) blockedInterval(r *models.Reservation) (int, int) {
	start := timegrid.ToMinutes(r.StartTime)
	step := e.cfg.StepMinutes
	from := timegrid.SnapDown(start-e.cfg.PreBufferMinutes, step)
	to := timegrid.SnapDown(start+durationOf(r)+e.cfg.PostBufferMinutes, step)
	return from, to
}

func (e *Engine) instant(date time.Time, minutes int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), minutes/60, minutes%60, 0, 0, e.cfg.Location)
}

func durationOf(r *models.Reservation) int {
	if d := r.Course.Minutes(); d > 0 {
		return d
	}
	return fallbackMinutes
}
