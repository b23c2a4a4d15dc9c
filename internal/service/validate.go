package service

import (
	"strings"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/models"
	"yoyaku/internal/timegrid"
)

const minutesPerDay = 24 * 60

func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, domain.NewValidationError("date", "is required")
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return time.Time{}, domain.NewValidationError("date", "must be YYYY-MM-DD")
	}
	return d, nil
}

func parseCourse(s string) (models.Course, error) {
	if strings.TrimSpace(s) == "" {
		return models.CourseUnknown, domain.NewValidationError("course", "is required")
	}
	c, err := models.ParseCourse(s)
	if err != nil {
		return models.CourseUnknown, domain.NewValidationError("course", "unknown course")
	}
	return c, nil
}

func buildReservation(req CreateRequest) (*models.Reservation, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.StartTime) == "" {
		return nil, domain.NewValidationError("startTime", "is required")
	}
	start, err := timegrid.ParseClock(req.StartTime)
	if err != nil {
		return nil, domain.NewValidationError("startTime", "must be HH:MM")
	}
	course, err := parseCourse(req.Course)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, domain.NewValidationError("phone", "is required")
	}
	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		return nil, domain.NewValidationError("email", "must contain @")
	}
	end := start + course.Minutes()
	if end > minutesPerDay {
		return nil, domain.NewValidationError("startTime", "course does not fit in the day")
	}

	return &models.Reservation{
		Date:      date,
		StartTime: timegrid.ToClock(start),
		EndTime:   timegrid.ToClock(end),
		Course:    course,
		Name:      name,
		Phone:     phone,
		Email:     email,
		Notes:     strings.TrimSpace(req.Notes),
		Status:    models.StatusPending,
	}, nil
}

// normalizePhone keeps digits only so that formatting variants share one
// rate limit bucket.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return phone
	}
	return b.String()
}
