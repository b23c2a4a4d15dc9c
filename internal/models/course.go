package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Course is a treatment tier. Each tier has a fixed duration.
type Course int

const (
	CourseUnknown Course = iota
	Course30
	Course60
	Course90
)

var courseCodes = map[Course]string{
	Course30: "30min",
	Course60: "60min",
	Course90: "90min",
}

var courseMinutes = map[Course]int{
	Course30: 30,
	Course60: 60,
	Course90: 90,
}

// Courses lists every bookable course in ascending duration.
func Courses() []Course {
	return []Course{Course30, Course60, Course90}
}

// ParseCourse accepts the wire code ("60min").
func ParseCourse(s string) (Course, error) {
	code := strings.ToLower(strings.TrimSpace(s))
	for c, v := range courseCodes {
		if v == code {
			return c, nil
		}
	}
	return CourseUnknown, fmt.Errorf("unknown course %q", s)
}

func (c Course) Minutes() int {
	return courseMinutes[c]
}

func (c Course) Valid() bool {
	_, ok := courseCodes[c]
	return ok
}

func (c Course) String() string {
	if code, ok := courseCodes[c]; ok {
		return code
	}
	return "unknown"
}

func (c Course) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid course %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Course) UnmarshalText(text []byte) error {
	parsed, err := ParseCourse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the course by its wire code.
func (c Course) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid course %d", int(c))
	}
	return c.String(), nil
}

func (c *Course) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	case nil:
		*c = CourseUnknown
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Course", src)
	}
}
