// Package timegrid converts between wall-clock strings, minute offsets from
// midnight and fixed-step grid points.
package timegrid

import (
	"fmt"
	"strconv"
	"strings"
)

// ToMinutes converts "HH:MM" (a trailing ":SS" is ignored) into minutes from
// midnight. Malformed parts count as zero.
func ToMinutes(clock string) int {
	parts := strings.SplitN(strings.TrimSpace(clock), ":", 3)
	h, _ := strconv.Atoi(parts[0])
	m := 0
	if len(parts) > 1 {
		m, _ = strconv.Atoi(parts[1])
	}
	return h*60 + m
}

// ToClock formats minutes from midnight as zero-padded "HH:MM".
func ToClock(min int) string {
	if min < 0 {
		min = 0
	}
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// SnapDown floors min to the previous multiple of step.
func SnapDown(min, step int) int {
	if step <= 0 {
		return min
	}
	q := min / step
	if min%step != 0 && min < 0 {
		q--
	}
	return q * step
}

// ParseClock is the strict form of ToMinutes used on user input.
func ParseClock(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", clock)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", clock)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", clock)
	}
	return h*60 + m, nil
}
