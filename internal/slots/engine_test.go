package slots

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"yoyaku/internal/models"
	"yoyaku/internal/timegrid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("JST", 9*60*60)

func newTestEngine(t *testing.T, step int) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		OpenTime:          "10:00",
		CloseTime:         "23:00",
		StepMinutes:       step,
		PreBufferMinutes:  30,
		PostBufferMinutes: 30,
		MinLeadMinutes:    60,
		Location:          jst,
	})
	require.NoError(t, err)
	return e
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

func confirmedAt(t *testing.T, id, date, start string, course models.Course) *models.Reservation {
	return &models.Reservation{
		ID:        id,
		Date:      mustDate(t, date),
		StartTime: start,
		EndTime:   timegrid.ToClock(timegrid.ToMinutes(start) + course.Minutes()),
		Course:    course,
		Status:    models.StatusConfirmed,
	}
}

type fakeSource struct {
	rows []*models.Reservation
	err  error
}

func (f *fakeSource) ListConfirmedByDate(_ context.Context, _ time.Time) ([]*models.Reservation, error) {
	return f.rows, f.err
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Config{OpenTime: "23:00", CloseTime: "10:00"})
	assert.Error(t, err)

	_, err = NewEngine(Config{OpenTime: "ten", CloseTime: "23:00"})
	assert.Error(t, err)

	_, err = NewEngine(Config{PreBufferMinutes: -5})
	assert.Error(t, err)

	e, err := NewEngine(Config{})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, e.Location())

	e, err = NewEngine(Config{OpenTime: "18:00", CloseTime: "24:00"})
	require.NoError(t, err)
	assert.Equal(t, 24*60, e.close)
}

func TestCompute_EmptyDay(t *testing.T) {
	e := newTestEngine(t, 15)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, jst)

	got := e.Compute(date, models.Course60, nil, now)
	require.NotEmpty(t, got)
	assert.Equal(t, "10:00", got[0])
	assert.Equal(t, "22:00", got[len(got)-1])
	assert.Len(t, got, 49)

	got90 := e.Compute(date, models.Course90, nil, now)
	assert.Equal(t, "21:30", got90[len(got90)-1])

	assert.Empty(t, e.Compute(date, models.CourseUnknown, nil, now))
}

func TestCompute_ConfirmedReservationBlocksBufferedWindow(t *testing.T) {
	e := newTestEngine(t, 15)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, jst)
	existing := []*models.Reservation{confirmedAt(t, "r1", "2025-06-10", "13:00", models.Course60)}

	got := e.Compute(date, models.Course30, existing, now)

	assert.Contains(t, got, "12:15")
	assert.Contains(t, got, "14:45")
	for _, blocked := range []string{"12:30", "12:45", "13:00", "13:30", "14:00", "14:15", "14:30"} {
		assert.NotContains(t, got, blocked)
	}
}

func TestCompute_BufferSnapsToGrid(t *testing.T) {
	e := newTestEngine(t, 15)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, jst)
	// 13:10 - 30 = 12:40 -> 12:30 ; 13:10 + 30 + 30 = 14:10 -> 14:00
	existing := []*models.Reservation{confirmedAt(t, "r1", "2025-06-10", "13:10", models.Course30)}

	got := e.Compute(date, models.Course30, existing, now)
	assert.Contains(t, got, "12:15")
	assert.NotContains(t, got, "12:30")
	assert.NotContains(t, got, "14:00")
	assert.Contains(t, got, "14:15")
}

func TestCompute_ClosingBoundary(t *testing.T) {
	e := newTestEngine(t, 1)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, jst)

	got := e.Compute(date, models.Course60, nil, now)
	assert.Contains(t, got, "22:00")
	assert.NotContains(t, got, "22:01")
	assert.Equal(t, "22:00", got[len(got)-1])
}

func TestCompute_SameDayLeadTime(t *testing.T) {
	e := newTestEngine(t, 1)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, jst)

	got := e.Compute(date, models.Course30, nil, now)
	assert.Equal(t, "13:00", got[0])
	assert.NotContains(t, got, "12:59")

	// a few seconds past the minute pushes the first slot to the next minute
	got = e.Compute(date, models.Course30, nil, now.Add(5*time.Second))
	assert.Equal(t, "13:01", got[0])

	// tomorrow is unaffected
	got = e.Compute(mustDate(t, "2025-06-11"), models.Course30, nil, now)
	assert.Equal(t, "10:00", got[0])

	// the past has nothing left
	assert.Empty(t, e.Compute(mustDate(t, "2025-06-09"), models.Course30, nil, now))
}

func TestCompute_NowInOtherZone(t *testing.T) {
	e := newTestEngine(t, 15)
	date := mustDate(t, "2025-06-10")
	// 03:00 UTC is 12:00 JST
	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)

	got := e.Compute(date, models.Course30, nil, now)
	assert.Equal(t, "13:00", got[0])
}

func TestCompute_BookedSlotDisappears(t *testing.T) {
	e := newTestEngine(t, 15)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, jst)

	before := e.Compute(date, models.Course60, nil, now)
	require.Contains(t, before, "15:00")

	booked := confirmedAt(t, "r1", "2025-06-10", "15:00", models.Course60)
	after := e.Compute(date, models.Course60, []*models.Reservation{booked}, now)
	assert.NotContains(t, after, "15:00")
	assert.False(t, e.Offers(date, models.Course60, "15:00", []*models.Reservation{booked}, now))
	assert.True(t, e.Offers(date, models.Course60, "15:00", nil, now))
}

func TestCompute_NeverOffersBlockedStart(t *testing.T) {
	e := newTestEngine(t, 15)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, jst)
	rng := rand.New(rand.NewSource(42))
	courses := models.Courses()

	for i := 0; i < 200; i++ {
		var existing []*models.Reservation
		for j := 0; j < rng.Intn(4)+1; j++ {
			start := 600 + 15*rng.Intn(48)
			existing = append(existing, confirmedAt(t, "x", "2025-06-10", timegrid.ToClock(start), courses[rng.Intn(len(courses))]))
		}
		course := courses[rng.Intn(len(courses))]

		for _, slot := range e.Compute(date, course, existing, now) {
			s := timegrid.ToMinutes(slot)
			assert.LessOrEqual(t, s+course.Minutes(), 23*60)
			for _, r := range existing {
				from, to := e.blockedInterval(r)
				assert.False(t, s >= from && s <= to, "slot %s inside block of %s", slot, r.StartTime)
			}
		}
	}
}

func TestAvailable(t *testing.T) {
	e := newTestEngine(t, 15)
	date := mustDate(t, "2025-06-10")
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, jst)
	ctx := context.Background()

	t.Run("FetchErrorYieldsNoSlots", func(t *testing.T) {
		got, err := e.Available(ctx, &fakeSource{err: errors.New("db down")}, date, models.Course60, now)
		assert.Error(t, err)
		assert.Nil(t, got)
	})

	t.Run("UsesConfirmedRows", func(t *testing.T) {
		src := &fakeSource{rows: []*models.Reservation{confirmedAt(t, "r1", "2025-06-10", "13:00", models.Course60)}}
		got, err := e.Available(ctx, src, date, models.Course30, now)
		require.NoError(t, err)
		assert.NotContains(t, got, "13:00")
		assert.Contains(t, got, "12:15")
	})
}

func TestConflicts(t *testing.T) {
	e := newTestEngine(t, 15)
	existing := []*models.Reservation{confirmedAt(t, "r1", "2025-06-10", "13:00", models.Course60)}

	tests := []struct {
		name   string
		target *models.Reservation
		want   bool
	}{
		{"SameStart", confirmedAt(t, "t", "2025-06-10", "13:00", models.Course30), true},
		{"InsidePreBuffer", confirmedAt(t, "t", "2025-06-10", "12:30", models.Course30), true},
		{"InsidePostBuffer", confirmedAt(t, "t", "2025-06-10", "14:30", models.Course30), true},
		{"LongCourseRunsInto", confirmedAt(t, "t", "2025-06-10", "12:00", models.Course90), true},
		{"EndsInsidePreBuffer", confirmedAt(t, "t", "2025-06-10", "11:45", models.Course60), true},
		{"EndsAtPreBuffer", confirmedAt(t, "t", "2025-06-10", "11:30", models.Course60), false},
		{"ClearBefore", confirmedAt(t, "t", "2025-06-10", "11:00", models.Course60), false},
		{"ClearAfter", confirmedAt(t, "t", "2025-06-10", "14:45", models.Course60), false},
		{"OtherDate", confirmedAt(t, "t", "2025-06-11", "13:00", models.Course60), false},
		{"Itself", confirmedAt(t, "r1", "2025-06-10", "13:00", models.Course60), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Conflicts(tt.target, existing))
		})
	}
}
