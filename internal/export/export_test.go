package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"yoyaku/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	rows []*models.Reservation
	err  error
}

func (f *fakeSource) ListReservationsByDateRange(context.Context, time.Time, time.Time) ([]*models.Reservation, error) {
	return f.rows, f.err
}

func reservation(id, start, status string, price int) *models.Reservation {
	d, _ := models.ParseDate("2025-06-10")
	return &models.Reservation{
		ID: id, Date: d, StartTime: start, EndTime: "14:00", Course: models.Course60,
		Name: "山田太郎", Phone: "090-1234-5678", Price: price, Status: status,
		CreatedAt: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC),
	}
}

func TestExport(t *testing.T) {
	logger := zerolog.Nop()
	jst := time.FixedZone("JST", 9*3600)
	src := &fakeSource{rows: []*models.Reservation{
		reservation("r-1", "13:00", models.StatusConfirmed, 9000),
		reservation("r-2", "16:00", models.StatusDenied, 4000),
		reservation("r-3", "18:00", models.StatusConfirmed, 4000),
	}}
	dir := t.TempDir()
	e := NewExporter(src, dir, jst, &logger)

	from, _ := models.ParseDate("2025-06-01")
	to, _ := models.ParseDate("2025-06-30")
	path, err := e.Export(context.Background(), from, to, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reservations_2025-06-01_to_2025-06-30.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "r-1", rows[1][0])
	assert.Equal(t, "60min", rows[1][4])
	assert.Equal(t, "確定", rows[1][11])
	assert.Equal(t, "2025-06-01 12:00", rows[1][13])
	assert.Equal(t, "見送り", rows[2][11])

	count, err := f.GetCellValue(sheetName, "B6")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
	revenue, err := f.GetCellValue(sheetName, "J6")
	require.NoError(t, err)
	assert.Equal(t, "13000", revenue)
}

func TestExport_Errors(t *testing.T) {
	logger := zerolog.Nop()
	from, _ := models.ParseDate("2025-06-10")
	to, _ := models.ParseDate("2025-06-01")

	e := NewExporter(&fakeSource{}, t.TempDir(), nil, &logger)
	_, err := e.Export(context.Background(), from, to, "")
	assert.Error(t, err)

	e = NewExporter(&fakeSource{err: errors.New("db closed")}, t.TempDir(), nil, &logger)
	_, err = e.Export(context.Background(), to, from, "")
	assert.ErrorContains(t, err, "db closed")
}

func TestExport_CustomPath(t *testing.T) {
	logger := zerolog.Nop()
	e := NewExporter(&fakeSource{}, "unused", nil, &logger)
	out := filepath.Join(t.TempDir(), "nested", "june.xlsx")

	day, _ := models.ParseDate("2025-06-10")
	path, err := e.Export(context.Background(), day, day, out)
	require.NoError(t, err)
	assert.Equal(t, out, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
