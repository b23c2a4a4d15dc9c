// Package export writes reservation spreadsheets for the shop owner.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"yoyaku/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "予約一覧"

var headers = []string{
	"予約ID", "日付", "開始", "終了", "コース", "お名前", "電話番号",
	"メール", "ご要望", "料金", "クーポン", "ステータス", "カレンダーID", "受付日時",
}

var statusLabels = map[string]string{
	models.StatusPending:   "承認待ち",
	models.StatusConfirmed: "確定",
	models.StatusDenied:    "見送り",
}

type Source interface {
	ListReservationsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
}

type Exporter struct {
	source Source
	dir    string
	loc    *time.Location
	logger *zerolog.Logger
}

func NewExporter(source Source, dir string, loc *time.Location, logger *zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{source: source, dir: dir, loc: loc, logger: logger}
}

// Export writes the reservations dated from..to inclusive to an xlsx file
// and returns its path. An empty out places the file in the export directory.
func (e *Exporter) Export(ctx context.Context, from, to time.Time, out string) (string, error) {
	if to.Before(from) {
		return "", errors.New("export range ends before it starts")
	}

	rows, err := e.source.ListReservationsByDateRange(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("list reservations: %w", err)
	}

	if out == "" {
		out = filepath.Join(e.dir, fmt.Sprintf("reservations_%s_to_%s.xlsx",
			from.Format(models.DateLayout), to.Format(models.DateLayout)))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	if err := writeHeader(f); err != nil {
		return "", err
	}

	confirmed, revenue := 0, 0
	for i, r := range rows {
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", i+2), e.rowValues(r)); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+2, err)
		}
		if r.Status == models.StatusConfirmed {
			confirmed++
			revenue += r.Price
		}
	}

	summaryRow := len(rows) + 3
	_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", summaryRow), "確定件数")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", summaryRow), confirmed)
	_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", summaryRow), "確定売上")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("J%d", summaryRow), revenue)

	if err := f.SaveAs(out); err != nil {
		return "", fmt.Errorf("save %s: %w", out, err)
	}

	e.logger.Info().Str("file_path", out).Int("rows", len(rows)).Msg("Reservation export created")
	return out, nil
}

func writeHeader(f *excelize.File) error {
	values := make([]interface{}, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &values); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", last, style)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "E", 12)
	_ = f.SetColWidth(sheetName, "F", "I", 20)
	_ = f.SetColWidth(sheetName, "J", "L", 12)
	_ = f.SetColWidth(sheetName, "M", "N", 22)
	return nil
}

func (e *Exporter) rowValues(r *models.Reservation) *[]interface{} {
	status := statusLabels[r.Status]
	if status == "" {
		status = r.Status
	}
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.In(e.loc).Format("2006-01-02 15:04")
	}
	return &[]interface{}{
		r.ID,
		r.DateString(),
		r.StartTime,
		r.EndTime,
		r.Course.String(),
		r.Name,
		r.Phone,
		r.Email,
		r.Notes,
		r.Price,
		r.CouponCode,
		status,
		r.CalendarEventID,
		created,
	}
}
