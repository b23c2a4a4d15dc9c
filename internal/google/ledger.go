package google

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"yoyaku/internal/config"
	"yoyaku/internal/models"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	ledgerSheet     = "Reservations"
	ledgerLastCol   = "O"
	ledgerTimestamp = "2006-01-02 15:04:05"
)

var ledgerHeader = []interface{}{
	"ID", "Date", "Start", "End", "Course", "Name", "Phone", "Email",
	"Price", "Coupon", "Status", "Calendar Event", "Notes", "Created At", "Updated At",
}

var errRowNotFound = errors.New("reservation row not found")

// LedgerService mirrors reservations into a spreadsheet, one row per
// reservation keyed by id in column A.
type LedgerService struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
	logger        *zerolog.Logger
}

// NewLedgerService returns nil without error when no ledger spreadsheet or
// no credentials are configured.
func NewLedgerService(ctx context.Context, cfg config.GoogleConfig, logger *zerolog.Logger) (*LedgerService, error) {
	if strings.TrimSpace(cfg.LedgerSpreadsheetID) == "" {
		return nil, nil
	}

	client, mode, err := authorizedClient(ctx, cfg, sheets.SpreadsheetsScope)
	if errors.Is(err, errNoCredentials) {
		logger.Warn().Msg("Ledger spreadsheet is set but no credentials are configured, ledger disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	s := newLedgerService(srv, cfg.LedgerSpreadsheetID, logger)
	s.logger.Info().Str("auth", mode).Msg("Ledger service initialized")
	return s, nil
}

func newLedgerService(srv *sheets.Service, spreadsheetID string, logger *zerolog.Logger) *LedgerService {
	l := logger.With().Str("component", "ledger").Logger()
	return &LedgerService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
		logger:        &l,
	}
}

// TestConnection reads the header cell.
func (s *LedgerService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the column titles into row 1.
func (s *LedgerService) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:%s1", ledgerSheet, ledgerLastCol)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{ledgerHeader},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache rebuilds the id to row index from column A.
func (s *LedgerService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if id := cellString(row); id != "" && id != "ID" {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// UpsertReservation rewrites the reservation row, appending it when the id
// has no row yet.
func (s *LedgerService) UpsertReservation(ctx context.Context, r *models.Reservation) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("reservation id is required")
	}

	rowIdx, err := s.FindRow(ctx, r.ID)
	if errors.Is(err, errRowNotFound) {
		return s.appendReservation(ctx, r)
	}
	if err != nil {
		return err
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", ledgerSheet, rowIdx, ledgerLastCol, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{reservationRow(r)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *LedgerService) appendReservation(ctx context.Context, r *models.Reservation) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, ledgerSheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{reservationRow(r)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(r.ID, row)
		}
	}
	return nil
}

// FindRow locates the 1-based row of a reservation id.
func (s *LedgerService) FindRow(ctx context.Context, id string) (int, error) {
	if row, ok := s.getCachedRow(id); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellString(row) == id {
			s.setCachedRow(id, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

func (s *LedgerService) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *LedgerService) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func reservationRow(r *models.Reservation) []interface{} {
	return []interface{}{
		r.ID,
		r.DateString(),
		r.StartTime,
		r.EndTime,
		r.Course.String(),
		r.Name,
		r.Phone,
		r.Email,
		r.Price,
		r.CouponCode,
		r.Status,
		r.CalendarEventID,
		r.Notes,
		formatTimestamp(r.CreatedAt),
		formatTimestamp(r.UpdatedAt),
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(ledgerTimestamp)
}

func cellString(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	switch v := row[0].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// rowFromRange extracts the first row number of an A1 range such as
// "Reservations!A10:O10".
func rowFromRange(a1 string) (int, bool) {
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		a1 = a1[i+1:]
	}
	if i := strings.Index(a1, ":"); i >= 0 {
		a1 = a1[:i]
	}
	digits := strings.TrimLeft(a1, "ABCDEFGHIJKLMNOPQRSTUVWXYZ$")
	row, err := strconv.Atoi(digits)
	if err != nil || row <= 0 {
		return 0, false
	}
	return row, true
}
