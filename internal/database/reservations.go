package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/models"

	"github.com/google/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const reservationColumns = `id, date, start_time, end_time, course, name, phone, email, notes,
	price, coupon_code, status, calendar_event_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var r models.Reservation
	var dateStr string
	err := row.Scan(
		&r.ID, &dateStr, &r.StartTime, &r.EndTime, &r.Course, &r.Name, &r.Phone, &r.Email, &r.Notes,
		&r.Price, &r.CouponCode, &r.Status, &r.CalendarEventID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Date, err = models.ParseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reservation date %s: %w", dateStr, err)
	}
	return &r, nil
}

func scanReservations(rows *sql.Rows) ([]*models.Reservation, error) {
	defer rows.Close()

	out := []*models.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return out, nil
}

// CreateReservation inserts r and assigns its id and timestamps.
func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO reservations (` + reservationColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id := uuid.NewString()
	now := time.Now()
	status := r.Status
	if status == "" {
		status = models.StatusPending
	}

	_, err := db.ExecContext(ctx, query,
		id,
		r.DateString(),
		r.StartTime,
		r.EndTime,
		r.Course,
		r.Name,
		r.Phone,
		r.Email,
		r.Notes,
		r.Price,
		r.CouponCode,
		status,
		r.CalendarEventID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	r.ID = id
	r.Status = status
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, db, id)
}

func getReservation(ctx context.Context, q querier, id string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	r, err := scanReservation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

func (db *DB) ListConfirmedByDate(ctx context.Context, date time.Time) ([]*models.Reservation, error) {
	return listConfirmedByDate(ctx, db, date)
}

func listConfirmedByDate(ctx context.Context, q querier, date time.Time) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
              WHERE date = ? AND status = ? ORDER BY start_time ASC`
	rows, err := q.QueryContext(ctx, query, date.Format(models.DateLayout), models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed reservations: %w", err)
	}
	return scanReservations(rows)
}

// ListReservationsByDateRange returns every reservation dated within
// [from, to], both inclusive.
func (db *DB) ListReservationsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
              WHERE date >= ? AND date <= ? ORDER BY date ASC, start_time ASC`
	rows, err := db.QueryContext(ctx, query, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations by date range: %w", err)
	}
	return scanReservations(rows)
}

// HasConfirmedMatch reports whether any confirmed reservation shares the
// phone, email or name. Blank fields are ignored.
func (db *DB) HasConfirmedMatch(ctx context.Context, phone, email, name string) (bool, error) {
	var clauses []string
	var args []any
	for column, value := range map[string]string{"phone": phone, "email": email, "name": name} {
		if v := strings.TrimSpace(value); v != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, v)
		}
	}
	if len(clauses) == 0 {
		return false, nil
	}

	query := `SELECT EXISTS(SELECT 1 FROM reservations WHERE status = ? AND (` +
		strings.Join(clauses, " OR ") + `))`
	args = append([]any{models.StatusConfirmed}, args...)

	var found bool
	if err := db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to look up customer history: %w", err)
	}
	return found, nil
}

// ConfirmReservation moves a pending reservation to confirmed. The guard, when
// set, sees the date's confirmed rows inside the same transaction. A coupon
// attached to the reservation is marked used.
func (db *DB) ConfirmReservation(ctx context.Context, id string, guard domain.ConflictGuard) (*models.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	r, err := getReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsPending() {
		return nil, fmt.Errorf("reservation %s is %s: %w", id, r.Status, domain.ErrInvalidState)
	}

	if guard != nil {
		confirmed, err := listConfirmedByDate(ctx, tx, r.Date)
		if err != nil {
			return nil, err
		}
		if guard(r, confirmed) {
			return nil, fmt.Errorf("reservation %s at %s %s: %w", id, r.DateString(), r.StartTime, domain.ErrConflict)
		}
	}

	now := time.Now()
	if err := transition(ctx, tx, id, models.StatusConfirmed, now); err != nil {
		return nil, err
	}

	if r.CouponCode != "" {
		res, err := tx.ExecContext(ctx, `UPDATE coupons SET used = 1 WHERE code = ? AND used = 0`, r.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("failed to mark coupon used: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return nil, fmt.Errorf("reservation %s coupon %s: %w", id, r.CouponCode, domain.ErrCouponUsed)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	r.Status = models.StatusConfirmed
	r.UpdatedAt = now
	return r, nil
}

// DenyReservation moves a pending reservation to denied.
func (db *DB) DenyReservation(ctx context.Context, id string) (*models.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	r, err := getReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsPending() {
		return nil, fmt.Errorf("reservation %s is %s: %w", id, r.Status, domain.ErrInvalidState)
	}

	now := time.Now()
	if err := transition(ctx, tx, id, models.StatusDenied, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit denial: %w", err)
	}

	r.Status = models.StatusDenied
	r.UpdatedAt = now
	return r, nil
}

func transition(ctx context.Context, q querier, id, status string, now time.Time) error {
	query := `UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := q.ExecContext(ctx, query, status, now, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func (db *DB) SetCalendarEventID(ctx context.Context, id, eventID string) error {
	query := `UPDATE reservations SET calendar_event_id = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, eventID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set calendar event id: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
