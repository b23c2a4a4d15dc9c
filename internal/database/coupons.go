package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"yoyaku/internal/domain"
	"yoyaku/internal/models"
)

func (db *DB) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	query := `SELECT code, amount, used, valid_from, valid_until FROM coupons WHERE code = ?`

	var c models.Coupon
	var from, until string
	err := db.QueryRowContext(ctx, query, code).Scan(&c.Code, &c.Amount, &c.Used, &from, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("coupon %s: %w", code, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	if c.ValidFrom, err = models.ParseDate(from); err != nil {
		return nil, fmt.Errorf("failed to parse coupon valid_from %s: %w", from, err)
	}
	if c.ValidUntil, err = models.ParseDate(until); err != nil {
		return nil, fmt.Errorf("failed to parse coupon valid_until %s: %w", until, err)
	}
	return &c, nil
}

// UpsertCoupon inserts the coupon or replaces amount, window and used flag of
// an existing code.
func (db *DB) UpsertCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
        INSERT INTO coupons (code, amount, used, valid_from, valid_until)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(code) DO UPDATE SET
            amount = excluded.amount,
            used = excluded.used,
            valid_from = excluded.valid_from,
            valid_until = excluded.valid_until
    `
	_, err := db.ExecContext(ctx, query,
		c.Code,
		c.Amount,
		c.Used,
		c.ValidFrom.Format(models.DateLayout),
		c.ValidUntil.Format(models.DateLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert coupon %s: %w", c.Code, err)
	}
	return nil
}
