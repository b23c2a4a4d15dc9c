// Package pricing decides first-time eligibility and the final price of a
// reservation request.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/models"
)

// CustomerHistory reports whether a confirmed reservation exists for any of
// the supplied identity fields. Empty fields must not match.
type CustomerHistory interface {
	HasConfirmedMatch(ctx context.Context, phone, email, name string) (bool, error)
}

// CouponLookup returns the coupon for code or domain.ErrNotFound.
type CouponLookup interface {
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
}

type CoursePrice struct {
	Normal    int
	FirstTime int
}

// DefaultPrices holds the course price list used when none is configured.
var DefaultPrices = map[models.Course]CoursePrice{
	models.Course30: {Normal: 5000, FirstTime: 3000},
	models.Course60: {Normal: 9000, FirstTime: 4000},
	models.Course90: {Normal: 12000, FirstTime: 7000},
}

type Request struct {
	Name       string
	Phone      string
	Email      string
	Course     models.Course
	CouponCode string
}

type Quote struct {
	FirstTime  bool   `json:"firstTime"`
	BasePrice  int    `json:"basePrice"`
	Discount   int    `json:"discount"`
	FinalPrice int    `json:"finalPrice"`
	CouponCode string `json:"couponCode,omitempty"`
}

type Resolver struct {
	history   CustomerHistory
	coupons   CouponLookup
	prices    map[models.Course]CoursePrice
	matchName bool
	location  *time.Location
	now       func() time.Time
}

type Option func(*Resolver)

// WithClock replaces time.Now for coupon window checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.location = loc
		}
	}
}

func NewResolver(
	history CustomerHistory,
	coupons CouponLookup,
	prices map[models.Course]CoursePrice,
	matchName bool,
	opts ...Option,
) *Resolver {
	if len(prices) == 0 {
		prices = DefaultPrices
	}
	r := &Resolver{
		history:   history,
		coupons:   coupons,
		prices:    prices,
		matchName: matchName,
		location:  time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Quote computes the price for req. Lookup failures are returned wrapped in
// domain.ErrStore; an unusable coupon only zeroes the discount.
func (r *Resolver) Quote(ctx context.Context, req Request) (Quote, error) {
	price, ok := r.prices[req.Course]
	if !ok {
		return Quote{}, domain.NewValidationError("course", "unknown course")
	}

	name := ""
	if r.matchName {
		name = strings.TrimSpace(req.Name)
	}
	returning, err := r.history.HasConfirmedMatch(ctx,
		strings.TrimSpace(req.Phone), strings.TrimSpace(req.Email), name)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: customer history: %w", domain.ErrStore, err)
	}

	q := Quote{FirstTime: !returning, BasePrice: price.Normal}
	if q.FirstTime {
		q.BasePrice = price.FirstTime
	}

	if code := strings.TrimSpace(req.CouponCode); code != "" {
		discount, err := r.couponDiscount(ctx, code)
		if err != nil {
			return Quote{}, err
		}
		if discount > 0 {
			q.Discount = discount
			q.CouponCode = code
		}
	}

	q.FinalPrice = q.BasePrice - q.Discount
	if q.FinalPrice < 0 {
		q.FinalPrice = 0
	}
	return q, nil
}

func (r *Resolver) couponDiscount(ctx context.Context, code string) (int, error) {
	c, err := r.coupons.GetCoupon(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: coupon lookup: %w", domain.ErrStore, err)
	}
	if !c.UsableOn(r.now().In(r.location)) || c.Amount <= 0 {
		return 0, nil
	}
	return c.Amount, nil
}
