package models

import "time"

type Coupon struct {
	Code       string    `json:"code" yaml:"code"`
	Amount     int       `json:"amount" yaml:"amount"`
	Used       bool      `json:"used" yaml:"used"`
	ValidFrom  time.Time `json:"valid_from" yaml:"-"`
	ValidUntil time.Time `json:"valid_until" yaml:"-"`
}

// UsableOn reports whether the coupon can be redeemed on the given calendar
// date. Both window bounds are inclusive and compared as dates.
func (c *Coupon) UsableOn(day time.Time) bool {
	if c == nil || c.Used {
		return false
	}
	d := day.Format(DateLayout)
	return d >= c.ValidFrom.Format(DateLayout) && d <= c.ValidUntil.Format(DateLayout)
}
