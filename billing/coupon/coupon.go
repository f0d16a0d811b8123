// Package coupon validates and redeems platform-global discount codes.
// Codes are case-insensitive and stored upper-cased; usage accounting is an
// atomic conditional increment so concurrent redemptions never overshoot the
// cap.
package coupon

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrCouponNotFound   = errors.New("coupon: not found")
	ErrCouponInactive   = errors.New("coupon: code is inactive")
	ErrCouponExpired    = errors.New("coupon: code has expired")
	ErrCouponNotStarted = errors.New("coupon: code is not yet valid")
	ErrCouponExhausted  = errors.New("coupon: usage limit reached")
	ErrCouponCodeTaken  = errors.New("coupon: code already exists")
	ErrInvalidCoupon    = errors.New("coupon: invalid coupon definition")
)

// Coupon is a percentage discount applied at checkout.
type Coupon struct {
	Code            string // always upper-case
	DiscountPercent int    // 1..100
	DurationMonths  int    // how many billing months the discount covers
	MaxUses         int    // 0 = unlimited
	CurrentUses     int
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	Active          bool
	CreatedAt       time.Time
}

// NormalizeCode upper-cases and trims a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Usable checks the coupon's own state at the given time. It does not touch
// the usage counter; only Store.IncrementUsage may consume a use.
func (c *Coupon) Usable(now time.Time) error {
	if !c.Active {
		return ErrCouponInactive
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrCouponNotStarted
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrCouponExpired
	}
	if c.MaxUses > 0 && c.CurrentUses >= c.MaxUses {
		return ErrCouponExhausted
	}
	return nil
}

// DiscountedAmount applies the percentage discount to an amount in minor
// currency units, rounding to the nearest unit.
func (c *Coupon) DiscountedAmount(amount int64) int64 {
	discounted := float64(amount) * float64(100-c.DiscountPercent) / 100
	return int64(discounted + 0.5)
}

func (c *Coupon) validate() error {
	if c.Code == "" {
		return errors.Join(ErrInvalidCoupon, errors.New("code is required"))
	}
	if c.DiscountPercent < 1 || c.DiscountPercent > 100 {
		return errors.Join(ErrInvalidCoupon, errors.New("discount percent must be between 1 and 100"))
	}
	if c.MaxUses < 0 {
		return errors.Join(ErrInvalidCoupon, errors.New("max uses cannot be negative"))
	}
	return nil
}
