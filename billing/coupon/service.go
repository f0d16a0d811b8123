package coupon

import (
	"context"
	"time"
)

// Store persists coupons.
type Store interface {
	// GetByCode returns the coupon for an upper-cased code.
	// Returns ErrCouponNotFound when the code does not exist.
	GetByCode(ctx context.Context, code string) (*Coupon, error)

	// Create inserts a new coupon. Returns ErrCouponCodeTaken on a
	// duplicate code.
	Create(ctx context.Context, c *Coupon) error

	// IncrementUsage atomically increments the usage counter, but only
	// while current uses stay below the cap. Returns ErrCouponExhausted
	// when the cap has been reached. Implementations must use a
	// conditional update, never read-then-write.
	IncrementUsage(ctx context.Context, code string) error
}

// Service is the coupon engine consulted by checkout.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source, for tests exercising expiry windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("coupon: Store is required")
	}
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate looks the code up and checks it is currently redeemable without
// consuming a use. The result must not be treated as a reservation: Apply
// re-validates at redemption time.
func (s *Service) Validate(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if err := c.Usable(s.now()); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply validates the code again and consumes one use. Validation happens
// inside Apply even if the caller validated earlier, since the coupon may
// have been exhausted or deactivated in between.
func (s *Service) Apply(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.Validate(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrementUsage(ctx, c.Code); err != nil {
		return nil, err
	}
	c.CurrentUses++
	return c, nil
}

// Create registers a new coupon with a normalized code.
func (s *Service) Create(ctx context.Context, c *Coupon) error {
	c.Code = NormalizeCode(c.Code)
	if err := c.validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	return s.store.Create(ctx, c)
}
