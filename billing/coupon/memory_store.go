package coupon

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
// IncrementUsage holds the store lock over check-and-increment, matching the
// conditional-update contract of the SQL implementation.
type MemoryStore struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{coupons: make(map[string]*Coupon)}
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (*Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cloned := *c
	return &cloned, nil
}

func (s *MemoryStore) Create(_ context.Context, c *Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[c.Code]; exists {
		return ErrCouponCodeTaken
	}
	cloned := *c
	s.coupons[c.Code] = &cloned
	return nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return ErrCouponNotFound
	}
	if c.MaxUses > 0 && c.CurrentUses >= c.MaxUses {
		return ErrCouponExhausted
	}
	c.CurrentUses++
	return nil
}
