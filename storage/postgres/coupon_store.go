package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/backend/billing/coupon"
	"github.com/clinicore/backend/pkg/pg"
)

// CouponStore implements coupon.Store.
type CouponStore struct {
	pool *pgxpool.Pool
}

func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &CouponStore{pool: pool}
}

func (s *CouponStore) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := s.pool.QueryRow(ctx, `
		SELECT code, discount_percent, duration_months, max_uses, current_uses,
			valid_from, valid_until, active, created_at
		FROM coupons WHERE code = $1`,
		code).Scan(
		&c.Code, &c.DiscountPercent, &c.DurationMonths, &c.MaxUses, &c.CurrentUses,
		&c.ValidFrom, &c.ValidUntil, &c.Active, &c.CreatedAt,
	)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("select coupon: %w", err)
	}
	return &c, nil
}

func (s *CouponStore) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coupons (code, discount_percent, duration_months, max_uses,
			current_uses, valid_from, valid_until, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.Code, c.DiscountPercent, c.DurationMonths, c.MaxUses,
		c.CurrentUses, c.ValidFrom, c.ValidUntil, c.Active, c.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKey(err) {
			return coupon.ErrCouponCodeTaken
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// IncrementUsage bumps the counter with a conditional update so two
// concurrent checkouts cannot both claim the last redemption.
func (s *CouponStore) IncrementUsage(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE coupons SET current_uses = current_uses + 1
		WHERE code = $1 AND (max_uses = 0 OR current_uses < max_uses)`,
		code)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the code is unknown or the cap is reached.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("check coupon existence: %w", err)
	}
	if !exists {
		return coupon.ErrCouponNotFound
	}
	return coupon.ErrCouponExhausted
}
