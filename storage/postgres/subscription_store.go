// Package postgres implements the billing store interfaces on pgx. A partial
// unique index backs the one-current-subscription-per-tenant invariant and a
// unique index on gateway payment ids backs invoice idempotency, so the
// guarantees hold across instances, not just within one process.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/subscription"
	"github.com/clinicore/backend/pkg/pg"
)

// SubscriptionStore implements subscription.Store.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &SubscriptionStore{pool: pool}
}

const subscriptionColumns = `id, tenant_id, plan_id, cycle, status,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at_period_end, cancelled_at, payment_method, gateway, external_id,
	created_at, updated_at`

func (s *SubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		sub.ID, sub.TenantID, sub.PlanID, sub.Cycle, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CancelledAt, sub.PaymentMethod, sub.GatewayName,
		sub.ExternalID, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		// The partial unique index on current rows fires when the tenant
		// already has a live subscription.
		if pg.IsDuplicateKey(err) {
			return subscription.ErrSubscriptionExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET plan_id=$2, cycle=$3, status=$4,
			current_period_start=$5, current_period_end=$6,
			trial_start=$7, trial_end=$8, cancel_at_period_end=$9,
			cancelled_at=$10, payment_method=$11, gateway=$12,
			external_id=$13, updated_at=$14
		WHERE id=$1`,
		sub.ID, sub.PlanID, sub.Cycle, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialStart, sub.TrialEnd, sub.CancelAtPeriodEnd,
		sub.CancelledAt, sub.PaymentMethod, sub.GatewayName,
		sub.ExternalID, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.scanOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (s *SubscriptionStore) CurrentByTenant(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	return s.scanOne(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1 AND status IN ('trialing','active','past_due')`,
		tenantID)
}

func (s *SubscriptionStore) GetByExternalID(ctx context.Context, name gateway.Kind, externalID string) (*subscription.Subscription, error) {
	return s.scanOne(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE gateway = $1 AND external_id = $2 AND external_id <> ''
		ORDER BY created_at DESC
		LIMIT 1`,
		name, externalID)
}

func (s *SubscriptionStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.scanMany(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'trialing' AND trial_end IS NOT NULL AND trial_end < $1`,
		now)
}

func (s *SubscriptionStore) ListDuePeriodEnds(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.scanMany(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('trialing','active','past_due')
			AND cancel_at_period_end AND current_period_end < $1`,
		now)
}

func (s *SubscriptionStore) ListCurrent(ctx context.Context) ([]*subscription.Subscription, error) {
	return s.scanMany(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('trialing','active','past_due')`)
}

func (s *SubscriptionStore) CountByStatus(ctx context.Context) (map[subscription.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	defer rows.Close()

	out := make(map[subscription.Status]int)
	for rows.Next() {
		var status subscription.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan subscription count: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (s *SubscriptionStore) scanOne(ctx context.Context, query string, args ...any) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) scanMany(ctx context.Context, query string, args ...any) ([]*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &sub.Cycle, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialStart, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CancelledAt, &sub.PaymentMethod, &sub.GatewayName,
		&sub.ExternalID, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
