package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/gateway"
)

// Store persists subscriptions. Implementations must enforce the invariant
// that a tenant has at most one current (trialing, active or past_due) row.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// CurrentByTenant returns the tenant's current subscription, or
	// ErrSubscriptionNotFound when the tenant has none.
	CurrentByTenant(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	// GetByExternalID resolves a subscription by the id the gateway assigned it.
	GetByExternalID(ctx context.Context, name gateway.Kind, externalID string) (*Subscription, error)
	// ListExpiredTrials returns trialing subscriptions whose trial ended before now.
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*Subscription, error)
	// ListDuePeriodEnds returns current subscriptions flagged cancel-at-period-end
	// whose period ended before now.
	ListDuePeriodEnds(ctx context.Context, now time.Time) ([]*Subscription, error)
	// ListCurrent returns every current subscription across tenants.
	ListCurrent(ctx context.Context) ([]*Subscription, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
