package limits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/subscription"
)

// SubscriptionResolver returns the tenant's current subscription.
type SubscriptionResolver interface {
	Current(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error)
}

// UsageInfo is one resource's usage against its cap.
type UsageInfo struct {
	Current int64
	Limit   int64 // -1 for unlimited
}

// Enforcer answers "may this tenant create one more X" from the plan caps of
// the tenant's current subscription. Trial expiry is judged by timestamp, not
// the stored status, so a tenant the expiry sweep has not reached yet is
// still denied.
type Enforcer struct {
	catalog  *catalog.Catalog
	subs     SubscriptionResolver
	counters CounterRegistry
	now      func() time.Time
}

// Option configures the Enforcer.
type Option func(*Enforcer)

// WithClock overrides the time source, for tests exercising trial windows.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEnforcer(cat *catalog.Catalog, subs SubscriptionResolver, counters CounterRegistry, opts ...Option) *Enforcer {
	if cat == nil {
		panic("limits: catalog is required")
	}
	if subs == nil {
		panic("limits: SubscriptionResolver is required")
	}
	if counters == nil {
		counters = NewRegistry()
	}
	e := &Enforcer{
		catalog:  cat,
		subs:     subs,
		counters: counters,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// plan resolves the tenant's current plan, rejecting expired trials.
func (e *Enforcer) plan(ctx context.Context, tenantID uuid.UUID) (catalog.Plan, error) {
	sub, err := e.subs.Current(ctx, tenantID)
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return catalog.Plan{}, ErrNoSubscription
		}
		return catalog.Plan{}, err
	}
	if sub.IsTrialExpiredAt(e.now()) {
		return catalog.Plan{}, ErrTrialExpired
	}
	return e.catalog.Get(sub.PlanID)
}

// CanCreate checks whether the tenant may create one more instance of res.
// Returns nil for unlimited resources and bypassed contexts; a *LimitError
// when the cap is hit.
func (e *Enforcer) CanCreate(ctx context.Context, tenantID uuid.UUID, res catalog.Resource) error {
	if hasBypass(ctx) {
		return nil
	}

	plan, err := e.plan(ctx, tenantID)
	if err != nil {
		return err
	}

	limit := plan.CapFor(res)
	if limit == catalog.Unlimited {
		return nil
	}

	counter, ok := e.counters[res]
	if !ok {
		return ErrNoCounterRegistered
	}
	used, err := counter(ctx, tenantID)
	if err != nil {
		return errors.Join(ErrFailedToCountResourceUsage, err)
	}

	if used >= limit {
		return &LimitError{PlanID: plan.ID, Resource: res, Limit: limit, Used: used}
	}
	return nil
}

// HasFeature reports whether the tenant's plan includes the feature. Expired
// trials and missing subscriptions read as not available.
func (e *Enforcer) HasFeature(ctx context.Context, tenantID uuid.UUID, feature catalog.Feature) bool {
	plan, err := e.plan(ctx, tenantID)
	if err != nil {
		return false
	}
	return plan.HasFeature(feature)
}

// RequireFeature is HasFeature as an error, for handler guards.
func (e *Enforcer) RequireFeature(ctx context.Context, tenantID uuid.UUID, feature catalog.Feature) error {
	if hasBypass(ctx) {
		return nil
	}
	if !e.HasFeature(ctx, tenantID, feature) {
		return ErrFeatureNotAvailable
	}
	return nil
}

// Usage returns current usage and the cap for one resource.
func (e *Enforcer) Usage(ctx context.Context, tenantID uuid.UUID, res catalog.Resource) (used, limit int64, err error) {
	plan, err := e.plan(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	limit = plan.CapFor(res)

	counter, ok := e.counters[res]
	if !ok {
		return 0, limit, ErrNoCounterRegistered
	}
	used, err = counter(ctx, tenantID)
	if err != nil {
		return 0, limit, errors.Join(ErrFailedToCountResourceUsage, err)
	}
	return used, limit, nil
}

// UsagePercentage returns usage as 0..100, or -1 for unlimited resources.
// Errors read as zero so dashboards degrade instead of failing.
func (e *Enforcer) UsagePercentage(ctx context.Context, tenantID uuid.UUID, res catalog.Resource) int {
	used, limit, err := e.Usage(ctx, tenantID, res)
	if err != nil {
		return 0
	}
	if limit == catalog.Unlimited {
		return -1
	}
	if limit == 0 {
		return 100
	}
	return min(int((used*100)/limit), 100)
}

// AllUsage returns usage for every capped resource on the tenant's plan.
// Counter errors leave that resource's usage at zero.
func (e *Enforcer) AllUsage(ctx context.Context, tenantID uuid.UUID) (map[catalog.Resource]UsageInfo, error) {
	plan, err := e.plan(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := make(map[catalog.Resource]UsageInfo, len(plan.Caps))
	for res, limit := range plan.Caps {
		info := UsageInfo{Limit: limit}
		if counter, ok := e.counters[res]; ok {
			if used, err := counter(ctx, tenantID); err == nil {
				info.Current = used
			}
		}
		result[res] = info
	}
	return result, nil
}

// CanDowngrade checks whether the tenant's current usage fits inside the
// target plan's caps, so a plan change never strands a tenant over limit.
func (e *Enforcer) CanDowngrade(ctx context.Context, tenantID uuid.UUID, targetPlanID string) error {
	target, err := e.catalog.Get(targetPlanID)
	if err != nil {
		return err
	}

	for res, limit := range target.Caps {
		if limit == catalog.Unlimited {
			continue
		}
		counter, ok := e.counters[res]
		if !ok {
			// Nothing to verify against.
			continue
		}
		used, err := counter(ctx, tenantID)
		if err != nil {
			return errors.Join(ErrFailedToCountResourceUsage, err)
		}
		if used > limit {
			return ErrDowngradeNotPossible
		}
	}
	return nil
}
