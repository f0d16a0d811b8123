// Package limits enforces per-plan resource caps and feature gates against
// live tenant usage. Caps come from the plan catalog; usage comes from
// counter functions registered by the owning repositories.
package limits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
)

var (
	ErrNoSubscription             = errors.New("limits: tenant has no current subscription")
	ErrTrialExpired               = errors.New("limits: trial period has expired")
	ErrLimitExceeded              = errors.New("limits: plan limit reached")
	ErrFeatureNotAvailable        = errors.New("limits: feature not included in plan")
	ErrNoCounterRegistered        = errors.New("limits: no counter registered for resource")
	ErrDowngradeNotPossible       = errors.New("limits: current usage exceeds the target plan")
	ErrFailedToCountResourceUsage = errors.New("limits: failed to count resource usage")
)

// LimitError carries the specifics of a denied creation so handlers can tell
// the user exactly which cap on which plan was hit.
type LimitError struct {
	PlanID   string
	Resource catalog.Resource
	Limit    int64
	Used     int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("plan %s allows %d %s, %d in use", e.PlanID, e.Limit, e.Resource, e.Used)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// CounterFunc returns the current usage of one resource for a tenant.
// Should be fast: count at the repository level, never load rows.
type CounterFunc func(ctx context.Context, tenantID uuid.UUID) (int64, error)

// CounterRegistry maps resources to their counters. Not safe for concurrent
// mutation: register everything at startup.
type CounterRegistry map[catalog.Resource]CounterFunc

func NewRegistry() CounterRegistry {
	return make(CounterRegistry)
}

// Register sets the counter for a resource. Panics on a nil counter so a
// miswired startup fails immediately.
func (r CounterRegistry) Register(res catalog.Resource, fn CounterFunc) {
	if fn == nil {
		panic(fmt.Sprintf("limits: CounterFunc for resource %q cannot be nil", res))
	}
	r[res] = fn
}

type bypassCtxKey struct{}

// WithBypass marks the context as exempt from limit enforcement, for platform
// admin operations acting on behalf of tenants.
func WithBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassCtxKey{}, true)
}

func hasBypass(ctx context.Context) bool {
	ok, _ := ctx.Value(bypassCtxKey{}).(bool)
	return ok
}
