package catalog

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// Source loads the plan set. Implementations: in-memory (tests), YAML file
// (deploy-time catalog), or an admin-managed table.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Catalog is an immutable, validated view over the loaded plans.
type Catalog struct {
	plans map[string]Plan
}

// New loads and validates plans from src. Validation failures abort startup
// rather than surfacing during a checkout.
func New(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("catalog: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	return &Catalog{plans: plans}, nil
}

// Get returns a plan by ID regardless of status.
func (c *Catalog) Get(id string) (Plan, error) {
	plan, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

// GetActive returns a plan by ID, failing when the plan exists but is not
// open for subscription.
func (c *Catalog) GetActive(id string) (Plan, error) {
	plan, err := c.Get(id)
	if err != nil {
		return Plan{}, err
	}
	if !plan.IsActive() {
		return Plan{}, ErrPlanInactive
	}
	return plan, nil
}

// List returns all plans sorted by ID for stable iteration.
func (c *Catalog) List() []Plan {
	ids := slices.Sorted(maps.Keys(c.plans))
	plans := make([]Plan, 0, len(ids))
	for _, id := range ids {
		plans = append(plans, c.plans[id])
	}
	return plans
}
