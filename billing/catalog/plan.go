// Package catalog holds the pricing tiers a clinic can subscribe to: prices
// per billing cycle, feature flags and numeric caps on tenant resources.
// Plans are admin-managed and effectively static at runtime; editing a plan
// never retroactively alters subscriptions already referencing it.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrPlanNotFound             = errors.New("catalog: plan not found")
	ErrPlanInactive             = errors.New("catalog: plan is inactive")
	ErrInvalidPlanConfiguration = errors.New("catalog: invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("catalog: failed to load plans")
	ErrCycleNotAvailable        = errors.New("catalog: billing cycle not available for plan")
)

// Money is an amount in the smallest currency unit (centavos for BRL).
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// BillingCycle is the subscription billing frequency.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// PlanStatus marks whether a plan can be subscribed to.
type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanInactive PlanStatus = "inactive"
)

// Resource is a countable tenant resource constrained by plan caps.
type Resource string

const (
	ResourcePatients             Resource = "patients"
	ResourceDentists             Resource = "dentists"
	ResourceAppointmentsPerMonth Resource = "appointments_per_month"
)

// Unlimited marks a resource with no cap (-1 for SQL compatibility).
const Unlimited int64 = -1

// Feature is a plan-level capability flag.
type Feature string

const (
	FeatureAutoTaxInvoice Feature = "auto_tax_invoice"
	FeatureWhatsApp       Feature = "whatsapp"
	FeatureAIAssist       Feature = "ai_assist"
	FeatureReports        Feature = "reports"
	FeatureOdontogram     Feature = "odontogram"
)

// Plan describes a pricing tier.
type Plan struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	DisplayName  string             `yaml:"display_name"`
	Status       PlanStatus         `yaml:"status"`
	PriceMonthly Money              `yaml:"price_monthly"`
	PriceYearly  *Money             `yaml:"price_yearly"` // nil when the plan has no yearly option
	Caps         map[Resource]int64 `yaml:"caps"`         // -1 or absent resource = unlimited
	Features     []Feature          `yaml:"features"`
	TrialDays    int                `yaml:"trial_days"`
}

func (p Plan) IsActive() bool {
	return p.Status == PlanActive
}

// PriceFor resolves the charge for the requested cycle: the yearly price when
// present and requested, the monthly price otherwise.
func (p Plan) PriceFor(cycle BillingCycle) (Money, error) {
	switch cycle {
	case CycleYearly:
		if p.PriceYearly != nil {
			return *p.PriceYearly, nil
		}
		return Money{}, fmt.Errorf("%w: plan %s has no yearly price", ErrCycleNotAvailable, p.ID)
	case CycleMonthly:
		return p.PriceMonthly, nil
	default:
		return Money{}, fmt.Errorf("%w: unknown cycle %q", ErrCycleNotAvailable, cycle)
	}
}

// MonthlyEquivalent returns the plan price normalized to one month for the
// given cycle: the yearly price divided by twelve, or the monthly price.
// Used by the MRR aggregate.
func (p Plan) MonthlyEquivalent(cycle BillingCycle) int64 {
	if cycle == CycleYearly && p.PriceYearly != nil {
		return p.PriceYearly.Amount / 12
	}
	return p.PriceMonthly.Amount
}

// CapFor returns the cap for a resource. Absent resources are unlimited.
func (p Plan) CapFor(res Resource) int64 {
	cap, ok := p.Caps[res]
	if !ok {
		return Unlimited
	}
	return cap
}

func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// TrialEndsAt returns when the trial started at the given time ends.
// Returns startedAt unchanged when the plan has no trial.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// Validate catches configuration mistakes early, before any checkout can
// reference a broken plan.
func validatePlans(plans map[string]Plan) error {
	for id, plan := range plans {
		if plan.ID != id {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", id, plan.ID))
		}
		if plan.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", id, plan.TrialDays))
		}
		if plan.PriceMonthly.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative monthly price", id))
		}
		if plan.PriceYearly != nil && plan.PriceYearly.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative yearly price", id))
		}
		for res, cap := range plan.Caps {
			if cap < Unlimited {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has invalid cap %d for %s", id, cap, res))
			}
		}
	}
	return nil
}
