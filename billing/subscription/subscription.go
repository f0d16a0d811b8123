// Package subscription owns the tenant subscription lifecycle: checkout
// orchestration, webhook-driven state transitions, plan changes and the
// periodic sweeps for trial expiry and cancel-at-period-end.
package subscription

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/gateway"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription: not found")
	ErrSubscriptionExists   = errors.New("subscription: tenant already has a current subscription")
	ErrSamePlan             = errors.New("subscription: target plan equals the current plan")
	ErrTenantNotFound       = errors.New("subscription: tenant not found")
	ErrCheckoutFailed       = errors.New("subscription: gateway rejected the checkout")
)

// Status is the subscription lifecycle state.
type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsCurrent reports whether the status counts toward the one-current-per-
// tenant invariant. Cancelled and expired rows are history.
func (s Status) IsCurrent() bool {
	return s == StatusTrialing || s == StatusActive || s == StatusPastDue
}

// Subscription ties a tenant to a plan for a billing period. A tenant
// accumulates one row per plan change; at most one row is ever current.
type Subscription struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	PlanID             string
	Cycle              catalog.BillingCycle
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
	PaymentMethod      gateway.PaymentMethod
	GatewayName        gateway.Kind
	ExternalID         string // gateway-assigned subscription id
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *Subscription) IsCurrent() bool {
	return s.Status.IsCurrent()
}

// IsTrialExpiredAt reports whether the trial window has passed, regardless of
// the stored status. Guards must use this rather than trusting the status,
// since the expiry sweep may not have run yet.
func (s *Subscription) IsTrialExpiredAt(now time.Time) bool {
	if s.Status != StatusTrialing || s.TrialEnd == nil {
		return false
	}
	return now.After(*s.TrialEnd)
}

// periodFor computes a billing period of one cycle starting at from.
func periodFor(cycle catalog.BillingCycle, from time.Time) (time.Time, time.Time) {
	if cycle == catalog.CycleYearly {
		return from, from.AddDate(1, 0, 0)
	}
	return from, from.AddDate(0, 1, 0)
}
