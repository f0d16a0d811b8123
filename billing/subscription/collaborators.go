package subscription

import (
	"context"

	"github.com/google/uuid"
)

// NotificationKind names a lifecycle change worth telling the tenant about.
type NotificationKind string

const (
	NotifyActivated    NotificationKind = "subscription.activated"
	NotifyPastDue      NotificationKind = "subscription.past_due"
	NotifyCancelled    NotificationKind = "subscription.cancelled"
	NotifyTrialExpired NotificationKind = "subscription.trial_expired"
	NotifyPlanChanged  NotificationKind = "subscription.plan_changed"
)

// Notifier delivers subscription lifecycle notifications to the tenant.
// Delivery lives outside this service; implementations handle their own
// failures and must not block.
type Notifier interface {
	Notify(ctx context.Context, tenantID uuid.UUID, kind NotificationKind, sub *Subscription)
}

// AuditLog records billing actions on the platform audit trail.
type AuditLog interface {
	Emit(ctx context.Context, tenantID uuid.UUID, action string, details map[string]any)
}

// WithNotifier sets the lifecycle notification sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAuditLog sets the audit event sink.
func WithAuditLog(a AuditLog) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, uuid.UUID, NotificationKind, *Subscription) {}

type noopAudit struct{}

func (noopAudit) Emit(context.Context, uuid.UUID, string, map[string]any) {}

// announce fans a lifecycle change out to the notifier and the audit trail.
func (s *Service) announce(ctx context.Context, kind NotificationKind, sub *Subscription) {
	s.notifier.Notify(ctx, sub.TenantID, kind, sub)
	s.audit.Emit(ctx, sub.TenantID, string(kind), map[string]any{
		"subscription_id": sub.ID.String(),
		"plan_id":         sub.PlanID,
		"status":          string(sub.Status),
	})
}
