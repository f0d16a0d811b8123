package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/coupon"
	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/invoice"
	"github.com/clinicore/backend/pkg/idempotency"
	"github.com/clinicore/backend/pkg/statemachine"
)

// pendingPaymentGrace bounds how long a no-trial subscription may sit in
// trialing while its first payment is in flight. Boleto settlement can take
// days, so the window is generous; the trial-expiry sweep reclaims the rest.
const pendingPaymentGrace = 3 * 24 * time.Hour

// TenantInfo is the billing-relevant slice of a tenant record.
type TenantInfo struct {
	ID    uuid.UUID
	Name  string
	Email string
	TaxID string // CPF or CNPJ, required by the Brazilian gateways
}

// TenantDirectory resolves tenants for checkout. Implementations return
// ErrTenantNotFound for unknown ids.
type TenantDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*TenantInfo, error)
}

// CouponEngine is the slice of the coupon service checkout needs.
type CouponEngine interface {
	Validate(ctx context.Context, code string) (*coupon.Coupon, error)
	Apply(ctx context.Context, code string) (*coupon.Coupon, error)
}

// InvoiceRecorder records confirmed gateway payments.
type InvoiceRecorder interface {
	RecordGatewayPayment(ctx context.Context, params invoice.GatewayPaymentParams) (*invoice.Invoice, bool, error)
}

// TaxEmitter issues an NFS-e for a paid invoice. Emission is best effort:
// failures are recorded on the invoice, never propagated to the webhook flow.
type TaxEmitter interface {
	EmitForInvoice(ctx context.Context, inv *invoice.Invoice) error
}

// Service orchestrates the subscription lifecycle.
type Service struct {
	store     Store
	catalog   *catalog.Catalog
	gateways  *gateway.Registry
	tenants   TenantDirectory
	invoices  InvoiceRecorder
	coupons   CouponEngine
	tax       TaxEmitter
	guard     idempotency.Guard
	notifier  Notifier
	audit     AuditLog
	lifecycle *statemachine.Machine
	log       *slog.Logger
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithCoupons enables coupon codes at checkout.
func WithCoupons(engine CouponEngine) Option {
	return func(s *Service) { s.coupons = engine }
}

// WithTaxEmitter enables automatic NFS-e emission for plans carrying the
// auto_tax_invoice feature.
func WithTaxEmitter(emitter TaxEmitter) Option {
	return func(s *Service) { s.tax = emitter }
}

// WithIdempotencyGuard deduplicates webhook events by provider event id.
// Without a guard, deduplication still happens at the invoice level.
func WithIdempotencyGuard(guard idempotency.Guard) Option {
	return func(s *Service) { s.guard = guard }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, cat *catalog.Catalog, gateways *gateway.Registry, tenants TenantDirectory, invoices InvoiceRecorder, opts ...Option) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if cat == nil {
		panic("subscription: catalog is required")
	}
	if gateways == nil {
		panic("subscription: gateway registry is required")
	}
	if tenants == nil {
		panic("subscription: tenant directory is required")
	}
	if invoices == nil {
		panic("subscription: invoice recorder is required")
	}

	s := &Service{
		store:     store,
		catalog:   cat,
		gateways:  gateways,
		tenants:   tenants,
		invoices:  invoices,
		notifier:  noopNotifier{},
		audit:     noopAudit{},
		lifecycle: newLifecycle(),
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckoutInput starts a subscription purchase.
type CheckoutInput struct {
	TenantID   uuid.UUID
	PlanID     string
	Cycle      catalog.BillingCycle
	Gateway    string
	Method     gateway.PaymentMethod
	CouponCode string
}

// CheckoutOutput is the created subscription plus the provider checkout
// artifacts. Payment is nil when no charge was needed.
type CheckoutOutput struct {
	Subscription *Subscription
	Payment      *gateway.CheckoutResult
}

// Checkout validates the plan, prices it, applies an optional coupon and
// hands the charge to the chosen gateway. The subscription row is created
// before the gateway call so the webhook can always correlate back to it.
// When the amount after discount is zero no gateway is involved at all.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutOutput, error) {
	plan, err := s.catalog.GetActive(input.PlanID)
	if err != nil {
		return nil, err
	}
	if !input.Cycle.Valid() {
		input.Cycle = catalog.CycleMonthly
	}
	price, err := plan.PriceFor(input.Cycle)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.CurrentByTenant(ctx, input.TenantID); err == nil {
		return nil, ErrSubscriptionExists
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("subscription: current lookup: %w", err)
	}

	tenant, err := s.tenants.Get(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}

	amount := price.Amount
	var appliedCoupon *coupon.Coupon
	if input.CouponCode != "" {
		if s.coupons == nil {
			return nil, coupon.ErrCouponNotFound
		}
		appliedCoupon, err = s.coupons.Validate(ctx, input.CouponCode)
		if err != nil {
			return nil, err
		}
		amount = appliedCoupon.DiscountedAmount(amount)
	}

	now := s.now()
	sub := &Subscription{
		ID:            uuid.New(),
		TenantID:      input.TenantID,
		PlanID:        plan.ID,
		Cycle:         input.Cycle,
		PaymentMethod: input.Method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if amount == 0 {
		return s.checkoutFree(ctx, sub, plan, now, input.CouponCode)
	}

	// Paid path: the row starts in trialing and is promoted to active by the
	// payment.succeeded webhook. Plans without a trial get a short grace
	// window instead, reclaimed by the expiry sweep if payment never lands.
	trialEnd := plan.TrialEndsAt(now)
	if plan.TrialDays <= 0 {
		trialEnd = now.Add(pendingPaymentGrace)
	}
	sub.Status = StatusTrialing
	sub.TrialStart = &now
	sub.TrialEnd = &trialEnd
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = trialEnd

	gw, err := s.gateways.Get(input.Gateway)
	if err != nil {
		return nil, err
	}
	sub.GatewayName = gw.Name()

	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscription: create: %w", err)
	}

	discountPercent := 0
	if appliedCoupon != nil {
		discountPercent = appliedCoupon.DiscountPercent
	}
	result, err := gw.CreateCheckout(ctx, gateway.CheckoutParams{
		TenantID:        tenant.ID,
		SubscriptionID:  sub.ID,
		PlanID:          plan.ID,
		PlanName:        plan.DisplayName,
		Amount:          amount,
		Currency:        price.Currency,
		Cycle:           input.Cycle,
		CustomerName:    tenant.Name,
		CustomerEmail:   tenant.Email,
		CustomerTaxID:   tenant.TaxID,
		Method:          input.Method,
		DiscountPercent: discountPercent,
		Metadata: map[string]string{
			"tenant_id":       tenant.ID.String(),
			"subscription_id": sub.ID.String(),
		},
	})
	if err != nil {
		// The row stays trialing; the expiry sweep reclaims it if the
		// tenant never retries.
		return nil, fmt.Errorf("subscription: gateway checkout: %w", err)
	}

	if result.Status != gateway.CheckoutFailed && input.CouponCode != "" {
		if _, err := s.coupons.Apply(ctx, input.CouponCode); err != nil {
			// Validated moments ago; losing the race to the last use is the
			// only way here. The tenant keeps the discounted charge.
			s.log.WarnContext(ctx, "coupon apply failed after checkout",
				"code", input.CouponCode, "subscription_id", sub.ID, "error", err)
		}
	}

	s.log.InfoContext(ctx, "checkout created",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"plan_id", plan.ID,
		"gateway", sub.GatewayName,
		"amount", amount,
		"status", result.Status,
	)
	return &CheckoutOutput{Subscription: sub, Payment: result}, nil
}

// checkoutFree activates a subscription that needs no charge: free plans and
// checkouts discounted to zero.
func (s *Service) checkoutFree(ctx context.Context, sub *Subscription, plan catalog.Plan, now time.Time, couponCode string) (*CheckoutOutput, error) {
	if plan.TrialDays > 0 {
		trialEnd := plan.TrialEndsAt(now)
		sub.Status = StatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = trialEnd
	} else {
		sub.Status = StatusActive
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd = periodFor(sub.Cycle, now)
	}

	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscription: create: %w", err)
	}

	if couponCode != "" {
		if _, err := s.coupons.Apply(ctx, couponCode); err != nil {
			s.log.WarnContext(ctx, "coupon apply failed after free checkout",
				"code", couponCode, "subscription_id", sub.ID, "error", err)
		}
	}

	s.log.InfoContext(ctx, "subscription created without charge",
		"subscription_id", sub.ID, "tenant_id", sub.TenantID, "plan_id", plan.ID, "status", sub.Status)
	return &CheckoutOutput{Subscription: sub}, nil
}

// HandleWebhookEvent applies one verified, normalized gateway event. The
// handler is idempotent end to end: a dedup guard drops redelivered event
// ids, the state machine treats repeated transitions as no-ops, and invoice
// creation is keyed on the gateway payment id. Events that cannot be matched
// to a local subscription are logged and dropped, never failed, so the
// gateway does not retry them forever.
func (s *Service) HandleWebhookEvent(ctx context.Context, event *gateway.Event) error {
	if event == nil || event.Type == gateway.EventUnknown {
		if event != nil {
			s.log.DebugContext(ctx, "ignoring unrecognized gateway event", "gateway", event.Gateway, "event_id", event.EventID)
		}
		return nil
	}

	if s.guard != nil && event.EventID != "" {
		first, err := s.guard.FirstSeen(ctx, string(event.Gateway)+":"+event.EventID)
		if err != nil {
			// Processing stays idempotent without the guard, so a dedup
			// outage must not block payment handling.
			s.log.WarnContext(ctx, "idempotency guard unavailable", "error", err)
		} else if !first {
			s.log.InfoContext(ctx, "duplicate gateway event dropped", "gateway", event.Gateway, "event_id", event.EventID)
			return nil
		}
	}

	sub := s.resolveSubscription(ctx, event)
	if sub == nil {
		s.log.WarnContext(ctx, "gateway event references unknown subscription",
			"gateway", event.Gateway, "event_id", event.EventID,
			"provider_subscription_id", event.SubscriptionID, "type", event.Type)
		return nil
	}

	switch event.Type {
	case gateway.EventCheckoutCompleted, gateway.EventPaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, sub, event)
	case gateway.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, sub, event)
	case gateway.EventSubscriptionCancelled:
		return s.handleProviderCancelled(ctx, sub, event)
	default:
		s.log.DebugContext(ctx, "unhandled gateway event type", "type", event.Type)
		return nil
	}
}

// resolveSubscription matches the event to a local row, preferring the local
// id carried through checkout metadata over the provider's subscription id.
func (s *Service) resolveSubscription(ctx context.Context, event *gateway.Event) *Subscription {
	if localID := event.LocalSubscriptionID(); localID != "" {
		if id, err := uuid.Parse(localID); err == nil {
			if sub, err := s.store.GetByID(ctx, id); err == nil {
				return sub
			}
		}
	}
	if event.SubscriptionID != "" {
		if sub, err := s.store.GetByExternalID(ctx, event.Gateway, event.SubscriptionID); err == nil {
			return sub
		}
	}
	return nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, sub *Subscription, event *gateway.Event) error {
	changed, err := s.fire(ctx, sub, eventPaymentSucceeded)
	if err != nil {
		return fmt.Errorf("subscription: activate: %w", err)
	}
	if !changed {
		// Terminal row; the payment arrived after cancellation or expiry.
		s.log.WarnContext(ctx, "payment for non-current subscription ignored",
			"subscription_id", sub.ID, "status", sub.Status, "event_id", event.EventID)
		return nil
	}

	now := s.now()
	if event.SubscriptionID != "" {
		sub.ExternalID = event.SubscriptionID
	}
	sub.CurrentPeriodStart, sub.CurrentPeriodEnd = periodFor(sub.Cycle, now)
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("subscription: persist activation: %w", err)
	}

	plan, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return fmt.Errorf("subscription: plan %s vanished from catalog: %w", sub.PlanID, err)
	}

	price, err := plan.PriceFor(sub.Cycle)
	if err != nil {
		// The plan stopped pricing this cycle after checkout. The monthly
		// price is always present and keeps the invoice amount and currency
		// meaningful.
		s.log.WarnContext(ctx, "plan no longer prices subscription cycle, using monthly price",
			"subscription_id", sub.ID, "plan_id", sub.PlanID, "cycle", sub.Cycle)
		price = plan.PriceMonthly
	}
	amount := event.Amount
	if amount <= 0 {
		amount = price.Amount
	}

	inv, created, err := s.invoices.RecordGatewayPayment(ctx, invoice.GatewayPaymentParams{
		TenantID:         sub.TenantID,
		SubscriptionID:   sub.ID,
		PlanID:           sub.PlanID,
		Amount:           catalog.Money{Amount: amount, Currency: price.Currency},
		Gateway:          event.Gateway,
		GatewayPaymentID: event.PaymentID,
		PaymentMethod:    sub.PaymentMethod,
	})
	if err != nil {
		return fmt.Errorf("subscription: record payment: %w", err)
	}

	s.log.InfoContext(ctx, "subscription activated",
		"subscription_id", sub.ID, "tenant_id", sub.TenantID,
		"invoice_id", inv.ID, "invoice_created", created)
	if created {
		s.announce(ctx, NotifyActivated, sub)
	}

	if created && s.tax != nil && plan.HasFeature(catalog.FeatureAutoTaxInvoice) {
		if err := s.tax.EmitForInvoice(ctx, inv); err != nil {
			s.log.WarnContext(ctx, "tax invoice emission failed",
				"invoice_id", inv.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, sub *Subscription, event *gateway.Event) error {
	changed, err := s.fire(ctx, sub, eventPaymentFailed)
	if err != nil {
		return fmt.Errorf("subscription: mark past due: %w", err)
	}
	if !changed {
		s.log.InfoContext(ctx, "payment failure ignored for subscription state",
			"subscription_id", sub.ID, "status", sub.Status, "event_id", event.EventID)
		return nil
	}
	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("subscription: persist past due: %w", err)
	}
	s.log.InfoContext(ctx, "subscription past due",
		"subscription_id", sub.ID, "tenant_id", sub.TenantID, "event_id", event.EventID)
	s.announce(ctx, NotifyPastDue, sub)
	return nil
}

func (s *Service) handleProviderCancelled(ctx context.Context, sub *Subscription, event *gateway.Event) error {
	changed, err := s.fire(ctx, sub, eventCancelled)
	if err != nil {
		return fmt.Errorf("subscription: cancel: %w", err)
	}
	if !changed {
		return nil
	}
	now := s.now()
	sub.CancelledAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("subscription: persist cancellation: %w", err)
	}
	s.log.InfoContext(ctx, "subscription cancelled by provider",
		"subscription_id", sub.ID, "tenant_id", sub.TenantID, "event_id", event.EventID)
	s.announce(ctx, NotifyCancelled, sub)
	return nil
}

// Current returns the tenant's current subscription.
func (s *Service) Current(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.store.CurrentByTenant(ctx, tenantID)
}

// ChangePlan moves the tenant to a new plan by cancelling the current
// subscription and creating a fresh one that inherits the payment
// arrangement. Requesting the plan and cycle already in force is a no-op
// returning the current subscription, so retried requests never stack rows.
func (s *Service) ChangePlan(ctx context.Context, tenantID uuid.UUID, newPlanID string, cycle catalog.BillingCycle) (*Subscription, error) {
	current, err := s.store.CurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !cycle.Valid() {
		cycle = current.Cycle
	}
	if current.PlanID == newPlanID && current.Cycle == cycle {
		return current, nil
	}

	plan, err := s.catalog.GetActive(newPlanID)
	if err != nil {
		return nil, err
	}
	if _, err := plan.PriceFor(cycle); err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := s.fire(ctx, current, eventCancelled); err != nil {
		return nil, fmt.Errorf("subscription: cancel superseded: %w", err)
	}
	current.CancelledAt = &now
	current.UpdatedAt = now
	if err := s.store.Update(ctx, current); err != nil {
		return nil, fmt.Errorf("subscription: persist superseded: %w", err)
	}

	next := &Subscription{
		ID:            uuid.New(),
		TenantID:      tenantID,
		PlanID:        plan.ID,
		Cycle:         cycle,
		Status:        StatusActive,
		PaymentMethod: current.PaymentMethod,
		GatewayName:   current.GatewayName,
		ExternalID:    current.ExternalID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	next.CurrentPeriodStart, next.CurrentPeriodEnd = periodFor(cycle, now)

	// A tenant still inside its trial keeps the remaining window.
	if current.Status == StatusTrialing && current.TrialEnd != nil && now.Before(*current.TrialEnd) {
		next.Status = StatusTrialing
		next.TrialStart = current.TrialStart
		next.TrialEnd = current.TrialEnd
		next.CurrentPeriodStart = now
		next.CurrentPeriodEnd = *current.TrialEnd
	}

	if err := s.store.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("subscription: create replacement: %w", err)
	}

	s.log.InfoContext(ctx, "plan changed",
		"tenant_id", tenantID, "from_plan", current.PlanID, "to_plan", plan.ID,
		"old_subscription_id", current.ID, "new_subscription_id", next.ID)
	s.announce(ctx, NotifyPlanChanged, next)
	return next, nil
}

// CancelResult reports a cancellation plus any non-fatal provider warnings.
type CancelResult struct {
	Subscription *Subscription
	Warnings     []string
}

// Cancel ends the tenant's current subscription immediately. The provider-side
// cancellation is best effort: a gateway failure becomes a warning while the
// local row is cancelled regardless, so access revocation never depends on
// provider availability.
func (s *Service) Cancel(ctx context.Context, tenantID uuid.UUID) (*CancelResult, error) {
	sub, err := s.store.CurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if sub.ExternalID != "" {
		gw, err := s.gateways.Get(string(sub.GatewayName))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("gateway %s is not configured, provider subscription %s was not cancelled", sub.GatewayName, sub.ExternalID))
		} else if err := gw.CancelSubscription(ctx, sub.ExternalID); err != nil {
			warnings = append(warnings, fmt.Sprintf("provider cancellation failed: %v", err))
			s.log.WarnContext(ctx, "provider cancellation failed",
				"subscription_id", sub.ID, "gateway", sub.GatewayName, "error", err)
		}
	}

	now := s.now()
	if _, err := s.fire(ctx, sub, eventCancelled); err != nil {
		return nil, fmt.Errorf("subscription: cancel: %w", err)
	}
	sub.CancelledAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscription: persist cancellation: %w", err)
	}

	s.log.InfoContext(ctx, "subscription cancelled",
		"subscription_id", sub.ID, "tenant_id", tenantID, "warnings", len(warnings))
	s.announce(ctx, NotifyCancelled, sub)
	return &CancelResult{Subscription: sub, Warnings: warnings}, nil
}

// SetCancelAtPeriodEnd flags or unflags the current subscription for
// cancellation when its period ends. The period-end sweep performs the
// actual transition.
func (s *Service) SetCancelAtPeriodEnd(ctx context.Context, tenantID uuid.UUID, flag bool) (*Subscription, error) {
	sub, err := s.store.CurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.CancelAtPeriodEnd == flag {
		return sub, nil
	}
	sub.CancelAtPeriodEnd = flag
	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscription: persist flag: %w", err)
	}
	return sub, nil
}

// ExpireTrials moves trialing subscriptions past their trial end to expired.
// Run periodically by the scheduler; returns the number of rows transitioned.
func (s *Service) ExpireTrials(ctx context.Context) (int, error) {
	subs, err := s.store.ListExpiredTrials(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("subscription: list expired trials: %w", err)
	}

	expired := 0
	for _, sub := range subs {
		changed, err := s.fire(ctx, sub, eventTrialExpired)
		if err != nil || !changed {
			continue
		}
		sub.UpdatedAt = s.now()
		if err := s.store.Update(ctx, sub); err != nil {
			s.log.ErrorContext(ctx, "failed to expire trial",
				"subscription_id", sub.ID, "error", err)
			continue
		}
		expired++
		s.log.InfoContext(ctx, "trial expired",
			"subscription_id", sub.ID, "tenant_id", sub.TenantID)
		s.announce(ctx, NotifyTrialExpired, sub)
	}
	return expired, nil
}

// ProcessPeriodEnds cancels subscriptions flagged cancel-at-period-end whose
// period has lapsed. Run periodically by the scheduler.
func (s *Service) ProcessPeriodEnds(ctx context.Context) (int, error) {
	subs, err := s.store.ListDuePeriodEnds(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("subscription: list due period ends: %w", err)
	}

	cancelled := 0
	for _, sub := range subs {
		changed, err := s.fire(ctx, sub, eventPeriodEnded)
		if err != nil || !changed {
			continue
		}
		now := s.now()
		sub.CancelledAt = &now
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			s.log.ErrorContext(ctx, "failed to cancel at period end",
				"subscription_id", sub.ID, "error", err)
			continue
		}
		cancelled++
		s.log.InfoContext(ctx, "subscription cancelled at period end",
			"subscription_id", sub.ID, "tenant_id", sub.TenantID)
		s.announce(ctx, NotifyCancelled, sub)
	}
	return cancelled, nil
}

// MRR sums the monthly-equivalent price of every active subscription, in
// minor currency units. Trialing and past-due rows do not count.
func (s *Service) MRR(ctx context.Context) (int64, error) {
	subs, err := s.store.ListCurrent(ctx)
	if err != nil {
		return 0, fmt.Errorf("subscription: list current: %w", err)
	}

	var total int64
	for _, sub := range subs {
		if sub.Status != StatusActive {
			continue
		}
		plan, err := s.catalog.Get(sub.PlanID)
		if err != nil {
			s.log.WarnContext(ctx, "active subscription references unknown plan",
				"subscription_id", sub.ID, "plan_id", sub.PlanID)
			continue
		}
		total += plan.MonthlyEquivalent(sub.Cycle)
	}
	return total, nil
}

// CountByStatus returns subscription counts keyed by lifecycle status.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.store.CountByStatus(ctx)
}
