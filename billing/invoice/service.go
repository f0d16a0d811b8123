package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/gateway"
)

// GatewayPaymentParams describes a confirmed gateway payment to record.
type GatewayPaymentParams struct {
	TenantID         uuid.UUID
	SubscriptionID   uuid.UUID
	PlanID           string
	Amount           catalog.Money
	Gateway          gateway.Kind
	GatewayPaymentID string
	PaymentMethod    gateway.PaymentMethod
}

// Overview is the admin billing rollup.
type Overview struct {
	CountByStatus    map[Status]int
	TotalPaidRevenue int64
	MonthPaidRevenue int64
}

// Service records payments and serves the admin billing views.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// Option configures the Service.
type Option func(*Service)

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

func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("invoice: Store is required")
	}
	s := &Service{
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordGatewayPayment creates a paid invoice with its confirmed payment for
// a gateway payment. Keyed on the gateway payment id: recording the same
// payment twice returns the existing invoice with created=false, so webhook
// redelivery never produces duplicate rows.
func (s *Service) RecordGatewayPayment(ctx context.Context, params GatewayPaymentParams) (*Invoice, bool, error) {
	if params.GatewayPaymentID == "" {
		return nil, false, ErrMissingGatewayPaymentID
	}

	if existing, err := s.store.GetByGatewayPaymentID(ctx, params.GatewayPaymentID); err == nil {
		return existing, false, nil
	} else if err != ErrInvoiceNotFound {
		return nil, false, fmt.Errorf("invoice: lookup by gateway payment id: %w", err)
	}

	now := s.now()
	paidAt := now
	inv := &Invoice{
		ID:               uuid.New(),
		Number:           newNumber(now),
		TenantID:         params.TenantID,
		SubscriptionID:   params.SubscriptionID,
		PlanID:           params.PlanID,
		Amount:           params.Amount,
		Status:           StatusPaid,
		Gateway:          params.Gateway,
		GatewayPaymentID: params.GatewayPaymentID,
		PaymentMethod:    params.PaymentMethod,
		PaidAt:           &paidAt,
		TaxStatus:        TaxStatusNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	payment := &Payment{
		ID:               uuid.New(),
		InvoiceID:        inv.ID,
		Gateway:          params.Gateway,
		GatewayPaymentID: params.GatewayPaymentID,
		Method:           params.PaymentMethod,
		Amount:           params.Amount,
		Status:           PaymentConfirmed,
		PaidAt:           &paidAt,
		CreatedAt:        now,
	}

	if err := s.store.CreatePaid(ctx, inv, payment); err != nil {
		if err == ErrPaymentAlreadyConfirmed {
			// Lost the race against a concurrent delivery of the same event.
			existing, lookupErr := s.store.GetByGatewayPaymentID(ctx, params.GatewayPaymentID)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("invoice: reload after duplicate: %w", lookupErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("invoice: create: %w", err)
	}

	s.log.InfoContext(ctx, "invoice recorded",
		"invoice_id", inv.ID,
		"number", inv.Number,
		"tenant_id", inv.TenantID,
		"amount", inv.Amount.Amount,
		"gateway", inv.Gateway,
	)
	return inv, true, nil
}

// MarkTaxPending flags the invoice as awaiting NFS-e emission.
func (s *Service) MarkTaxPending(ctx context.Context, invoiceID uuid.UUID) error {
	return s.updateTax(ctx, invoiceID, TaxStatusPending, "", "")
}

// MarkTaxIssued records a successfully emitted NFS-e.
func (s *Service) MarkTaxIssued(ctx context.Context, invoiceID uuid.UUID, taxInvoiceID string) error {
	return s.updateTax(ctx, invoiceID, TaxStatusIssued, taxInvoiceID, "")
}

// MarkTaxFailed records an emission failure with the provider's reason.
func (s *Service) MarkTaxFailed(ctx context.Context, invoiceID uuid.UUID, reason string) error {
	return s.updateTax(ctx, invoiceID, TaxStatusError, "", reason)
}

// RecordFailedAttempt appends a failed payment attempt to an existing
// invoice, keeping the provider's attempt history next to the charge.
func (s *Service) RecordFailedAttempt(ctx context.Context, invoiceID uuid.UUID, params GatewayPaymentParams) (*Payment, error) {
	if _, err := s.store.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	p := &Payment{
		ID:               uuid.New(),
		InvoiceID:        invoiceID,
		Gateway:          params.Gateway,
		GatewayPaymentID: params.GatewayPaymentID,
		Method:           params.PaymentMethod,
		Amount:           params.Amount,
		Status:           PaymentFailed,
		CreatedAt:        s.now(),
	}
	if err := s.store.AddPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("invoice: record failed attempt: %w", err)
	}
	return p, nil
}

// Payments returns the invoice's payment attempts, oldest first.
func (s *Service) Payments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return s.store.PaymentsByInvoice(ctx, invoiceID)
}

func (s *Service) updateTax(ctx context.Context, invoiceID uuid.UUID, status TaxStatus, taxInvoiceID, note string) error {
	inv, err := s.store.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	inv.TaxStatus = status
	if taxInvoiceID != "" {
		inv.TaxInvoiceID = taxInvoiceID
	}
	inv.TaxNote = note
	inv.UpdatedAt = s.now()
	return s.store.Update(ctx, inv)
}

// Get returns one invoice by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.store.GetByID(ctx, id)
}

// List returns a page of invoices newest first, plus the unpaged total.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Invoice, int, error) {
	return s.store.List(ctx, filter.normalized())
}

// ListTaxFailed returns invoices whose NFS-e emission failed, for reprocessing.
func (s *Service) ListTaxFailed(ctx context.Context) ([]*Invoice, error) {
	return s.store.ListByTaxStatus(ctx, TaxStatusError)
}

// Overview computes the admin billing rollup. Month revenue covers paid
// invoices since the first instant of the current calendar month in UTC.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	agg, err := s.store.Aggregates(ctx, monthStart)
	if err != nil {
		return Overview{}, fmt.Errorf("invoice: aggregates: %w", err)
	}
	return Overview{
		CountByStatus:    agg.CountByStatus,
		TotalPaidRevenue: agg.TotalPaidRevenue,
		MonthPaidRevenue: agg.MonthPaidRevenue,
	}, nil
}
