package nfse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/invoice"
)

// Customer is the NFS-e recipient.
type Customer struct {
	Name  string
	Email string
	TaxID string
}

// CustomerResolver looks up the billing customer behind a tenant.
type CustomerResolver interface {
	Customer(ctx context.Context, tenantID uuid.UUID) (*Customer, error)
}

// CustomerResolverFunc adapts a function to CustomerResolver.
type CustomerResolverFunc func(ctx context.Context, tenantID uuid.UUID) (*Customer, error)

func (f CustomerResolverFunc) Customer(ctx context.Context, tenantID uuid.UUID) (*Customer, error) {
	return f(ctx, tenantID)
}

// Invoices is the slice of the invoice service emission touches.
type Invoices interface {
	Get(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)
	MarkTaxPending(ctx context.Context, invoiceID uuid.UUID) error
	MarkTaxIssued(ctx context.Context, invoiceID uuid.UUID, taxInvoiceID string) error
	MarkTaxFailed(ctx context.Context, invoiceID uuid.UUID, reason string) error
	ListTaxFailed(ctx context.Context) ([]*invoice.Invoice, error)
}

// Service drives NFS-e emission for paid invoices and retries failed ones.
type Service struct {
	emitter   Emitter
	invoices  Invoices
	customers CustomerResolver
	log       *slog.Logger
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

func NewService(emitter Emitter, invoices Invoices, customers CustomerResolver, opts ...Option) *Service {
	if emitter == nil {
		panic("nfse: Emitter is required")
	}
	if invoices == nil {
		panic("nfse: Invoices is required")
	}
	if customers == nil {
		panic("nfse: CustomerResolver is required")
	}
	s := &Service{
		emitter:   emitter,
		invoices:  invoices,
		customers: customers,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmitForInvoice issues an NFS-e for a paid invoice. Every failure path lands
// on the invoice as a failed tax status with the provider's reason, so the
// admin reprocess flow can pick it up later.
func (s *Service) EmitForInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if err := s.invoices.MarkTaxPending(ctx, inv.ID); err != nil {
		return fmt.Errorf("nfse: mark pending: %w", err)
	}

	customer, err := s.customers.Customer(ctx, inv.TenantID)
	if err != nil {
		reason := fmt.Sprintf("customer lookup failed: %v", err)
		if markErr := s.invoices.MarkTaxFailed(ctx, inv.ID, reason); markErr != nil {
			s.log.ErrorContext(ctx, "failed to record tax failure", "invoice_id", inv.ID, "error", markErr)
		}
		return fmt.Errorf("nfse: %s", reason)
	}

	receipt, err := s.emitter.Emit(ctx, EmitParams{
		InvoiceID:          inv.ID,
		Reference:          inv.Number,
		Amount:             inv.Amount.Amount,
		Currency:           inv.Amount.Currency,
		ServiceDescription: fmt.Sprintf("Assinatura de software de gestão, plano %s, fatura %s", inv.PlanID, inv.Number),
		CustomerName:       customer.Name,
		CustomerEmail:      customer.Email,
		CustomerTaxID:      customer.TaxID,
	})
	if err != nil {
		if markErr := s.invoices.MarkTaxFailed(ctx, inv.ID, err.Error()); markErr != nil {
			s.log.ErrorContext(ctx, "failed to record tax failure", "invoice_id", inv.ID, "error", markErr)
		}
		return fmt.Errorf("nfse: emit: %w", err)
	}

	if err := s.invoices.MarkTaxIssued(ctx, inv.ID, receipt.ID); err != nil {
		return fmt.Errorf("nfse: mark issued: %w", err)
	}
	s.log.InfoContext(ctx, "tax invoice issued",
		"invoice_id", inv.ID, "tax_invoice_id", receipt.ID, "status", receipt.Status)
	return nil
}

// Reprocess retries emission for every invoice whose last attempt failed.
// Returns how many succeeded this round.
func (s *Service) Reprocess(ctx context.Context) (int, error) {
	failed, err := s.invoices.ListTaxFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("nfse: list failed: %w", err)
	}

	issued := 0
	for _, inv := range failed {
		if err := s.EmitForInvoice(ctx, inv); err != nil {
			s.log.WarnContext(ctx, "tax invoice reprocess failed", "invoice_id", inv.ID, "error", err)
			continue
		}
		issued++
	}
	return issued, nil
}
