package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows and pages invoice listings. Zero values mean "any".
type ListFilter struct {
	TenantID *uuid.UUID
	Status   Status
	Page     int
	PerPage  int
}

const defaultPerPage = 50

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 200 {
		f.PerPage = defaultPerPage
	}
	return f
}

// Aggregates are the rollups behind the admin overview.
type Aggregates struct {
	CountByStatus    map[Status]int
	TotalPaidRevenue int64
	MonthPaidRevenue int64
}

// Store persists invoices and their payment attempts.
type Store interface {
	// CreatePaid inserts the invoice together with its confirmed payment.
	// Returns ErrPaymentAlreadyConfirmed when the gateway payment id is
	// already recorded.
	CreatePaid(ctx context.Context, inv *Invoice, p *Payment) error
	Update(ctx context.Context, inv *Invoice) error
	// AddPayment appends a payment attempt to an existing invoice. A second
	// confirmed payment for the same invoice returns
	// ErrPaymentAlreadyConfirmed.
	AddPayment(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetByGatewayPaymentID returns ErrInvoiceNotFound when no invoice has
	// recorded the given gateway payment.
	GetByGatewayPaymentID(ctx context.Context, paymentID string) (*Invoice, error)
	// PaymentsByInvoice returns the invoice's payment attempts, oldest first.
	PaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	// List returns a page of invoices, newest first, plus the unpaged total.
	List(ctx context.Context, filter ListFilter) ([]*Invoice, int, error)
	// ListByTaxStatus returns every invoice in the given tax state, unpaged.
	ListByTaxStatus(ctx context.Context, status TaxStatus) ([]*Invoice, error)
	// Aggregates computes status counts and paid revenue. monthStart bounds
	// the current-month revenue figure.
	Aggregates(ctx context.Context, monthStart time.Time) (Aggregates, error)
}
