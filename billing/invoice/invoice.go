// Package invoice records payments reported by the payment gateways and
// exposes the billing history admins browse. Invoices are written once per
// gateway payment id, which makes webhook redelivery harmless; each invoice
// carries its payment attempts, of which at most one may be confirmed.
package invoice

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/gateway"
)

var (
	ErrInvoiceNotFound         = errors.New("invoice: not found")
	ErrPaymentAlreadyConfirmed = errors.New("invoice: payment already confirmed")
	ErrMissingGatewayPaymentID = errors.New("invoice: gateway payment id is required")
)

// Status is the invoice settlement state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// TaxStatus tracks the NFS-e issued for the invoice, when the plan includes
// automatic tax invoices.
type TaxStatus string

const (
	TaxStatusNone    TaxStatus = "none"
	TaxStatusPending TaxStatus = "pending"
	TaxStatusIssued  TaxStatus = "issued"
	TaxStatusError   TaxStatus = "error"
)

// Invoice is one billing charge against a tenant.
type Invoice struct {
	ID               uuid.UUID
	Number           string
	TenantID         uuid.UUID
	SubscriptionID   uuid.UUID
	PlanID           string
	Amount           catalog.Money
	Status           Status
	Gateway          gateway.Kind
	GatewayPaymentID string
	PaymentMethod    gateway.PaymentMethod
	PaidAt           *time.Time
	TaxStatus        TaxStatus
	TaxInvoiceID     string
	TaxNote          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PaymentStatus is the outcome of one payment attempt.
type PaymentStatus string

const (
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one attempt to settle an invoice. An invoice may collect any
// number of failed attempts but never more than one confirmed payment.
type Payment struct {
	ID               uuid.UUID
	InvoiceID        uuid.UUID
	Gateway          gateway.Kind
	GatewayPaymentID string
	Method           gateway.PaymentMethod
	Amount           catalog.Money
	Status           PaymentStatus
	PaidAt           *time.Time
	CreatedAt        time.Time
}

// newNumber builds a human-readable invoice number from a timestamp. Nanosecond
// resolution keeps numbers unique within a single instance without a counter.
func newNumber(now time.Time) string {
	return "INV-" + strconv.FormatInt(now.UnixNano(), 36)
}
