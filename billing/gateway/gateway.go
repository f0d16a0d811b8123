// Package gateway isolates external payment providers behind one interface.
// Every provider has its own webhook schema, signing scheme and money
// representation (integer minor units vs decimal major units); adapters
// normalize all of it so the subscription lifecycle stays provider-agnostic.
// Adding a provider means one adapter plus one event-type mapping table.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
)

var (
	ErrUnsupportedGateway         = errors.New("gateway: unsupported gateway")
	ErrGatewayNotConfigured       = errors.New("gateway: provider integration is not configured")
	ErrWebhookVerificationFailed  = errors.New("gateway: webhook verification failed")
	ErrOperationNotSupported      = errors.New("gateway: operation not supported by provider")
	ErrMalformedWebhookPayload    = errors.New("gateway: malformed webhook payload")
	ErrSubscriptionCreationFailed = errors.New("gateway: provider rejected subscription creation")
)

// Kind identifies a configured payment provider.
type Kind string

const (
	KindPaddle Kind = "paddle"
	KindAsaas  Kind = "asaas"
)

// PaymentMethod is the customer-facing payment instrument.
type PaymentMethod string

const (
	MethodCard   PaymentMethod = "card"
	MethodPix    PaymentMethod = "pix"
	MethodBoleto PaymentMethod = "boleto"
)

// CheckoutStatus reports the provider-side state of a newly created checkout.
type CheckoutStatus string

const (
	CheckoutPending    CheckoutStatus = "pending"
	CheckoutProcessing CheckoutStatus = "processing"
	CheckoutPaid       CheckoutStatus = "paid"
	CheckoutFailed     CheckoutStatus = "failed"
)

// CheckoutParams carries everything a provider needs to charge a tenant.
// Metadata must round-trip through the provider and come back in the webhook;
// the local subscription id travels there.
type CheckoutParams struct {
	TenantID        uuid.UUID
	SubscriptionID  uuid.UUID // local subscription, correlates the webhook back
	PlanID          string
	PlanName        string
	Amount          int64 // minor currency units
	Currency        string
	Cycle           catalog.BillingCycle
	CustomerName    string
	CustomerEmail   string
	CustomerTaxID   string
	Method          PaymentMethod
	DiscountPercent int // informational, already applied to Amount
	Metadata        map[string]string
}

// CheckoutResult is the provider's answer: a redirect URL, a provider payment
// id, or method-specific artifacts (PIX QR + copy-paste, boleto slip URL).
type CheckoutResult struct {
	Status           CheckoutStatus
	CheckoutURL      string
	GatewayPaymentID string
	PixQRCode        string // base64 PNG data URI
	PixCopyPaste     string
	BoletoURL        string
	FailureReason    string
}

// SubscriptionParams creates a recurring arrangement directly with the
// provider, for card-on-file flows.
type SubscriptionParams struct {
	TenantID       uuid.UUID
	SubscriptionID uuid.UUID
	PlanID         string
	Amount         int64
	Currency       string
	Cycle          catalog.BillingCycle
	CustomerName   string
	CustomerEmail  string
	CustomerTaxID  string
	Method         PaymentMethod
}

// SubscriptionResult is the provider-assigned id plus the first billing period.
type SubscriptionResult struct {
	ExternalID  string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Gateway is implemented identically by every provider adapter.
//
// CreateCheckout never returns an error for recoverable provider failures;
// those come back as CheckoutFailed results. Errors are reserved for a
// missing or broken integration. ParseWebhook must authenticate the request
// before returning an event; callers never process unverified payloads.
type Gateway interface {
	Name() Kind
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*SubscriptionResult, error)
	CancelSubscription(ctx context.Context, externalID string) error
	ParseWebhook(ctx context.Context, body []byte, headers http.Header) (*Event, error)
}

// Registry is the closed set of configured gateways, dispatched by name.
type Registry struct {
	gateways map[Kind]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Kind]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

// Get resolves a gateway by its configured name.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[Kind(name)]
	if !ok {
		return nil, ErrUnsupportedGateway
	}
	return g, nil
}
