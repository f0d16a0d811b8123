package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/pkg/qrcode"
)

// AsaasConfig holds the PIX/boleto-capable provider integration settings.
type AsaasConfig struct {
	APIKey       string        `env:"ASAAS_API_KEY"`
	WebhookToken string        `env:"ASAAS_WEBHOOK_TOKEN"`
	BaseURL      string        `env:"ASAAS_BASE_URL" envDefault:"https://api.asaas.com/v3"`
	HTTPTimeout  time.Duration `env:"ASAAS_HTTP_TIMEOUT" envDefault:"15s"`
}

// AsaasGateway implements Gateway for Asaas, which charges in decimal BRL and
// authenticates webhooks with a shared-secret header rather than a signature.
type AsaasGateway struct {
	cfg    AsaasConfig
	client *http.Client
}

func NewAsaasGateway(cfg AsaasConfig) (*AsaasGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrGatewayNotConfigured, errors.New("asaas API key is required"))
	}
	if cfg.WebhookToken == "" {
		return nil, errors.Join(ErrGatewayNotConfigured, errors.New("asaas webhook token is required"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.asaas.com/v3"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	return &AsaasGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

func (g *AsaasGateway) Name() Kind {
	return KindAsaas
}

// asaasBillingType maps the normalized payment method onto Asaas naming.
func asaasBillingType(m PaymentMethod) string {
	switch m {
	case MethodPix:
		return "PIX"
	case MethodBoleto:
		return "BOLETO"
	default:
		return "CREDIT_CARD"
	}
}

// toDecimal converts minor units to the decimal major-unit representation
// Asaas expects (centavos -> reais).
func toDecimal(minor int64) float64 {
	return float64(minor) / 100
}

// toMinor converts an Asaas decimal amount back to minor units.
func toMinor(major float64) int64 {
	if major < 0 {
		return int64(major*100 - 0.5)
	}
	return int64(major*100 + 0.5)
}

// CreateCheckout creates a customer and a one-off charge. PIX charges get a
// QR code plus copy-paste payload, boleto charges a slip URL, card charges a
// hosted invoice URL.
func (g *AsaasGateway) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	customerID, err := g.ensureCustomer(ctx, params.CustomerName, params.CustomerEmail, params.CustomerTaxID)
	if err != nil {
		return &CheckoutResult{Status: CheckoutFailed, FailureReason: err.Error()}, nil
	}

	payload := map[string]any{
		"customer":          customerID,
		"billingType":       asaasBillingType(params.Method),
		"value":             toDecimal(params.Amount),
		"dueDate":           time.Now().UTC().AddDate(0, 0, 3).Format("2006-01-02"),
		"description":       fmt.Sprintf("Assinatura %s (%s)", params.PlanName, params.Cycle),
		"externalReference": params.SubscriptionID.String(),
	}

	var charge struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		InvoiceURL  string `json:"invoiceUrl"`
		BankSlipURL string `json:"bankSlipUrl"`
	}
	if err := g.do(ctx, http.MethodPost, "/payments", payload, &charge); err != nil {
		return &CheckoutResult{Status: CheckoutFailed, FailureReason: err.Error()}, nil
	}

	result := &CheckoutResult{
		Status:           CheckoutPending,
		GatewayPaymentID: charge.ID,
		CheckoutURL:      charge.InvoiceURL,
	}

	switch params.Method {
	case MethodPix:
		var pix struct {
			Payload string `json:"payload"`
		}
		if err := g.do(ctx, http.MethodGet, "/payments/"+charge.ID+"/pixQrCode", nil, &pix); err != nil {
			return &CheckoutResult{Status: CheckoutFailed, FailureReason: err.Error()}, nil
		}
		result.PixCopyPaste = pix.Payload
		// The QR image is rendered locally from the copy-paste payload so
		// the frontend never depends on provider-hosted images.
		if uri, err := qrcode.GenerateDataURI(pix.Payload, 256); err == nil {
			result.PixQRCode = uri
		}
	case MethodBoleto:
		result.BoletoURL = charge.BankSlipURL
	}

	return result, nil
}

// CreateSubscription creates a recurring arrangement with the provider and
// computes the first billing period from now.
func (g *AsaasGateway) CreateSubscription(ctx context.Context, params SubscriptionParams) (*SubscriptionResult, error) {
	customerID, err := g.ensureCustomer(ctx, params.CustomerName, params.CustomerEmail, params.CustomerTaxID)
	if err != nil {
		return nil, errors.Join(ErrSubscriptionCreationFailed, err)
	}

	cycle := "MONTHLY"
	periodMonths := 1
	if params.Cycle == catalog.CycleYearly {
		cycle = "YEARLY"
		periodMonths = 12
	}

	now := time.Now().UTC()
	payload := map[string]any{
		"customer":          customerID,
		"billingType":       asaasBillingType(params.Method),
		"value":             toDecimal(params.Amount),
		"cycle":             cycle,
		"nextDueDate":       now.AddDate(0, periodMonths, 0).Format("2006-01-02"),
		"description":       "Assinatura " + params.PlanID,
		"externalReference": params.SubscriptionID.String(),
	}

	var sub struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, http.MethodPost, "/subscriptions", payload, &sub); err != nil {
		return nil, errors.Join(ErrSubscriptionCreationFailed, err)
	}

	return &SubscriptionResult{
		ExternalID:  sub.ID,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, periodMonths, 0),
	}, nil
}

func (g *AsaasGateway) CancelSubscription(ctx context.Context, externalID string) error {
	if externalID == "" {
		return errors.New("asaas subscription id is required")
	}
	if err := g.do(ctx, http.MethodDelete, "/subscriptions/"+externalID, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel asaas subscription %s: %w", externalID, err)
	}
	return nil
}

// ParseWebhook authenticates the shared-secret header in constant time, then
// maps the provider event onto the normalized set.
func (g *AsaasGateway) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*Event, error) {
	token := headers.Get("Asaas-Access-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.WebhookToken)) != 1 {
		return nil, ErrWebhookVerificationFailed
	}

	var payload struct {
		ID      string `json:"id"`
		Event   string `json:"event"`
		Payment struct {
			ID                string  `json:"id"`
			Subscription      string  `json:"subscription"`
			Value             float64 `json:"value"`
			ExternalReference string  `json:"externalReference"`
		} `json:"payment"`
		Subscription struct {
			ID                string `json:"id"`
			ExternalReference string `json:"externalReference"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Join(ErrMalformedWebhookPayload, err)
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	event := &Event{
		Type:           mapAsaasEventType(payload.Event),
		Gateway:        KindAsaas,
		EventID:        payload.ID,
		SubscriptionID: payload.Payment.Subscription,
		PaymentID:      payload.Payment.ID,
		Amount:         toMinor(payload.Payment.Value),
		Metadata:       map[string]string{},
		Raw:            raw,
	}

	if payload.Subscription.ID != "" {
		event.SubscriptionID = payload.Subscription.ID
	}
	if ref := payload.Payment.ExternalReference; ref != "" {
		event.Metadata["subscription_id"] = ref
	} else if ref := payload.Subscription.ExternalReference; ref != "" {
		event.Metadata["subscription_id"] = ref
	}

	return event, nil
}

// mapAsaasEventType is the Asaas half of the provider event mapping table.
func mapAsaasEventType(providerEvent string) EventType {
	switch providerEvent {
	case "CHECKOUT_COMPLETED":
		return EventCheckoutCompleted
	case "PAYMENT_CONFIRMED", "PAYMENT_RECEIVED":
		return EventPaymentSucceeded
	case "PAYMENT_OVERDUE", "PAYMENT_REPROVED_BY_RISK_ANALYSIS", "PAYMENT_REFUSED":
		return EventPaymentFailed
	case "SUBSCRIPTION_DELETED", "SUBSCRIPTION_INACTIVATED":
		return EventSubscriptionCancelled
	default:
		return EventUnknown
	}
}

// ensureCustomer creates (or reuses by tax id) the provider-side customer.
func (g *AsaasGateway) ensureCustomer(ctx context.Context, name, email, taxID string) (string, error) {
	if taxID != "" {
		var list struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := g.do(ctx, http.MethodGet, "/customers?cpfCnpj="+taxID, nil, &list); err == nil && len(list.Data) > 0 {
			return list.Data[0].ID, nil
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	payload := map[string]any{"name": name, "email": email}
	if taxID != "" {
		payload["cpfCnpj"] = taxID
	}
	if err := g.do(ctx, http.MethodPost, "/customers", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// do performs an authenticated JSON API call against the Asaas REST API.
func (g *AsaasGateway) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("asaas: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("asaas: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Access-Token", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("asaas: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("asaas: %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("asaas: decode response: %w", err)
	}
	return nil
}
