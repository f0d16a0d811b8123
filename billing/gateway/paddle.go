package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds the card-capable provider integration settings.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway implements Gateway for Paddle-hosted card checkouts.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

func NewPaddleGateway(cfg PaddleConfig) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrGatewayNotConfigured, errors.New("paddle API key is required"))
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrGatewayNotConfigured, errors.New("paddle webhook secret is required"))
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: invalid paddle environment %q", ErrGatewayNotConfigured, cfg.Environment)
	}
	if err != nil {
		return nil, errors.Join(ErrGatewayNotConfigured, err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (g *PaddleGateway) Name() Kind {
	return KindPaddle
}

// CreateCheckout opens a Paddle transaction whose catalog price matches the
// plan id. The local subscription id rides in CustomData and resurfaces in
// the eventual webhook.
func (g *PaddleGateway) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PlanID,
		Quantity: 1,
	})

	customData := paddle.CustomData{
		"tenant_id":       params.TenantID.String(),
		"subscription_id": params.SubscriptionID.String(),
	}
	if params.CustomerEmail != "" {
		customData["email"] = params.CustomerEmail
	}
	for k, v := range params.Metadata {
		customData[k] = v
	}

	txn, err := g.client.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: customData,
	})
	if err != nil {
		// Provider rejections are recoverable: the caller decides whether
		// to retry or surface the failure, not to crash the checkout path.
		return &CheckoutResult{
			Status:        CheckoutFailed,
			FailureReason: err.Error(),
		}, nil
	}

	result := &CheckoutResult{
		Status:           CheckoutPending,
		GatewayPaymentID: txn.ID,
	}
	if txn.Checkout != nil && txn.Checkout.URL != nil {
		result.CheckoutURL = *txn.Checkout.URL
	}
	if result.CheckoutURL == "" {
		result.Status = CheckoutFailed
		result.FailureReason = "no checkout URL returned from paddle"
	}
	return result, nil
}

// CreateSubscription is not offered by Paddle: recurring billing is set up by
// the provider itself once the hosted checkout completes, and the arrangement
// arrives through the webhook.
func (g *PaddleGateway) CreateSubscription(_ context.Context, _ SubscriptionParams) (*SubscriptionResult, error) {
	return nil, ErrOperationNotSupported
}

func (g *PaddleGateway) CancelSubscription(ctx context.Context, externalID string) error {
	if externalID == "" {
		return errors.New("paddle subscription id is required")
	}
	_, err := g.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: externalID,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel paddle subscription %s: %w", externalID, err)
	}
	return nil
}

// ParseWebhook verifies the Paddle-Signature header and maps the payload to
// a normalized event. The verifier works on *http.Request, so the raw body is
// wrapped back into one.
func (g *PaddleGateway) ParseWebhook(ctx context.Context, body []byte, headers http.Header) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", headers.Get("Paddle-Signature"))

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var payload struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Join(ErrMalformedWebhookPayload, err)
	}

	event := &Event{
		Type:     mapPaddleEventType(payload.EventType),
		Gateway:  KindPaddle,
		EventID:  payload.EventID,
		Metadata: map[string]string{},
		Raw:      payload.Data,
	}

	if id, ok := payload.Data["id"].(string); ok {
		if strings.HasPrefix(payload.EventType, "transaction.") {
			event.PaymentID = id
		} else {
			event.SubscriptionID = id
		}
	}
	if subID, ok := payload.Data["subscription_id"].(string); ok && subID != "" {
		event.SubscriptionID = subID
	}
	if customData, ok := payload.Data["custom_data"].(map[string]any); ok {
		for k, v := range customData {
			if s, ok := v.(string); ok {
				event.Metadata[k] = s
			}
		}
	}
	event.Amount = paddleTotal(payload.Data)

	return event, nil
}

// paddleTotal digs the grand total out of transaction details. Paddle
// serializes money as strings of minor units.
func paddleTotal(data map[string]any) int64 {
	details, ok := data["details"].(map[string]any)
	if !ok {
		return 0
	}
	totals, ok := details["totals"].(map[string]any)
	if !ok {
		return 0
	}
	raw, ok := totals["grand_total"].(string)
	if !ok {
		if raw, ok = totals["total"].(string); !ok {
			return 0
		}
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return amount
}

// mapPaddleEventType is the Paddle half of the provider event mapping table.
func mapPaddleEventType(providerEvent string) EventType {
	switch providerEvent {
	case "checkout.completed", "transaction.completed":
		return EventCheckoutCompleted
	case "transaction.payment_succeeded":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	case "subscription.canceled", "subscription.cancelled":
		return EventSubscriptionCancelled
	default:
		return EventUnknown
	}
}
