package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/gateway"
)

func newAsaasTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /customers", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("Access-Token"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cus_000001"})
	})
	mux.HandleFunc("GET /customers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cus_000001", body["customer"])
		assert.Equal(t, 159.92, body["value"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "pay_123",
			"status":      "PENDING",
			"invoiceUrl":  "https://asaas.test/i/pay_123",
			"bankSlipUrl": "https://asaas.test/b/pay_123",
		})
	})
	mux.HandleFunc("GET /payments/pay_123/pixQrCode", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payload": "00020126580014br.gov.bcb.pix0136pay123",
		})
	})
	mux.HandleFunc("POST /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "sub_777"})
	})
	mux.HandleFunc("DELETE /subscriptions/sub_777", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"deleted": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newAsaasGateway(t *testing.T, baseURL string) *gateway.AsaasGateway {
	t.Helper()

	g, err := gateway.NewAsaasGateway(gateway.AsaasConfig{
		APIKey:       "test-key",
		WebhookToken: "hook-secret",
		BaseURL:      baseURL,
	})
	require.NoError(t, err)
	return g
}

func TestAsaasConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := gateway.NewAsaasGateway(gateway.AsaasConfig{WebhookToken: "x"})
	assert.ErrorIs(t, err, gateway.ErrGatewayNotConfigured)

	_, err = gateway.NewAsaasGateway(gateway.AsaasConfig{APIKey: "x"})
	assert.ErrorIs(t, err, gateway.ErrGatewayNotConfigured)
}

func TestAsaasCreateCheckout(t *testing.T) {
	t.Parallel()

	subscriptionID := uuid.New()
	params := gateway.CheckoutParams{
		TenantID:       uuid.New(),
		SubscriptionID: subscriptionID,
		PlanID:         "pro",
		PlanName:       "Professional",
		Amount:         15992,
		Currency:       "BRL",
		Cycle:          catalog.CycleMonthly,
		CustomerName:   "Clinica Sorriso",
		CustomerEmail:  "faturamento@sorriso.com.br",
	}

	t.Run("pix returns qr code and copy-paste payload", func(t *testing.T) {
		t.Parallel()

		srv := newAsaasTestServer(t)
		g := newAsaasGateway(t, srv.URL)

		p := params
		p.Method = gateway.MethodPix

		result, err := g.CreateCheckout(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, gateway.CheckoutPending, result.Status)
		assert.Equal(t, "pay_123", result.GatewayPaymentID)
		assert.Equal(t, "00020126580014br.gov.bcb.pix0136pay123", result.PixCopyPaste)
		assert.True(t, strings.HasPrefix(result.PixQRCode, "data:image/png;base64,"))
	})

	t.Run("boleto returns slip url", func(t *testing.T) {
		t.Parallel()

		srv := newAsaasTestServer(t)
		g := newAsaasGateway(t, srv.URL)

		p := params
		p.Method = gateway.MethodBoleto

		result, err := g.CreateCheckout(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, "https://asaas.test/b/pay_123", result.BoletoURL)
		assert.Empty(t, result.PixCopyPaste)
	})

	t.Run("provider failure becomes failed result, not error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"errors":[{"description":"invalid value"}]}`, http.StatusBadRequest)
		}))
		t.Cleanup(srv.Close)
		g := newAsaasGateway(t, srv.URL)

		p := params
		p.Method = gateway.MethodPix

		result, err := g.CreateCheckout(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, gateway.CheckoutFailed, result.Status)
		assert.NotEmpty(t, result.FailureReason)
	})
}

func TestAsaasCreateSubscription(t *testing.T) {
	t.Parallel()

	srv := newAsaasTestServer(t)
	g := newAsaasGateway(t, srv.URL)

	result, err := g.CreateSubscription(context.Background(), gateway.SubscriptionParams{
		TenantID:       uuid.New(),
		SubscriptionID: uuid.New(),
		PlanID:         "pro",
		Amount:         19990,
		Currency:       "BRL",
		Cycle:          catalog.CycleMonthly,
		Method:         gateway.MethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_777", result.ExternalID)
	assert.Equal(t, result.PeriodStart.AddDate(0, 1, 0), result.PeriodEnd)
}

func TestAsaasCancelSubscription(t *testing.T) {
	t.Parallel()

	srv := newAsaasTestServer(t)
	g := newAsaasGateway(t, srv.URL)

	assert.NoError(t, g.CancelSubscription(context.Background(), "sub_777"))
	assert.Error(t, g.CancelSubscription(context.Background(), ""))
}

func TestAsaasParseWebhook(t *testing.T) {
	t.Parallel()

	g := newAsaasGateway(t, "https://asaas.test")

	body := []byte(`{
		"id": "evt_05b708f961d739ea7eba7e4db318f621",
		"event": "PAYMENT_CONFIRMED",
		"payment": {
			"id": "pay_123",
			"subscription": "sub_777",
			"value": 159.92,
			"externalReference": "9f3c2d51-7e70-4f3c-92a1-0a52a15f2c9e"
		}
	}`)

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()

		headers := http.Header{}
		headers.Set("Asaas-Access-Token", "hook-secret")

		event, err := g.ParseWebhook(context.Background(), body, headers)
		require.NoError(t, err)
		assert.Equal(t, gateway.EventPaymentSucceeded, event.Type)
		assert.Equal(t, gateway.KindAsaas, event.Gateway)
		assert.Equal(t, "evt_05b708f961d739ea7eba7e4db318f621", event.EventID)
		assert.Equal(t, "sub_777", event.SubscriptionID)
		assert.Equal(t, "pay_123", event.PaymentID)
		assert.Equal(t, int64(15992), event.Amount)
		assert.Equal(t, "9f3c2d51-7e70-4f3c-92a1-0a52a15f2c9e", event.LocalSubscriptionID())
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		t.Parallel()

		headers := http.Header{}
		headers.Set("Asaas-Access-Token", "wrong")

		_, err := g.ParseWebhook(context.Background(), body, headers)
		assert.ErrorIs(t, err, gateway.ErrWebhookVerificationFailed)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		t.Parallel()

		_, err := g.ParseWebhook(context.Background(), body, http.Header{})
		assert.ErrorIs(t, err, gateway.ErrWebhookVerificationFailed)
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()

		headers := http.Header{}
		headers.Set("Asaas-Access-Token", "hook-secret")

		_, err := g.ParseWebhook(context.Background(), []byte("{"), headers)
		assert.ErrorIs(t, err, gateway.ErrMalformedWebhookPayload)
	})

	t.Run("event mapping table", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			providerEvent string
			want          gateway.EventType
		}{
			{"PAYMENT_CONFIRMED", gateway.EventPaymentSucceeded},
			{"PAYMENT_RECEIVED", gateway.EventPaymentSucceeded},
			{"PAYMENT_OVERDUE", gateway.EventPaymentFailed},
			{"PAYMENT_REFUSED", gateway.EventPaymentFailed},
			{"SUBSCRIPTION_DELETED", gateway.EventSubscriptionCancelled},
			{"CHECKOUT_COMPLETED", gateway.EventCheckoutCompleted},
			{"PAYMENT_CREATED", gateway.EventUnknown},
		}

		headers := http.Header{}
		headers.Set("Asaas-Access-Token", "hook-secret")

		for _, tt := range tests {
			payload := []byte(`{"id":"evt_1","event":"` + tt.providerEvent + `","payment":{"id":"pay_1"}}`)
			event, err := g.ParseWebhook(context.Background(), payload, headers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Type, tt.providerEvent)
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	g := newAsaasGateway(t, "https://asaas.test")
	registry := gateway.NewRegistry(g)

	resolved, err := registry.Get("asaas")
	require.NoError(t, err)
	assert.Equal(t, gateway.KindAsaas, resolved.Name())

	_, err = registry.Get("stripe")
	assert.ErrorIs(t, err, gateway.ErrUnsupportedGateway)
}
