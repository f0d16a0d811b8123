package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/coupon"
	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/invoice"
	"github.com/clinicore/backend/billing/limits"
	"github.com/clinicore/backend/billing/subscription"
	"github.com/clinicore/backend/core"
	billing "github.com/clinicore/backend/modules/billing"
	"github.com/clinicore/backend/pkg/idempotency"
)

// fakeGateway is an HTTP-level test double. ParseWebhook accepts a JSON body
// shaped like a normalized event and requires a shared-secret header, so the
// webhook route's verify-then-dispatch path is exercised end to end.
type fakeGateway struct {
	name gateway.Kind
}

const webhookSecret = "whsec_test"

func (f *fakeGateway) Name() gateway.Kind { return f.name }

func (f *fakeGateway) CreateCheckout(_ context.Context, params gateway.CheckoutParams) (*gateway.CheckoutResult, error) {
	return &gateway.CheckoutResult{
		Status:           gateway.CheckoutPending,
		GatewayPaymentID: "pay_" + params.SubscriptionID.String()[:8],
		PixCopyPaste:     "00020126-test",
		PixQRCode:        "data:image/png;base64,dGVzdA==",
	}, nil
}

func (f *fakeGateway) CreateSubscription(_ context.Context, _ gateway.SubscriptionParams) (*gateway.SubscriptionResult, error) {
	return nil, gateway.ErrOperationNotSupported
}

func (f *fakeGateway) CancelSubscription(_ context.Context, _ string) error { return nil }

func (f *fakeGateway) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*gateway.Event, error) {
	if headers.Get("X-Webhook-Token") != webhookSecret {
		return nil, gateway.ErrWebhookVerificationFailed
	}
	var event gateway.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, gateway.ErrMalformedWebhookPayload
	}
	event.Gateway = f.name
	return &event, nil
}

type fakeTenants struct {
	tenants map[uuid.UUID]*subscription.TenantInfo
}

func (f *fakeTenants) Get(_ context.Context, id uuid.UUID) (*subscription.TenantInfo, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, subscription.ErrTenantNotFound
	}
	return t, nil
}

type env struct {
	handler  http.Handler
	subs     *subscription.Service
	invoices *invoice.Service
	tenantID uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.New(ctx, catalog.NewMemorySource(
		catalog.Plan{
			ID:           "starter",
			Name:         "starter",
			DisplayName:  "Starter",
			Status:       catalog.PlanActive,
			PriceMonthly: catalog.Money{Amount: 0, Currency: "BRL"},
			Caps:         map[catalog.Resource]int64{catalog.ResourcePatients: 10},
			TrialDays:    14,
		},
		catalog.Plan{
			ID:           "pro",
			Name:         "pro",
			DisplayName:  "Pro",
			Status:       catalog.PlanActive,
			PriceMonthly: catalog.Money{Amount: 19990, Currency: "BRL"},
			PriceYearly:  &catalog.Money{Amount: 240000, Currency: "BRL"},
		},
		catalog.Plan{
			ID:           "legacy",
			Name:         "legacy",
			DisplayName:  "Legacy",
			Status:       catalog.PlanInactive,
			PriceMonthly: catalog.Money{Amount: 9990, Currency: "BRL"},
		},
	))
	require.NoError(t, err)

	coupons := coupon.NewService(coupon.NewMemoryStore())
	require.NoError(t, coupons.Create(ctx, &coupon.Coupon{
		Code:            "LAUNCH20",
		DiscountPercent: 20,
		DurationMonths:  3,
		Active:          true,
	}))

	invoices := invoice.NewService(invoice.NewMemoryStore())

	tenantID := uuid.New()
	tenants := &fakeTenants{tenants: map[uuid.UUID]*subscription.TenantInfo{
		tenantID: {ID: tenantID, Name: "Sorriso Feliz", Email: "contato@sorriso.example", TaxID: "12345678000190"},
	}}

	subs := subscription.NewService(
		subscription.NewMemoryStore(), cat, gateway.NewRegistry(&fakeGateway{name: gateway.KindAsaas}),
		tenants, invoices,
		subscription.WithCoupons(coupons),
		subscription.WithIdempotencyGuard(idempotency.NewMemoryGuard(time.Hour)),
	)

	counters := limits.CounterRegistry{}
	counters.Register(catalog.ResourcePatients, func(_ context.Context, _ uuid.UUID) (int64, error) {
		return 3, nil
	})

	router := billing.Router(billing.RouterOptions{
		Catalog:       cat,
		Subscriptions: subs,
		Gateways:      gateway.NewRegistry(&fakeGateway{name: gateway.KindAsaas}),
		Coupons:       coupons,
		Invoices:      invoices,
		Limits:        limits.NewEnforcer(cat, subs, counters),
	})

	// Stands in for the auth middleware that normally resolves the tenant.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-Tenant-ID"); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(core.WithTenantID(r.Context(), id))
			}
		}
		router.ServeHTTP(w, r)
	})

	return &env{handler: handler, subs: subs, invoices: invoices, tenantID: tenantID}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *env) do(t *testing.T, method, path string, body any, asTenant bool) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if asTenant {
		req.Header.Set("X-Tenant-ID", e.tenantID.String())
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func (e *env) webhook(t *testing.T, event map[string]any, token string) (int, envelope) {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/asaas", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("X-Webhook-Token", token)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func (e *env) checkoutPro(t *testing.T) uuid.UUID {
	t.Helper()

	code, resp := e.do(t, http.MethodPost, "/checkout", map[string]any{
		"plan_id": "pro",
		"cycle":   "monthly",
		"gateway": "asaas",
		"method":  "pix",
	}, true)
	require.Equal(t, http.StatusCreated, code)

	var out struct {
		Subscription struct {
			ID uuid.UUID `json:"id"`
		} `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out.Subscription.ID
}

func TestRouter_ListPlans(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	code, resp := e.do(t, http.MethodGet, "/plans", nil, false)
	require.Equal(t, http.StatusOK, code)

	var plans []struct {
		ID           string `json:"id"`
		PriceMonthly struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"price_monthly"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &plans))

	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"starter", "pro"}, ids, "inactive plans stay hidden")
	for _, p := range plans {
		if p.ID == "pro" {
			assert.Equal(t, int64(19990), p.PriceMonthly.Amount)
			assert.Equal(t, "BRL", p.PriceMonthly.Currency)
		}
	}
}

func TestRouter_ValidateCoupon(t *testing.T) {
	t.Parallel()

	t.Run("valid code", func(t *testing.T) {
		e := newEnv(t)
		code, resp := e.do(t, http.MethodPost, "/coupons/validate", map[string]string{"code": "launch20"}, false)
		require.Equal(t, http.StatusOK, code)

		var out struct {
			Code            string `json:"code"`
			Valid           bool   `json:"valid"`
			DiscountPercent int    `json:"discount_percent"`
			DurationMonths  int    `json:"duration_months"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Equal(t, "LAUNCH20", out.Code)
		assert.True(t, out.Valid)
		assert.Equal(t, 20, out.DiscountPercent)
		assert.Equal(t, 3, out.DurationMonths)
	})

	t.Run("unknown code is a 200 with a reason", func(t *testing.T) {
		e := newEnv(t)
		code, resp := e.do(t, http.MethodPost, "/coupons/validate", map[string]string{"code": "NOPE"}, false)
		require.Equal(t, http.StatusOK, code)

		var out struct {
			Code   string `json:"code"`
			Valid  bool   `json:"valid"`
			Reason string `json:"reason"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Equal(t, "NOPE", out.Code)
		assert.False(t, out.Valid)
		assert.Equal(t, "not_found", out.Reason)
	})

	t.Run("missing code", func(t *testing.T) {
		e := newEnv(t)
		code, resp := e.do(t, http.MethodPost, "/coupons/validate", map[string]string{}, false)
		require.Equal(t, http.StatusBadRequest, code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "bad_request", resp.Error.Code)
	})
}

func TestRouter_Checkout(t *testing.T) {
	t.Parallel()

	t.Run("requires tenant", func(t *testing.T) {
		e := newEnv(t)
		code, resp := e.do(t, http.MethodPost, "/checkout", map[string]string{"plan_id": "pro"}, false)
		require.Equal(t, http.StatusUnauthorized, code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "unauthorized", resp.Error.Code)
	})

	t.Run("paid plan returns payment artifacts", func(t *testing.T) {
		e := newEnv(t)
		code, resp := e.do(t, http.MethodPost, "/checkout", map[string]any{
			"plan_id": "pro",
			"cycle":   "monthly",
			"gateway": "asaas",
			"method":  "pix",
		}, true)
		require.Equal(t, http.StatusCreated, code)

		var out struct {
			Subscription struct {
				PlanID string `json:"plan_id"`
				Status string `json:"status"`
			} `json:"subscription"`
			Payment struct {
				Status       string `json:"status"`
				PixCopyPaste string `json:"pix_copy_paste"`
			} `json:"payment"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Equal(t, "pro", out.Subscription.PlanID)
		assert.Equal(t, string(subscription.StatusTrialing), out.Subscription.Status)
		assert.Equal(t, string(gateway.CheckoutPending), out.Payment.Status)
		assert.NotEmpty(t, out.Payment.PixCopyPaste)
	})

	t.Run("unknown plan", func(t *testing.T) {
		e := newEnv(t)
		code, resp := e.do(t, http.MethodPost, "/checkout", map[string]any{
			"plan_id": "enterprise",
			"cycle":   "monthly",
			"gateway": "asaas",
		}, true)
		require.Equal(t, http.StatusNotFound, code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "plan_not_found", resp.Error.Code)
	})

	t.Run("second checkout conflicts", func(t *testing.T) {
		e := newEnv(t)
		e.checkoutPro(t)
		code, resp := e.do(t, http.MethodPost, "/checkout", map[string]any{
			"plan_id": "pro",
			"cycle":   "monthly",
			"gateway": "asaas",
			"method":  "pix",
		}, true)
		require.Equal(t, http.StatusConflict, code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "subscription_exists", resp.Error.Code)
	})
}

func TestRouter_Webhook(t *testing.T) {
	t.Parallel()

	received := func(t *testing.T, resp envelope) bool {
		t.Helper()
		var out map[string]bool
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		return out["received"]
	}

	t.Run("payment succeeded activates subscription", func(t *testing.T) {
		e := newEnv(t)
		subID := e.checkoutPro(t)

		code, resp := e.webhook(t, map[string]any{
			"Type":      string(gateway.EventPaymentSucceeded),
			"EventID":   "evt_1",
			"PaymentID": "pay_1",
			"Amount":    19990,
			"Metadata":  map[string]string{"subscription_id": subID.String()},
		}, webhookSecret)
		require.Equal(t, http.StatusOK, code)
		assert.True(t, received(t, resp))

		sub, err := e.subs.Current(context.Background(), e.tenantID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)

		invoices, total, err := e.invoices.List(context.Background(), invoice.ListFilter{})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, "pay_1", invoices[0].GatewayPaymentID)
	})

	t.Run("bad signature is swallowed", func(t *testing.T) {
		e := newEnv(t)
		subID := e.checkoutPro(t)

		code, resp := e.webhook(t, map[string]any{
			"Type":     string(gateway.EventPaymentSucceeded),
			"EventID":  "evt_2",
			"Metadata": map[string]string{"subscription_id": subID.String()},
		}, "wrong-secret")
		require.Equal(t, http.StatusOK, code)
		assert.False(t, received(t, resp))

		sub, err := e.subs.Current(context.Background(), e.tenantID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusTrialing, sub.Status)
	})

	t.Run("unknown gateway is swallowed", func(t *testing.T) {
		e := newEnv(t)
		body, err := json.Marshal(map[string]any{"Type": "payment.succeeded"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		e.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, received(t, resp))
	})
}

func TestRouter_SubscriptionRoutes(t *testing.T) {
	t.Parallel()

	t.Run("current before any checkout", func(t *testing.T) {
		e := newEnv(t)
		code, resp := e.do(t, http.MethodGet, "/subscription", nil, true)
		require.Equal(t, http.StatusNotFound, code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "subscription_not_found", resp.Error.Code)
	})

	t.Run("change plan", func(t *testing.T) {
		e := newEnv(t)
		subID := e.checkoutPro(t)
		_, _ = e.webhook(t, map[string]any{
			"Type":      string(gateway.EventPaymentSucceeded),
			"EventID":   "evt_cp",
			"PaymentID": "pay_cp",
			"Metadata":  map[string]string{"subscription_id": subID.String()},
		}, webhookSecret)

		code, resp := e.do(t, http.MethodPost, "/subscription/change-plan", map[string]string{
			"plan_id": "starter",
			"cycle":   "monthly",
		}, true)
		require.Equal(t, http.StatusOK, code)

		var out struct {
			PlanID string `json:"plan_id"`
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Equal(t, "starter", out.PlanID)
		assert.Equal(t, string(subscription.StatusActive), out.Status)
	})

	t.Run("cancel", func(t *testing.T) {
		e := newEnv(t)
		e.checkoutPro(t)

		code, resp := e.do(t, http.MethodPost, "/subscription/cancel", nil, true)
		require.Equal(t, http.StatusOK, code)

		var out struct {
			Subscription struct {
				Status string `json:"status"`
			} `json:"subscription"`
			Warnings []string `json:"warnings"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Equal(t, string(subscription.StatusCancelled), out.Subscription.Status)
		assert.Empty(t, out.Warnings)
	})

	t.Run("cancel at period end", func(t *testing.T) {
		e := newEnv(t)
		e.checkoutPro(t)

		code, resp := e.do(t, http.MethodPost, "/subscription/cancel-at-period-end", map[string]bool{"enabled": true}, true)
		require.Equal(t, http.StatusOK, code)

		var out struct {
			CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.True(t, out.CancelAtPeriodEnd)
	})
}

func TestRouter_Usage(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.checkoutPro(t)

	code, resp := e.do(t, http.MethodGet, "/usage", nil, true)
	require.Equal(t, http.StatusOK, code)

	var out map[string]struct {
		Current int64 `json:"current"`
		Limit   int64 `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	patients, ok := out["patients"]
	require.True(t, ok)
	assert.Equal(t, int64(3), patients.Current)
	assert.Equal(t, catalog.Unlimited, patients.Limit, "pro has no patient cap")
}

func TestRouter_Admin(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	subID := e.checkoutPro(t)
	for i := range 2 {
		_, _ = e.webhook(t, map[string]any{
			"Type":      string(gateway.EventPaymentSucceeded),
			"EventID":   fmt.Sprintf("evt_adm_%d", i),
			"PaymentID": fmt.Sprintf("pay_adm_%d", i),
			"Metadata":  map[string]string{"subscription_id": subID.String()},
		}, webhookSecret)
	}

	t.Run("invoices carry a total", func(t *testing.T) {
		code, resp := e.do(t, http.MethodGet, "/admin/invoices?status=paid", nil, false)
		require.Equal(t, http.StatusOK, code)

		var out []struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		require.Len(t, out, 2)
		assert.EqualValues(t, 2, resp.Meta["total"])
	})

	t.Run("overview", func(t *testing.T) {
		code, resp := e.do(t, http.MethodGet, "/admin/overview", nil, false)
		require.Equal(t, http.StatusOK, code)

		var out struct {
			Subscriptions    map[string]int `json:"subscriptions"`
			TotalPaidRevenue int64          `json:"total_paid_revenue"`
			MRR              int64          `json:"mrr"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Equal(t, 1, out.Subscriptions[string(subscription.StatusActive)])
		assert.Equal(t, int64(2*19990), out.TotalPaidRevenue)
		assert.Equal(t, int64(19990), out.MRR)
	})
}

func TestRouter_RequiredOptions(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		billing.Router(billing.RouterOptions{})
	})
}
