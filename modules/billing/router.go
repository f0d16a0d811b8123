// Package billing exposes the billing domain over HTTP: plan listing,
// checkout, coupon validation, subscription management, gateway webhooks and
// the admin billing views.
package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/coupon"
	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/invoice"
	"github.com/clinicore/backend/billing/limits"
	"github.com/clinicore/backend/billing/nfse"
	"github.com/clinicore/backend/billing/subscription"
	"github.com/clinicore/backend/core"
)

// RouterOptions wires the billing services into the router. Catalog,
// Subscriptions, Gateways, Coupons and Invoices are required; Tax and Limits
// are optional and their routes disappear when absent.
type RouterOptions struct {
	Catalog       *catalog.Catalog
	Subscriptions *subscription.Service
	Gateways      *gateway.Registry
	Coupons       *coupon.Service
	Invoices      *invoice.Service
	Tax           *nfse.Service
	Limits        *limits.Enforcer
	Logger        *slog.Logger
}

// Router builds the billing module router.
//
// Webhook routes are unauthenticated; each gateway adapter verifies its own
// payload. Tenant routes expect the auth middleware to have put the tenant id
// into the request context. Admin routes expect an admin-authorizing
// middleware mounted in front of them by the caller.
func Router(opts RouterOptions) chi.Router {
	if opts.Catalog == nil || opts.Subscriptions == nil || opts.Gateways == nil ||
		opts.Coupons == nil || opts.Invoices == nil {
		panic("billing: Catalog, Subscriptions, Gateways, Coupons and Invoices are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &handlers{opts: opts, log: opts.Logger}

	r := chi.NewRouter()

	r.Post("/webhooks/{gateway}", h.webhook)
	r.Get("/plans", h.listPlans)
	r.Post("/coupons/validate", h.validateCoupon)

	r.Group(func(tenant chi.Router) {
		tenant.Use(requireTenant)
		tenant.Post("/checkout", h.checkout)
		tenant.Get("/subscription", h.currentSubscription)
		tenant.Post("/subscription/change-plan", h.changePlan)
		tenant.Post("/subscription/cancel", h.cancel)
		tenant.Post("/subscription/cancel-at-period-end", h.cancelAtPeriodEnd)
		if opts.Limits != nil {
			tenant.Get("/usage", h.usage)
		}
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Get("/invoices", h.listInvoices)
		admin.Get("/overview", h.overview)
		if opts.Tax != nil {
			admin.Post("/tax-invoices/reprocess", h.reprocessTaxInvoices)
		}
	})

	return r
}

// requireTenant rejects requests that reached a tenant route without an
// authenticated tenant in the context.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := core.TenantIDFromContext(r.Context()); !ok {
			core.RenderError(w, core.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
