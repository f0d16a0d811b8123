package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/coupon"
	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/invoice"
	"github.com/clinicore/backend/billing/subscription"
	"github.com/clinicore/backend/core"
)

// maxWebhookBody bounds how much of a webhook payload is read.
const maxWebhookBody = 1 << 20

type handlers struct {
	opts RouterOptions
	log  *slog.Logger
}

// webhook receives a provider notification, verifies it through the matching
// gateway adapter and dispatches the normalized event. The response is always
// 200 with a received flag: providers treat non-2xx as "retry forever", and
// events we cannot verify or match should not be retried.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "gateway")

	gw, err := h.opts.Gateways.Get(name)
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook for unknown gateway", "gateway", name)
		core.RenderJSON(w, http.StatusOK, map[string]bool{"received": false})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		core.RenderJSON(w, http.StatusOK, map[string]bool{"received": false})
		return
	}

	event, err := gw.ParseWebhook(r.Context(), body, r.Header)
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook rejected", "gateway", name, "error", err)
		core.RenderJSON(w, http.StatusOK, map[string]bool{"received": false})
		return
	}

	if err := h.opts.Subscriptions.HandleWebhookEvent(r.Context(), event); err != nil {
		h.log.ErrorContext(r.Context(), "webhook processing failed",
			"gateway", name, "event_id", event.EventID, "error", err)
		core.RenderJSON(w, http.StatusOK, map[string]bool{"received": false})
		return
	}

	core.RenderJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *handlers) listPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.opts.Catalog.List()
	out := make([]planDTO, 0, len(plans))
	for _, p := range plans {
		if !p.IsActive() {
			continue
		}
		out = append(out, toPlanDTO(p))
	}
	core.RenderJSON(w, http.StatusOK, out)
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type validateCouponResponse struct {
	Code            string `json:"code"`
	Valid           bool   `json:"valid"`
	DiscountPercent int    `json:"discount_percent,omitempty"`
	DurationMonths  int    `json:"duration_months,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// validateCoupon answers whether a code is currently redeemable. Rejections
// are data, not errors: the frontend shows the reason inline.
func (h *handlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		core.RenderError(w, core.ErrBadRequest)
		return
	}

	c, err := h.opts.Coupons.Validate(r.Context(), req.Code)
	if err != nil {
		core.RenderJSON(w, http.StatusOK, validateCouponResponse{
			Code:   coupon.NormalizeCode(req.Code),
			Valid:  false,
			Reason: couponRejectionReason(err),
		})
		return
	}

	core.RenderJSON(w, http.StatusOK, validateCouponResponse{
		Code:            c.Code,
		Valid:           true,
		DiscountPercent: c.DiscountPercent,
		DurationMonths:  c.DurationMonths,
	})
}

func couponRejectionReason(err error) string {
	switch {
	case errors.Is(err, coupon.ErrCouponNotFound):
		return "not_found"
	case errors.Is(err, coupon.ErrCouponInactive):
		return "inactive"
	case errors.Is(err, coupon.ErrCouponExpired):
		return "expired"
	case errors.Is(err, coupon.ErrCouponNotStarted):
		return "not_started"
	case errors.Is(err, coupon.ErrCouponExhausted):
		return "exhausted"
	default:
		return "invalid"
	}
}

type checkoutRequest struct {
	PlanID     string `json:"plan_id"`
	Cycle      string `json:"cycle"`
	Gateway    string `json:"gateway"`
	Method     string `json:"method"`
	CouponCode string `json:"coupon_code"`
}

type checkoutResponse struct {
	Subscription subscriptionDTO `json:"subscription"`
	Payment      *paymentDTO     `json:"payment,omitempty"`
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := core.TenantIDFromContext(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
		core.RenderError(w, core.ErrBadRequest)
		return
	}

	out, err := h.opts.Subscriptions.Checkout(r.Context(), subscription.CheckoutInput{
		TenantID:   tenantID,
		PlanID:     req.PlanID,
		Cycle:      catalog.BillingCycle(req.Cycle),
		Gateway:    req.Gateway,
		Method:     gateway.PaymentMethod(req.Method),
		CouponCode: req.CouponCode,
	})
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}

	resp := checkoutResponse{Subscription: toSubscriptionDTO(out.Subscription)}
	if out.Payment != nil {
		resp.Payment = toPaymentDTO(out.Payment)
	}
	core.RenderJSON(w, http.StatusCreated, resp)
}

func (h *handlers) currentSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := core.TenantIDFromContext(r.Context())

	sub, err := h.opts.Subscriptions.Current(r.Context(), tenantID)
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}
	core.RenderJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
	Cycle  string `json:"cycle"`
}

func (h *handlers) changePlan(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := core.TenantIDFromContext(r.Context())

	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
		core.RenderError(w, core.ErrBadRequest)
		return
	}

	sub, err := h.opts.Subscriptions.ChangePlan(r.Context(), tenantID, req.PlanID, catalog.BillingCycle(req.Cycle))
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}
	core.RenderJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

type cancelResponse struct {
	Subscription subscriptionDTO `json:"subscription"`
	Warnings     []string        `json:"warnings,omitempty"`
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := core.TenantIDFromContext(r.Context())

	res, err := h.opts.Subscriptions.Cancel(r.Context(), tenantID)
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}
	core.RenderJSON(w, http.StatusOK, cancelResponse{
		Subscription: toSubscriptionDTO(res.Subscription),
		Warnings:     res.Warnings,
	})
}

type cancelAtPeriodEndRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *handlers) cancelAtPeriodEnd(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := core.TenantIDFromContext(r.Context())

	var req cancelAtPeriodEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.RenderError(w, core.ErrBadRequest)
		return
	}

	sub, err := h.opts.Subscriptions.SetCancelAtPeriodEnd(r.Context(), tenantID, req.Enabled)
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}
	core.RenderJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := core.TenantIDFromContext(r.Context())

	all, err := h.opts.Limits.AllUsage(r.Context(), tenantID)
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}

	out := make(map[string]usageDTO, len(all))
	for res, info := range all {
		out[string(res)] = usageDTO{Current: info.Current, Limit: info.Limit}
	}
	core.RenderJSON(w, http.StatusOK, out)
}

func (h *handlers) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter := invoice.ListFilter{
		Status: invoice.Status(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			core.RenderError(w, core.ErrBadRequest)
			return
		}
		filter.TenantID = &id
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	invoices, total, err := h.opts.Invoices.List(r.Context(), filter)
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}

	out := make([]invoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceDTO(inv))
	}
	core.RenderJSONWithMeta(w, http.StatusOK, out, map[string]any{"total": total})
}

type overviewResponse struct {
	Subscriptions    map[subscription.Status]int `json:"subscriptions"`
	Invoices         map[invoice.Status]int      `json:"invoices"`
	TotalPaidRevenue int64                       `json:"total_paid_revenue"`
	MonthPaidRevenue int64                       `json:"month_paid_revenue"`
	MRR              int64                       `json:"mrr"`
}

func (h *handlers) overview(w http.ResponseWriter, r *http.Request) {
	inv, err := h.opts.Invoices.Overview(r.Context())
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}
	subCounts, err := h.opts.Subscriptions.CountByStatus(r.Context())
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}
	mrr, err := h.opts.Subscriptions.MRR(r.Context())
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}

	core.RenderJSON(w, http.StatusOK, overviewResponse{
		Subscriptions:    subCounts,
		Invoices:         inv.CountByStatus,
		TotalPaidRevenue: inv.TotalPaidRevenue,
		MonthPaidRevenue: inv.MonthPaidRevenue,
		MRR:              mrr,
	})
}

func (h *handlers) reprocessTaxInvoices(w http.ResponseWriter, r *http.Request) {
	issued, err := h.opts.Tax.Reprocess(r.Context())
	if err != nil {
		core.RenderError(w, mapDomainError(err))
		return
	}
	core.RenderJSON(w, http.StatusOK, map[string]int{"issued": issued})
}

type moneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type planDTO struct {
	ID           string           `json:"id"`
	DisplayName  string           `json:"display_name"`
	PriceMonthly moneyDTO         `json:"price_monthly"`
	PriceYearly  *moneyDTO        `json:"price_yearly,omitempty"`
	Caps         map[string]int64 `json:"caps,omitempty"`
	Features     []string         `json:"features,omitempty"`
	TrialDays    int              `json:"trial_days,omitempty"`
}

func toPlanDTO(p catalog.Plan) planDTO {
	dto := planDTO{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		PriceMonthly: moneyDTO{Amount: p.PriceMonthly.Amount, Currency: p.PriceMonthly.Currency},
		TrialDays:    p.TrialDays,
	}
	if p.PriceYearly != nil {
		dto.PriceYearly = &moneyDTO{Amount: p.PriceYearly.Amount, Currency: p.PriceYearly.Currency}
	}
	if len(p.Caps) > 0 {
		dto.Caps = make(map[string]int64, len(p.Caps))
		for res, limit := range p.Caps {
			dto.Caps[string(res)] = limit
		}
	}
	for _, f := range p.Features {
		dto.Features = append(dto.Features, string(f))
	}
	return dto
}

type subscriptionDTO struct {
	ID                 uuid.UUID  `json:"id"`
	PlanID             string     `json:"plan_id"`
	Cycle              string     `json:"cycle"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	PaymentMethod      string     `json:"payment_method,omitempty"`
	Gateway            string     `json:"gateway,omitempty"`
}

func toSubscriptionDTO(s *subscription.Subscription) subscriptionDTO {
	return subscriptionDTO{
		ID:                 s.ID,
		PlanID:             s.PlanID,
		Cycle:              string(s.Cycle),
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		TrialEnd:           s.TrialEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelledAt:        s.CancelledAt,
		PaymentMethod:      string(s.PaymentMethod),
		Gateway:            string(s.GatewayName),
	}
}

type paymentDTO struct {
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	PixQRCode     string `json:"pix_qr_code,omitempty"`
	PixCopyPaste  string `json:"pix_copy_paste,omitempty"`
	BoletoURL     string `json:"boleto_url,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func toPaymentDTO(r *gateway.CheckoutResult) *paymentDTO {
	return &paymentDTO{
		Status:        string(r.Status),
		CheckoutURL:   r.CheckoutURL,
		PixQRCode:     r.PixQRCode,
		PixCopyPaste:  r.PixCopyPaste,
		BoletoURL:     r.BoletoURL,
		FailureReason: r.FailureReason,
	}
}

type usageDTO struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

type invoiceDTO struct {
	ID            uuid.UUID  `json:"id"`
	Number        string     `json:"number"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	PlanID        string     `json:"plan_id"`
	Amount        moneyDTO   `json:"amount"`
	Status        string     `json:"status"`
	Gateway       string     `json:"gateway"`
	PaymentMethod string     `json:"payment_method"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	TaxStatus     string     `json:"tax_status"`
	TaxInvoiceID  string     `json:"tax_invoice_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toInvoiceDTO(inv *invoice.Invoice) invoiceDTO {
	return invoiceDTO{
		ID:            inv.ID,
		Number:        inv.Number,
		TenantID:      inv.TenantID,
		PlanID:        inv.PlanID,
		Amount:        moneyDTO{Amount: inv.Amount.Amount, Currency: inv.Amount.Currency},
		Status:        string(inv.Status),
		Gateway:       string(inv.Gateway),
		PaymentMethod: string(inv.PaymentMethod),
		PaidAt:        inv.PaidAt,
		TaxStatus:     string(inv.TaxStatus),
		TaxInvoiceID:  inv.TaxInvoiceID,
		CreatedAt:     inv.CreatedAt,
	}
}
