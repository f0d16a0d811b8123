package invoice_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/invoice"
)

func paymentParams(paymentID string) invoice.GatewayPaymentParams {
	return invoice.GatewayPaymentParams{
		TenantID:         uuid.New(),
		SubscriptionID:   uuid.New(),
		PlanID:           "pro",
		Amount:           catalog.Money{Amount: 19990, Currency: "BRL"},
		Gateway:          gateway.KindAsaas,
		GatewayPaymentID: paymentID,
		PaymentMethod:    gateway.MethodPix,
	}
}

func TestService_RecordGatewayPayment(t *testing.T) {
	t.Parallel()

	t.Run("creates a paid invoice with a number", func(t *testing.T) {
		t.Parallel()
		svc := invoice.NewService(invoice.NewMemoryStore())

		inv, created, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, invoice.StatusPaid, inv.Status)
		assert.True(t, strings.HasPrefix(inv.Number, "INV-"))
		require.NotNil(t, inv.PaidAt)
		assert.Equal(t, invoice.TaxStatusNone, inv.TaxStatus)
	})

	t.Run("same gateway payment id returns the existing invoice", func(t *testing.T) {
		t.Parallel()
		svc := invoice.NewService(invoice.NewMemoryStore())

		first, created, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		_, total, err := svc.List(context.Background(), invoice.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("missing gateway payment id is rejected", func(t *testing.T) {
		t.Parallel()
		svc := invoice.NewService(invoice.NewMemoryStore())

		_, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams(""))
		require.ErrorIs(t, err, invoice.ErrMissingGatewayPaymentID)
	})
}

func TestService_TaxMarks(t *testing.T) {
	t.Parallel()

	svc := invoice.NewService(invoice.NewMemoryStore())
	inv, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
	require.NoError(t, err)

	require.NoError(t, svc.MarkTaxPending(context.Background(), inv.ID))
	got, err := svc.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.TaxStatusPending, got.TaxStatus)

	require.NoError(t, svc.MarkTaxFailed(context.Background(), inv.ID, "municipality endpoint timeout"))
	got, err = svc.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.TaxStatusError, got.TaxStatus)
	assert.Equal(t, "municipality endpoint timeout", got.TaxNote)

	failed, err := svc.ListTaxFailed(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, svc.MarkTaxIssued(context.Background(), inv.ID, "nfse_123"))
	got, err = svc.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.TaxStatusIssued, got.TaxStatus)
	assert.Equal(t, "nfse_123", got.TaxInvoiceID)
	assert.Empty(t, got.TaxNote)
}

func TestService_List(t *testing.T) {
	t.Parallel()

	svc := invoice.NewService(invoice.NewMemoryStore())
	tenantA := uuid.New()

	for i := 0; i < 5; i++ {
		params := paymentParams(uuid.NewString())
		if i < 3 {
			params.TenantID = tenantA
		}
		_, _, err := svc.RecordGatewayPayment(context.Background(), params)
		require.NoError(t, err)
	}

	t.Run("filters by tenant", func(t *testing.T) {
		t.Parallel()
		got, total, err := svc.List(context.Background(), invoice.ListFilter{TenantID: &tenantA})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, got, 3)
	})

	t.Run("pages beyond the end return empty", func(t *testing.T) {
		t.Parallel()
		got, total, err := svc.List(context.Background(), invoice.ListFilter{Page: 2, PerPage: 10})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, got)
	})

	t.Run("pagination splits results", func(t *testing.T) {
		t.Parallel()
		first, total, err := svc.List(context.Background(), invoice.ListFilter{Page: 1, PerPage: 3})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, first, 3)

		second, _, err := svc.List(context.Background(), invoice.ListFilter{Page: 2, PerPage: 3})
		require.NoError(t, err)
		assert.Len(t, second, 2)
	})
}

func TestService_Overview(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	clock := now
	svc := invoice.NewService(invoice.NewMemoryStore(), invoice.WithClock(func() time.Time { return clock }))

	// Two invoices paid last month, one this month.
	clock = now.AddDate(0, -1, 0)
	_, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
	require.NoError(t, err)
	_, _, err = svc.RecordGatewayPayment(context.Background(), paymentParams("pay_2"))
	require.NoError(t, err)

	clock = now
	_, _, err = svc.RecordGatewayPayment(context.Background(), paymentParams("pay_3"))
	require.NoError(t, err)

	overview, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, overview.CountByStatus[invoice.StatusPaid])
	assert.Equal(t, int64(3*19990), overview.TotalPaidRevenue)
	assert.Equal(t, int64(19990), overview.MonthPaidRevenue)
}

func TestService_Payments(t *testing.T) {
	t.Parallel()

	t.Run("confirmed payment lands with the invoice", func(t *testing.T) {
		t.Parallel()
		svc := invoice.NewService(invoice.NewMemoryStore())

		inv, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
		require.NoError(t, err)

		payments, err := svc.Payments(context.Background(), inv.ID)
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, invoice.PaymentConfirmed, payments[0].Status)
		assert.Equal(t, "pay_1", payments[0].GatewayPaymentID)
		assert.NotNil(t, payments[0].PaidAt)
	})

	t.Run("second confirmed payment for one invoice is rejected", func(t *testing.T) {
		t.Parallel()
		store := invoice.NewMemoryStore()
		svc := invoice.NewService(store)

		inv, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
		require.NoError(t, err)

		err = store.AddPayment(context.Background(), &invoice.Payment{
			ID:               uuid.New(),
			InvoiceID:        inv.ID,
			GatewayPaymentID: "pay_other",
			Status:           invoice.PaymentConfirmed,
			CreatedAt:        time.Now().UTC(),
		})
		require.ErrorIs(t, err, invoice.ErrPaymentAlreadyConfirmed)

		payments, err := svc.Payments(context.Background(), inv.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})

	t.Run("failed attempts accumulate alongside the confirmed one", func(t *testing.T) {
		t.Parallel()
		svc := invoice.NewService(invoice.NewMemoryStore())

		inv, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_1"))
		require.NoError(t, err)

		for _, id := range []string{"pay_retry_1", "pay_retry_2"} {
			_, err := svc.RecordFailedAttempt(context.Background(), inv.ID, paymentParams(id))
			require.NoError(t, err)
		}

		payments, err := svc.Payments(context.Background(), inv.ID)
		require.NoError(t, err)
		require.Len(t, payments, 3)

		confirmed := 0
		for _, p := range payments {
			if p.Status == invoice.PaymentConfirmed {
				confirmed++
			}
		}
		assert.Equal(t, 1, confirmed)
	})

	t.Run("failed attempt against an unknown invoice", func(t *testing.T) {
		t.Parallel()
		svc := invoice.NewService(invoice.NewMemoryStore())

		_, err := svc.RecordFailedAttempt(context.Background(), uuid.New(), paymentParams("pay_1"))
		require.ErrorIs(t, err, invoice.ErrInvoiceNotFound)
	})
}

func TestService_ListTaxFailed(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	svc := invoice.NewService(invoice.NewMemoryStore(), invoice.WithClock(func() time.Time { return clock }))

	// The failed emission sits on the oldest invoice, buried under well over
	// a listing page of newer paid invoices.
	oldest, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams("pay_0"))
	require.NoError(t, err)
	require.NoError(t, svc.MarkTaxFailed(context.Background(), oldest.ID, "municipality endpoint timeout"))

	for i := 1; i <= 250; i++ {
		clock = clock.Add(time.Minute)
		_, _, err := svc.RecordGatewayPayment(context.Background(), paymentParams(fmt.Sprintf("pay_%d", i)))
		require.NoError(t, err)
	}

	failed, err := svc.ListTaxFailed(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, oldest.ID, failed[0].ID)
}
