package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*Invoice
	payments map[uuid.UUID][]*Payment // keyed by invoice id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[uuid.UUID]*Invoice),
		payments: make(map[uuid.UUID][]*Payment),
	}
}

func (s *MemoryStore) CreatePaid(_ context.Context, inv *Invoice, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.GatewayPaymentID != "" {
		for _, existing := range s.invoices {
			if existing.GatewayPaymentID == inv.GatewayPaymentID {
				return ErrPaymentAlreadyConfirmed
			}
		}
	}
	invCp := *inv
	s.invoices[inv.ID] = &invCp
	payCp := *p
	s.payments[inv.ID] = append(s.payments[inv.ID], &payCp)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; !ok {
		return ErrInvoiceNotFound
	}
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

func (s *MemoryStore) AddPayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[p.InvoiceID]; !ok {
		return ErrInvoiceNotFound
	}
	if p.Status == PaymentConfirmed {
		for _, existing := range s.payments[p.InvoiceID] {
			if existing.Status == PaymentConfirmed {
				return ErrPaymentAlreadyConfirmed
			}
		}
	}
	cp := *p
	s.payments[p.InvoiceID] = append(s.payments[p.InvoiceID], &cp)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryStore) GetByGatewayPaymentID(_ context.Context, paymentID string) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if paymentID == "" {
		return nil, ErrInvoiceNotFound
	}
	for _, inv := range s.invoices {
		if inv.GatewayPaymentID == paymentID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (s *MemoryStore) PaymentsByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempts := s.payments[invoiceID]
	out := make([]*Payment, 0, len(attempts))
	for _, p := range attempts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Invoice, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter = filter.normalized()

	var matched []*Invoice
	for _, inv := range s.invoices {
		if filter.TenantID != nil && inv.TenantID != *filter.TenantID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		cp := *inv
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) ListByTaxStatus(_ context.Context, status TaxStatus) ([]*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Invoice
	for _, inv := range s.invoices {
		if inv.TaxStatus == status {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Aggregates(_ context.Context, monthStart time.Time) (Aggregates, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := Aggregates{CountByStatus: make(map[Status]int)}
	for _, inv := range s.invoices {
		agg.CountByStatus[inv.Status]++
		if inv.Status != StatusPaid || inv.PaidAt == nil {
			continue
		}
		agg.TotalPaidRevenue += inv.Amount.Amount
		if !inv.PaidAt.Before(monthStart) {
			agg.MonthPaidRevenue += inv.Amount.Amount
		}
	}
	return agg, nil
}
