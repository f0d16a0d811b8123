package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/subscription"
)

// BillingAdapter exposes the directory to the billing domain as a
// subscription.TenantDirectory, translating entities and sentinels so the
// billing packages never import this one.
type BillingAdapter struct {
	dir *Directory
}

func NewBillingAdapter(dir *Directory) *BillingAdapter {
	if dir == nil {
		panic("tenant: Directory is required")
	}
	return &BillingAdapter{dir: dir}
}

func (a *BillingAdapter) Get(ctx context.Context, id uuid.UUID) (*subscription.TenantInfo, error) {
	t, err := a.dir.Get(ctx, id)
	if err != nil {
		return nil, subscription.ErrTenantNotFound
	}
	return &subscription.TenantInfo{
		ID:    t.ID,
		Name:  t.Name,
		Email: t.Email,
		TaxID: t.TaxID,
	}, nil
}
