package core

import (
	"context"

	"github.com/google/uuid"
)

type tenantIDCtxKey struct{}

// WithTenantID stores the authenticated tenant id in the context. The auth
// middleware is the only writer.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantIDCtxKey{}, tenantID)
}

// TenantIDFromContext retrieves the tenant id set by the auth middleware.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantIDCtxKey{}).(uuid.UUID)
	return id, ok
}
