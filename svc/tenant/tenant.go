// Package tenant is the clinic directory: every clinic using the platform is
// a tenant with its own subdomain and the fiscal identity (CPF or CNPJ) the
// payment and tax-invoice integrations require. It also carries the HTTP
// middleware that resolves the tenant for a request.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTenantNotFound    = errors.New("tenant: not found")
	ErrInactiveTenant    = errors.New("tenant: clinic is deactivated")
	ErrSubdomainTaken    = errors.New("tenant: subdomain already in use")
	ErrInvalidIdentifier = errors.New("tenant: invalid identifier")
)

// Tenant is a clinic account.
type Tenant struct {
	ID        uuid.UUID
	Subdomain string
	Name      string
	Email     string // billing contact
	TaxID     string // CPF or CNPJ, required by the Brazilian payment and NFS-e providers
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists tenants.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Update(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	// GetBySubdomain resolves a tenant by its subdomain, case-insensitively.
	GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error)
}
