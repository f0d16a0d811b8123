package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/backend/pkg/pg"
	"github.com/clinicore/backend/svc/tenant"
)

// TenantStore implements tenant.Store.
type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &TenantStore{pool: pool}
}

const tenantColumns = `id, subdomain, name, email, tax_id, active, created_at, updated_at`

func (s *TenantStore) Create(ctx context.Context, t *tenant.Tenant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, strings.ToLower(t.Subdomain), t.Name, t.Email, t.TaxID,
		t.Active, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKey(err) {
			return tenant.ErrSubdomainTaken
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *TenantStore) Update(ctx context.Context, t *tenant.Tenant) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants SET subdomain=$2, name=$3, email=$4, tax_id=$5,
			active=$6, updated_at=$7
		WHERE id=$1`,
		t.ID, strings.ToLower(t.Subdomain), t.Name, t.Email, t.TaxID,
		t.Active, t.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKey(err) {
			return tenant.ErrSubdomainTaken
		}
		return fmt.Errorf("update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return s.scanOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (s *TenantStore) GetBySubdomain(ctx context.Context, subdomain string) (*tenant.Tenant, error) {
	return s.scanOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE subdomain = $1`,
		strings.ToLower(subdomain))
}

func (s *TenantStore) scanOne(ctx context.Context, query string, args ...any) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("select tenant: %w", err)
	}
	return t, nil
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := row.Scan(&t.ID, &t.Subdomain, &t.Name, &t.Email, &t.TaxID,
		&t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
