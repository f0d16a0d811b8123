package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subdomains must be DNS-safe labels.
const maxSubdomainLength = 63

var subdomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

var taxIDDigits = regexp.MustCompile(`\D`)

// Directory looks clinics up for request resolution and billing, with a
// short-lived cache in front of the store.
type Directory struct {
	store Store
	cache *ttlCache
	log   *slog.Logger
	now   func() time.Time
}

// Option configures the Directory.
type Option func(*Directory)

func WithLogger(log *slog.Logger) Option {
	return func(d *Directory) {
		if log != nil {
			d.log = log
		}
	}
}

// WithCacheTTL overrides how long resolved tenants are served from memory.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.cache = newTTLCache(ttl)
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDirectory(store Store, opts ...Option) *Directory {
	if store == nil {
		panic("tenant: Store is required")
	}
	d := &Directory{
		store: store,
		cache: newTTLCache(5 * time.Minute),
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterInput is the data needed to open a clinic account.
type RegisterInput struct {
	Subdomain string
	Name      string
	Email     string
	TaxID     string
}

// Register creates a new active tenant. The tax id is stored digits-only so
// the payment and NFS-e providers receive it in the format they expect.
func (d *Directory) Register(ctx context.Context, input RegisterInput) (*Tenant, error) {
	subdomain := strings.ToLower(strings.TrimSpace(input.Subdomain))
	if !validSubdomain(subdomain) {
		return nil, fmt.Errorf("%w: subdomain %q", ErrInvalidIdentifier, input.Subdomain)
	}

	taxID := taxIDDigits.ReplaceAllString(input.TaxID, "")
	if len(taxID) != 11 && len(taxID) != 14 {
		return nil, fmt.Errorf("%w: tax id must be a CPF or CNPJ", ErrInvalidIdentifier)
	}

	now := d.now()
	t := &Tenant{
		ID:        uuid.New(),
		Subdomain: subdomain,
		Name:      strings.TrimSpace(input.Name),
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		TaxID:     taxID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.Create(ctx, t); err != nil {
		return nil, err
	}

	d.log.InfoContext(ctx, "tenant registered", "tenant_id", t.ID, "subdomain", t.Subdomain)
	return t, nil
}

// Get resolves a tenant by id, serving from cache when fresh.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	now := d.now()
	if t, ok := d.cache.get("id:"+id.String(), now); ok {
		return t, nil
	}

	t, err := d.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cacheTenant(t, now)
	return t, nil
}

// BySubdomain resolves a tenant by its subdomain.
func (d *Directory) BySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if !validSubdomain(subdomain) {
		return nil, fmt.Errorf("%w: subdomain %q", ErrInvalidIdentifier, subdomain)
	}

	now := d.now()
	if t, ok := d.cache.get("sub:"+subdomain, now); ok {
		return t, nil
	}

	t, err := d.store.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	d.cacheTenant(t, now)
	return t, nil
}

// SetActive flips the tenant's active flag and drops it from the cache so
// deactivation takes effect on the next request.
func (d *Directory) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Tenant, error) {
	t, err := d.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	t.Active = active
	t.UpdatedAt = d.now()
	if err := d.store.Update(ctx, t); err != nil {
		return nil, err
	}

	d.cache.invalidate("id:"+t.ID.String(), "sub:"+t.Subdomain)
	d.log.InfoContext(ctx, "tenant active flag changed", "tenant_id", t.ID, "active", active)
	return t, nil
}

func (d *Directory) cacheTenant(t *Tenant, now time.Time) {
	d.cache.set("id:"+t.ID.String(), t, now)
	d.cache.set("sub:"+t.Subdomain, t, now)
}

func validSubdomain(s string) bool {
	return s != "" && len(s) <= maxSubdomainLength && subdomainPattern.MatchString(s)
}
