package tenant

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicore/backend/core"
)

// Resolver extracts a tenant identifier from a request. An empty string with
// a nil error means the request carries no tenant.
type Resolver func(r *http.Request) (string, error)

// NewSubdomainResolver reads the tenant subdomain from the request host,
// stripping the platform suffix, e.g. "sorriso.clinicore.app" resolves to
// "sorriso". The bare platform domain resolves to no tenant.
func NewSubdomainResolver(suffix string) Resolver {
	suffix = strings.TrimPrefix(strings.ToLower(suffix), ".")
	return func(r *http.Request) (string, error) {
		host := strings.ToLower(r.Host)
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}

		if suffix == "" || host == suffix || !strings.HasSuffix(host, "."+suffix) {
			return "", nil
		}

		label := strings.TrimSuffix(host, "."+suffix)
		if strings.Contains(label, ".") || label == "www" {
			return "", nil
		}
		if !validSubdomain(label) {
			return "", ErrInvalidIdentifier
		}
		return label, nil
	}
}

// NewHeaderResolver reads the tenant identifier from a header, for internal
// and admin tooling. Defaults to X-Tenant-ID.
func NewHeaderResolver(name string) Resolver {
	if name == "" {
		name = "X-Tenant-ID"
	}
	return func(r *http.Request) (string, error) {
		return strings.TrimSpace(r.Header.Get(name)), nil
	}
}

// NewCompositeResolver tries resolvers in order and returns the first
// identifier found.
func NewCompositeResolver(resolvers ...Resolver) Resolver {
	return func(r *http.Request) (string, error) {
		for _, resolve := range resolvers {
			id, err := resolve(r)
			if err != nil {
				return "", err
			}
			if id != "" {
				return id, nil
			}
		}
		return "", nil
	}
}

// Middleware resolves the tenant for each request and stores both the full
// tenant and its id in the context. Requests without an identifier pass
// through untouched; downstream routes that need a tenant reject them.
// Deactivated clinics are cut off here.
func Middleware(resolve Resolver, dir *Directory) func(http.Handler) http.Handler {
	if resolve == nil || dir == nil {
		panic("tenant: Resolver and Directory are required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier, err := resolve(r)
			if err != nil {
				core.RenderError(w, core.ErrBadRequest)
				return
			}
			if identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			t, err := lookup(r, dir, identifier)
			if err != nil {
				switch {
				case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrInvalidIdentifier):
					core.RenderError(w, core.ErrNotFound)
				default:
					core.RenderError(w, err)
				}
				return
			}
			if !t.Active {
				core.RenderError(w, core.ErrForbidden)
				return
			}

			ctx := WithTenant(r.Context(), t)
			ctx = core.WithTenantID(ctx, t.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookup accepts either a tenant uuid (header-resolved) or a subdomain.
func lookup(r *http.Request, dir *Directory, identifier string) (*Tenant, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return dir.Get(r.Context(), id)
	}
	return dir.BySubdomain(r.Context(), identifier)
}
