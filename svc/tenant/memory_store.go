package tenant

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*Tenant
	subdomain map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]*Tenant),
		subdomain: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(_ context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(t.Subdomain)
	if _, taken := s.subdomain[key]; taken {
		return ErrSubdomainTaken
	}

	cp := *t
	s.byID[t.ID] = &cp
	s.subdomain[key] = t.ID
	return nil
}

func (s *MemoryStore) Update(_ context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[t.ID]
	if !ok {
		return ErrTenantNotFound
	}
	if !strings.EqualFold(old.Subdomain, t.Subdomain) {
		key := strings.ToLower(t.Subdomain)
		if _, taken := s.subdomain[key]; taken {
			return ErrSubdomainTaken
		}
		delete(s.subdomain, strings.ToLower(old.Subdomain))
		s.subdomain[key] = t.ID
	}

	cp := *t
	s.byID[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetBySubdomain(_ context.Context, subdomain string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.subdomain[strings.ToLower(subdomain)]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}
