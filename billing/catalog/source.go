package catalog

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

type memSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewMemorySource returns an in-memory Source with a deep copy of the given
// plans. Panics without plans so the service never starts with an empty
// catalog. Copying prevents callers from mutating the source afterwards.
func NewMemorySource(plans ...Plan) Source {
	if len(plans) == 0 {
		panic("catalog: at least one plan is required")
	}
	copied := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		copied[plan.ID] = clonePlan(plan)
	}
	return &memSource{plans: copied}
}

func (s *memSource) Load(_ context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Plan, len(s.plans))
	for id, plan := range s.plans {
		out[id] = clonePlan(plan)
	}
	return out, nil
}

func clonePlan(p Plan) Plan {
	cloned := p
	cloned.Caps = maps.Clone(p.Caps)
	cloned.Features = slices.Clone(p.Features)
	if p.PriceYearly != nil {
		yearly := *p.PriceYearly
		cloned.PriceYearly = &yearly
	}
	return cloned
}

type fileSource struct {
	path string
}

// NewFileSource returns a Source that reads the plan catalog from a YAML
// file. The file maps plan IDs to plan definitions:
//
//	starter:
//	  id: starter
//	  name: starter
//	  display_name: Starter
//	  status: active
//	  price_monthly: {amount: 9990, currency: BRL}
//	  caps: {patients: 100, dentists: 2}
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

func (s *fileSource) Load(_ context.Context) (map[string]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog %s: %w", s.path, err)
	}

	var plans map[string]Plan
	if err := yaml.Unmarshal(raw, &plans); err != nil {
		return nil, fmt.Errorf("parse plan catalog %s: %w", s.path, err)
	}
	return plans, nil
}
