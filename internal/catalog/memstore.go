package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// MemoryStore is an in-memory core.CatalogStore. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	metrics  map[string]*core.ParentMetric
	variants map[string]*core.Variant
}

var _ core.CatalogStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics:  make(map[string]*core.ParentMetric),
		variants: make(map[string]*core.Variant),
	}
}

// GetMetric returns a copy of the metric with the given id.
func (s *MemoryStore) GetMetric(_ context.Context, id string) (*core.ParentMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[id]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, id, "metric not found")
	}
	return m.Clone(), nil
}

// ListMetrics returns all metrics sorted by id.
func (s *MemoryStore) ListMetrics(_ context.Context) ([]*core.ParentMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.ParentMetric, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricID < out[j].MetricID })
	return out, nil
}

// PutMetric stores m, checking expectedRevision unless it is core.AnyRevision.
func (s *MemoryStore) PutMetric(_ context.Context, m *core.ParentMetric, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if old, ok := s.metrics[m.MetricID]; ok {
		current = old.Revision
	}
	if err := core.CheckRevision(m.MetricID, current, expectedRevision); err != nil {
		return err
	}
	m.Revision = current + 1
	s.metrics[m.MetricID] = m.Clone()
	return nil
}

// GetVariant returns a copy of the variant with the given id.
func (s *MemoryStore) GetVariant(_ context.Context, id string) (*core.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, id, "variant not found")
	}
	return v.Clone(), nil
}

// ListVariants returns all variants sorted by id.
func (s *MemoryStore) ListVariants(_ context.Context) ([]*core.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Variant, 0, len(s.variants))
	for _, v := range s.variants {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

// PutVariant stores v, checking expectedRevision unless it is core.AnyRevision.
func (s *MemoryStore) PutVariant(_ context.Context, v *core.Variant, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if old, ok := s.variants[v.VariantID]; ok {
		current = old.Revision
	}
	if err := core.CheckRevision(v.VariantID, current, expectedRevision); err != nil {
		return err
	}
	v.Revision = current + 1
	s.variants[v.VariantID] = v.Clone()
	return nil
}
