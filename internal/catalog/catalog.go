// Package catalog holds parent metrics and variants: versioned records with
// strict partial updates, a lifecycle state machine, and a maintained
// reverse index of upstream references.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Config holds catalog construction options.
type Config struct {
	// Store persists records. Defaults to a new MemoryStore.
	Store  core.CatalogStore
	Logger *slog.Logger
}

// Catalog is the metric catalog service. Writes to one record are
// serialized; the reverse index is updated in the same critical section.
type Catalog struct {
	store     core.CatalogStore
	logger    *slog.Logger
	lifecycle *LifecycleMachine
	locks     *keyedMutex

	indexMu sync.RWMutex
	index   *reverseIndex
}

// New creates a catalog over cfg.Store and builds the reverse index from the
// variants already stored.
func New(ctx context.Context, cfg Config) (*Catalog, error) {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	c := &Catalog{
		store:     cfg.Store,
		logger:    cfg.Logger,
		lifecycle: NewLifecycleMachine(),
		locks:     newKeyedMutex(),
		index:     newReverseIndex(),
	}
	if err := c.RebuildIndex(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Store returns the underlying record store.
func (c *Catalog) Store() core.CatalogStore { return c.store }

// Lifecycle returns the status machine used for transitions.
func (c *Catalog) Lifecycle() *LifecycleMachine { return c.lifecycle }

// RebuildIndex recomputes the reverse index from the store.
func (c *Catalog) RebuildIndex(ctx context.Context) error {
	variants, err := c.store.ListVariants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list variants: %w", err)
	}
	ix := newReverseIndex()
	for _, v := range variants {
		ix.put(v)
	}
	c.indexMu.Lock()
	c.index = ix
	c.indexMu.Unlock()
	return nil
}

// ============================================================================
// Reads
// ============================================================================

// GetMetric returns a parent metric.
func (c *Catalog) GetMetric(ctx context.Context, id string) (*core.ParentMetric, error) {
	return c.store.GetMetric(ctx, id)
}

// ListMetrics returns all parent metrics sorted by id.
func (c *Catalog) ListMetrics(ctx context.Context) ([]*core.ParentMetric, error) {
	return c.store.ListMetrics(ctx)
}

// GetVariant returns a variant.
func (c *Catalog) GetVariant(ctx context.Context, id string) (*core.Variant, error) {
	return c.store.GetVariant(ctx, id)
}

// ListVariants returns all variants sorted by id.
func (c *Catalog) ListVariants(ctx context.Context) ([]*core.Variant, error) {
	return c.store.ListVariants(ctx)
}

// VariantsOf returns the variants of a parent metric sorted by id.
func (c *Catalog) VariantsOf(ctx context.Context, metricID string) ([]*core.Variant, error) {
	all, err := c.store.ListVariants(ctx)
	if err != nil {
		return nil, err
	}
	var out []*core.Variant
	for _, v := range all {
		if v.ParentMetricID == metricID {
			out = append(out, v)
		}
	}
	return out, nil
}

// Referencing returns, from the reverse index, the ids of variants whose
// upstream_inputs reference id or name.
func (c *Catalog) Referencing(id, name string) []string {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	return c.index.lookup(id, name)
}

// ScanReferencing finds the same set as Referencing by scanning every
// variant. It is the consistency path for the index.
func (c *Catalog) ScanReferencing(ctx context.Context, id, name string) ([]string, error) {
	all, err := c.store.ListVariants(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range all {
		for _, r := range v.UpstreamInputs {
			if r.Matches(id, name) {
				out = append(out, v.VariantID)
				break
			}
		}
	}
	return out, nil
}

// ============================================================================
// Writes
// ============================================================================

// UpsertMetric creates or replaces a parent metric.
func (c *Catalog) UpsertMetric(ctx context.Context, m *core.ParentMetric, expectedRevision int64) (*core.ParentMetric, error) {
	if err := ValidateMetric(m); err != nil {
		return nil, err
	}
	unlock := c.locks.Lock("metric:" + m.MetricID)
	defer unlock()

	rec := m.Clone()
	if err := c.store.PutMetric(ctx, rec, expectedRevision); err != nil {
		return nil, err
	}
	c.logger.Debug("metric stored", slog.String("metric_id", rec.MetricID), slog.Int64("revision", rec.Revision))
	return rec, nil
}

// UpsertVariant creates or replaces a variant. An empty status defaults to DRAFT.
func (c *Catalog) UpsertVariant(ctx context.Context, v *core.Variant, expectedRevision int64) (*core.Variant, error) {
	rec := v.Clone()
	if rec.Status == "" {
		rec.Status = core.StatusDraft
	}
	if err := ValidateVariant(rec); err != nil {
		c.logContentError(rec.VariantID, err)
		return nil, err
	}
	unlock := c.locks.Lock("variant:" + rec.VariantID)
	defer unlock()
	if err := c.putVariant(ctx, rec, expectedRevision); err != nil {
		return nil, err
	}
	return rec, nil
}

// PatchVariant applies a partial update to a stored variant.
func (c *Catalog) PatchVariant(ctx context.Context, id string, p *VariantPatch) (*core.Variant, error) {
	unlock := c.locks.Lock("variant:" + id)
	defer unlock()

	existing, err := c.store.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := expectedRevision(p.Revision)
	if err := core.CheckRevision(id, existing.Revision, expected); err != nil {
		return nil, err
	}
	updated, err := ApplyVariantPatch(existing, p)
	if err != nil {
		return nil, err
	}
	if err := ValidateVariant(updated); err != nil {
		c.logContentError(id, err)
		return nil, err
	}
	if err := c.putVariant(ctx, updated, existing.Revision); err != nil {
		return nil, err
	}
	c.logger.Info("variant patched", slog.String("variant_id", id), slog.Int64("revision", updated.Revision))
	return updated, nil
}

// PatchMetric applies a partial update to a stored parent metric.
func (c *Catalog) PatchMetric(ctx context.Context, id string, p *MetricPatch) (*core.ParentMetric, error) {
	unlock := c.locks.Lock("metric:" + id)
	defer unlock()

	existing, err := c.store.GetMetric(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := core.CheckRevision(id, existing.Revision, expectedRevision(p.Revision)); err != nil {
		return nil, err
	}
	updated, err := ApplyMetricPatch(existing, p)
	if err != nil {
		return nil, err
	}
	if err := ValidateMetric(updated); err != nil {
		return nil, err
	}
	if err := c.store.PutMetric(ctx, updated, existing.Revision); err != nil {
		return nil, err
	}
	return updated, nil
}

// putVariant writes rec and refreshes its index entries. Callers hold the
// record lock.
func (c *Catalog) putVariant(ctx context.Context, rec *core.Variant, expectedRevision int64) error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	if err := c.store.PutVariant(ctx, rec, expectedRevision); err != nil {
		return err
	}
	c.index.put(rec)
	return nil
}

// TransitionOptions carries action-specific arguments.
type TransitionOptions struct {
	// SupersededBy names the successor variant; required when deprecating an
	// ACTIVE variant.
	SupersededBy string
	// ExpectedRevision guards the transitioned record; defaults to AnyRevision
	// when zero.
	ExpectedRevision int64
}

// Transition applies a lifecycle action to a variant.
func (c *Catalog) Transition(ctx context.Context, id string, action Action, opts TransitionOptions) (*core.Variant, error) {
	expected := opts.ExpectedRevision
	if expected == 0 {
		expected = core.AnyRevision
	}

	ids := []string{"variant:" + id}
	if opts.SupersededBy != "" {
		ids = append(ids, "variant:"+opts.SupersededBy)
	}
	unlock := c.locks.Lock(ids...)
	defer unlock()

	v, err := c.store.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := core.CheckRevision(id, v.Revision, expected); err != nil {
		return nil, err
	}
	to, err := c.lifecycle.Target(action, v.Status)
	if err != nil {
		return nil, err
	}

	var successor *core.Variant
	switch action {
	case ActionApprove:
		if _, err := c.store.GetMetric(ctx, v.ParentMetricID); err != nil {
			if core.KindOf(err) == core.KindNotFound {
				return nil, core.Errorf(core.KindValidation, id, "parent metric %q does not exist", v.ParentMetricID)
			}
			return nil, err
		}
		if err := ValidateForApproval(v); err != nil {
			c.logContentError(id, err)
			return nil, err
		}
	case ActionDeprecate:
		if v.Status == core.StatusActive && opts.SupersededBy == "" {
			return nil, core.Errorf(core.KindValidation, id, "deprecating an ACTIVE variant requires a superseding variant")
		}
		if opts.SupersededBy != "" {
			if opts.SupersededBy == id {
				return nil, core.Errorf(core.KindValidation, id, "a variant cannot supersede itself")
			}
			successor, err = c.store.GetVariant(ctx, opts.SupersededBy)
			if err != nil {
				if core.KindOf(err) == core.KindNotFound {
					return nil, core.Errorf(core.KindValidation, id, "superseding variant %q does not exist", opts.SupersededBy)
				}
				return nil, err
			}
			v.SupersededByVariantID = successor.VariantID
			successor.SupersedesVariantID = id
		}
	}

	from := v.Status
	v.Status = to
	if successor != nil {
		if err := c.putVariant(ctx, successor, successor.Revision); err != nil {
			return nil, err
		}
	}
	if err := c.putVariant(ctx, v, v.Revision); err != nil {
		return nil, err
	}
	c.logger.Info("variant transitioned",
		slog.String("variant_id", id),
		slog.String("action", string(action)),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return v, nil
}

// logContentError reports catalog content bugs for curator follow-up.
func (c *Catalog) logContentError(id string, err error) {
	switch core.KindOf(err) {
	case core.KindFormula, core.KindUnresolvedSource:
		c.logger.Warn("catalog content error", slog.String("variant_id", id), slog.String("error", err.Error()))
	}
}
