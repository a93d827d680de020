package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/dimension"
	"github.com/leapstack-labs/leapmetrics/internal/lineage"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Issue is one catalog content problem found by Validate.
type Issue struct {
	VariantID string         `json:"variant_id,omitempty"`
	Dimension core.Dimension `json:"dimension,omitempty"`
	Kind      core.Kind      `json:"kind"`
	Message   string         `json:"message"`
}

// ValidateOptions narrows a validation pass.
type ValidateOptions struct {
	// VariantIDs limits the pass; empty checks every variant.
	VariantIDs []string
	// Approval applies the stricter checks required to activate a variant.
	Approval bool
}

// Validate checks catalog content without loading sample data: record
// structure, formula syntax, source resolution at every allowed dimension,
// lineage shape and dependency cycles.
func (e *Engine) Validate(ctx context.Context, opts ValidateOptions) ([]Issue, error) {
	e.mu.RLock()
	calcEngine, builder, resolver, rejected := e.calc, e.lineage, e.deps, e.rejected
	e.mu.RUnlock()

	var issues []Issue
	add := func(id string, dim core.Dimension, err error) {
		for _, err := range flatten(err) {
			issues = append(issues, Issue{VariantID: id, Dimension: dim, Kind: core.KindOf(err), Message: err.Error()})
		}
	}

	wanted := make(map[string]bool, len(opts.VariantIDs))
	for _, id := range opts.VariantIDs {
		wanted[id] = true
	}
	var ids []string
	for _, err := range rejected {
		id := errorID(err)
		if len(wanted) == 0 || wanted[id] {
			add(id, "", err)
			delete(wanted, id)
		}
	}
	for _, id := range opts.VariantIDs {
		if wanted[id] {
			ids = append(ids, id)
		}
	}
	if len(opts.VariantIDs) > 0 && len(ids) == 0 {
		return issues, nil
	}

	variants, err := e.selectVariants(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, v := range variants {
		if _, err := e.catalog.GetMetric(ctx, v.ParentMetricID); err != nil {
			add(v.VariantID, "", err)
		}
		check := catalog.ValidateVariant
		if opts.Approval {
			check = catalog.ValidateForApproval
		}
		if err := check(v); err != nil {
			add(v.VariantID, "", err)
			continue
		}

		dims, err := dimension.Resolve(v)
		if err != nil {
			add(v.VariantID, "", err)
			continue
		}
		for _, dim := range dims.Dimensions {
			if _, err := calcEngine.Explain(v, dim); err != nil {
				add(v.VariantID, dim, err)
			}
		}

		g, err := builder.Build(v)
		if err == nil {
			err = lineage.Validate(g)
		}
		if err != nil {
			add(v.VariantID, "", err)
		}
	}

	if err := resolver.CheckCycles(ctx); err != nil {
		var ce *core.Error
		if !errors.As(err, &ce) || ce.Kind != core.KindCyclicDependency {
			return nil, err
		}
		add(ce.ID, "", err)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].VariantID != issues[j].VariantID {
			return issues[i].VariantID < issues[j].VariantID
		}
		return issues[i].Dimension.Order() < issues[j].Dimension.Order()
	})
	return issues, nil
}

func (e *Engine) selectVariants(ctx context.Context, ids []string) ([]*core.Variant, error) {
	if len(ids) == 0 {
		return e.catalog.ListVariants(ctx)
	}
	out := make([]*core.Variant, 0, len(ids))
	for _, id := range ids {
		v, err := e.catalog.GetVariant(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// flatten splits an errors.Join result into its parts, including one
// wrapped by a kind-bearing *core.Error.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	var ce *core.Error
	if errors.As(err, &ce) && ce.Err != nil {
		if joined, ok := ce.Err.(interface{ Unwrap() []error }); ok {
			var out []error
			for _, e := range joined.Unwrap() {
				out = append(out, core.Wrap(ce.Kind, ce.ID, e, ce.Msg))
			}
			return out
		}
	}
	return []error{err}
}

// errorID returns the record id carried by err, if any.
func errorID(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.ID
	}
	return ""
}
