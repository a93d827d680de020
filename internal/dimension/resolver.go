// Package dimension decides at which aggregation dimensions a variant can
// legally be computed.
package dimension

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// DefaultCalculated is the fallback for calculated variants with no
// dimension metadata.
var DefaultCalculated = []core.Dimension{core.DimFacility, core.DimCounterparty}

// Source tells how the allowed set was obtained.
type Source string

// Resolution sources.
const (
	SourceExplicit Source = "explicit"
	SourceDerived  Source = "derived"
	SourceFallback Source = "fallback"
)

// Resolution is the allowed dimension set and how it was determined.
type Resolution struct {
	Dimensions []core.Dimension `json:"dimensions"`
	Source     Source           `json:"source"`
}

// Contains reports whether d is allowed.
func (r Resolution) Contains(d core.Dimension) bool {
	for _, x := range r.Dimensions {
		if x == d {
			return true
		}
	}
	return false
}

// ResolveAllowedDimensions returns the ordered, deduplicated set of
// dimensions v can be computed at. See Resolve.
func ResolveAllowedDimensions(v *core.Variant) ([]core.Dimension, error) {
	r, err := Resolve(v)
	if err != nil {
		return nil, err
	}
	return r.Dimensions, nil
}

// Resolve applies, in order:
//
//  1. an explicit allowed_dimensions list, deduplicated in declaration order
//     (it wins over denied_dimensions and per-dimension metadata);
//  2. the dimensions with a formula override, rollup logic, rollup policy or
//     source mapping, in canonical order, minus denied_dimensions;
//  3. a fallback: facility and counterparty for calculated variants, the
//     layers of the source fields for sourced ones.
//
// Unknown dimension names are a ValidationError.
func Resolve(v *core.Variant) (Resolution, error) {
	if len(v.AllowedDimensions) > 0 {
		seen := mapset.NewThreadUnsafeSet[core.Dimension]()
		var dims []core.Dimension
		for _, d := range v.AllowedDimensions {
			if err := check(v, "allowed_dimensions", d); err != nil {
				return Resolution{}, err
			}
			if seen.Add(d) {
				dims = append(dims, d)
			}
		}
		return Resolution{Dimensions: dims, Source: SourceExplicit}, nil
	}

	denied := mapset.NewThreadUnsafeSet[core.Dimension]()
	for _, d := range v.DeniedDimensions {
		if err := check(v, "denied_dimensions", d); err != nil {
			return Resolution{}, err
		}
		denied.Add(d)
	}

	declared := mapset.NewThreadUnsafeSet[core.Dimension]()
	collect := func(where string, dims []core.Dimension) error {
		for _, d := range dims {
			if err := check(v, where, d); err != nil {
				return err
			}
			declared.Add(d)
		}
		return nil
	}
	if err := collect("dimension_formulas", keys(v.DimensionFormulas)); err != nil {
		return Resolution{}, err
	}
	if err := collect("rollup_logic", keys(v.RollupLogic)); err != nil {
		return Resolution{}, err
	}
	if err := collect("rollup", keys(v.Rollup)); err != nil {
		return Resolution{}, err
	}
	if err := collect("source_mappings", keys(v.SourceMappings)); err != nil {
		return Resolution{}, err
	}

	if declared.Cardinality() > 0 {
		var dims []core.Dimension
		for _, d := range core.AllDimensions {
			if declared.Contains(d) && !denied.Contains(d) {
				dims = append(dims, d)
			}
		}
		return Resolution{Dimensions: dims, Source: SourceDerived}, nil
	}

	return Resolution{Dimensions: fallback(v, denied), Source: SourceFallback}, nil
}

func fallback(v *core.Variant, denied mapset.Set[core.Dimension]) []core.Dimension {
	var candidates []core.Dimension
	if v.Type == core.VariantTypeSourced {
		layers := mapset.NewThreadUnsafeSet[core.Dimension]()
		for _, f := range v.SourceFields {
			if ref, err := core.ParseFieldRef(f); err == nil && ref.Layer != "" {
				layers.Add(core.Dimension(strings.ToUpper(ref.Layer)))
			}
		}
		candidates = layers.ToSlice()
		core.SortDimensions(candidates)
	} else {
		candidates = DefaultCalculated
	}
	var dims []core.Dimension
	for _, d := range candidates {
		if !denied.Contains(d) {
			dims = append(dims, d)
		}
	}
	return dims
}

func check(v *core.Variant, where string, d core.Dimension) error {
	if !d.Valid() {
		return core.Errorf(core.KindValidation, v.VariantID, "%s: unknown dimension %q", where, d)
	}
	return nil
}

func keys[V any](m map[core.Dimension]V) []core.Dimension {
	out := make([]core.Dimension, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
