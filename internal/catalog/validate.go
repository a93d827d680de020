package catalog

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/internal/formula"
	"github.com/leapstack-labs/leapmetrics/internal/rollup"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// ValidateMetric checks the structural invariants of a parent metric.
func ValidateMetric(m *core.ParentMetric) error {
	if m.MetricID == "" {
		return core.Errorf(core.KindValidation, "", "metric_id is required")
	}
	switch m.Class {
	case "", core.MetricClassSourced, core.MetricClassCalculated, core.MetricClassHybrid:
	default:
		return core.Errorf(core.KindValidation, m.MetricID, "unknown metric_class %q", m.Class)
	}
	switch m.Direction {
	case "", core.DirectionHigherBetter, core.DirectionLowerBetter, core.DirectionNeutral:
	default:
		return core.Errorf(core.KindValidation, m.MetricID, "unknown direction %q", m.Direction)
	}
	return nil
}

// ValidateVariant checks the structural invariants of a variant and parses
// every formula it declares, so malformed formulas fail at edit time.
func ValidateVariant(v *core.Variant) error {
	if v.VariantID == "" {
		return core.Errorf(core.KindValidation, "", "variant_id is required")
	}
	if v.ParentMetricID == "" {
		return core.Errorf(core.KindValidation, v.VariantID, "parent_metric_id is required")
	}
	switch v.Type {
	case core.VariantTypeSourced, core.VariantTypeCalculated:
	default:
		return core.Errorf(core.KindValidation, v.VariantID, "unknown variant_type %q", v.Type)
	}
	if !v.Status.Valid() {
		return core.Errorf(core.KindValidation, v.VariantID, "unknown status %q", v.Status)
	}
	if err := validateDimensions(v); err != nil {
		return err
	}
	for _, r := range v.UpstreamInputs {
		if r.ID == v.VariantID || (v.VariantName != "" && r.ID == v.VariantName) {
			return core.Errorf(core.KindValidation, v.VariantID, "variant lists itself as an upstream input")
		}
	}
	if v.Formula != nil {
		if _, err := formula.Compile(*v.Formula); err != nil {
			return core.Annotate(err, core.KindFormula, v.VariantID, "formula_specification")
		}
	}
	for _, dim := range sortedDims(v.DimensionFormulas) {
		if _, err := formula.Compile(v.DimensionFormulas[dim]); err != nil {
			return core.Annotate(err, core.KindFormula, v.VariantID, fmt.Sprintf("dimension_formulas.%s", dim))
		}
	}
	for _, f := range v.SourceFields {
		if _, err := core.ParseFieldRef(f); err != nil {
			return core.Wrap(core.KindValidation, v.VariantID, err, "source_fields")
		}
	}
	if _, err := rollup.PoliciesFor(v); err != nil {
		return err
	}
	return nil
}

// ValidateForApproval adds the checks a variant must pass before it can
// become ACTIVE: it must be computable.
func ValidateForApproval(v *core.Variant) error {
	if err := ValidateVariant(v); err != nil {
		return err
	}
	switch v.Type {
	case core.VariantTypeCalculated:
		if v.Formula == nil && len(v.DimensionFormulas) == 0 {
			return core.Errorf(core.KindFormula, v.VariantID, "calculated variant has no formula_specification")
		}
	case core.VariantTypeSourced:
		if len(v.SourceFields) == 0 && v.Formula == nil {
			return core.Errorf(core.KindValidation, v.VariantID, "sourced variant declares no source_fields")
		}
	}
	return nil
}

func validateDimensions(v *core.Variant) error {
	check := func(where string, d core.Dimension) error {
		if !d.Valid() {
			return core.Errorf(core.KindValidation, v.VariantID, "%s: unknown dimension %q", where, d)
		}
		return nil
	}
	for _, d := range v.AllowedDimensions {
		if err := check("allowed_dimensions", d); err != nil {
			return err
		}
	}
	for _, d := range v.DeniedDimensions {
		if err := check("denied_dimensions", d); err != nil {
			return err
		}
	}
	for _, d := range sortedDims(v.DimensionFormulas) {
		if err := check("dimension_formulas", d); err != nil {
			return err
		}
	}
	for _, d := range sortedDims(v.RollupLogic) {
		if err := check("rollup_logic", d); err != nil {
			return err
		}
	}
	for _, d := range sortedDims(v.Rollup) {
		if err := check("rollup", d); err != nil {
			return err
		}
	}
	for _, d := range sortedDims(v.SourceMappings) {
		if err := check("source_mappings", d); err != nil {
			return err
		}
	}
	return nil
}

func sortedDims[V any](m map[core.Dimension]V) []core.Dimension {
	dims := make([]core.Dimension, 0, len(m))
	for d := range m {
		dims = append(dims, d)
	}
	core.SortDimensions(dims)
	return dims
}
