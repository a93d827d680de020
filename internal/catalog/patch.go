package catalog

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// VariantPatch is a partial update of a variant. Nil fields are left
// untouched; present slices and maps replace the stored value wholesale,
// except Attributes which merges key by key (an empty value deletes a key).
type VariantPatch struct {
	VariantID             *string                             `json:"variant_id"`
	VariantName           *string                             `json:"variant_name"`
	ParentMetricID        *string                             `json:"parent_metric_id"`
	Type                  *core.VariantType                   `json:"variant_type"`
	Status                *core.VariantStatus                 `json:"status"`
	VersionTag            *string                             `json:"version_tag"`
	EffectiveDate         *string                             `json:"effective_date"`
	FormulaDisplay        *string                             `json:"formula_display"`
	Formula               *core.FormulaSpec                   `json:"formula_specification"`
	DimensionFormulas     map[core.Dimension]core.FormulaSpec `json:"dimension_formulas"`
	RollupLogic           map[core.Dimension]string           `json:"rollup_logic"`
	Rollup                map[core.Dimension]core.RollupSpec  `json:"rollup"`
	SourceMappings        map[core.Dimension][]string         `json:"source_mappings"`
	AllowedDimensions     *[]core.Dimension                   `json:"allowed_dimensions"`
	DeniedDimensions      *[]core.Dimension                   `json:"denied_dimensions"`
	SourceSystem          *string                             `json:"source_system"`
	SourceFields          *[]string                           `json:"source_fields"`
	UpstreamInputs        *[]core.NodeRef                     `json:"upstream_inputs"`
	DownstreamConsumers   *[]core.NodeRef                     `json:"downstream_consumers"`
	SupersedesVariantID   *string                             `json:"supersedes_variant_id"`
	SupersededByVariantID *string                             `json:"superseded_by_variant_id"`
	Unit                  *string                             `json:"unit"`
	DisplayFormat         *string                             `json:"display_format"`
	Attributes            map[string]string                   `json:"attributes"`
	// Revision, when present, is the expected stored revision.
	Revision *int64 `json:"revision"`
}

// MetricPatch is a partial update of a parent metric.
type MetricPatch struct {
	MetricID         *string           `json:"metric_id"`
	Name             *string           `json:"name"`
	Definition       *string           `json:"definition"`
	GenericFormula   *string           `json:"generic_formula"`
	Class            *core.MetricClass `json:"metric_class"`
	UnitType         *string           `json:"unit_type"`
	Direction        *core.Direction   `json:"direction"`
	RollupPhilosophy *string           `json:"rollup_philosophy"`
	DisplayFormat    *string           `json:"display_format"`
	DomainTags       *[]string         `json:"domain_tags"`
	Attributes       map[string]string `json:"attributes"`
	Revision         *int64            `json:"revision"`
}

// DecodeVariantPatch strictly decodes a JSON patch document.
// Unknown fields and trailing data are ValidationErrors.
func DecodeVariantPatch(r io.Reader) (*VariantPatch, error) {
	var p VariantPatch
	if err := decodeStrict(r, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeMetricPatch strictly decodes a JSON patch document.
func DecodeMetricPatch(r io.Reader) (*MetricPatch, error) {
	var p MetricPatch
	if err := decodeStrict(r, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.Wrap(core.KindValidation, "", err, "invalid patch")
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return core.Errorf(core.KindValidation, "", "invalid patch: trailing data after document")
	}
	return nil
}

// ApplyVariantPatch merges p over existing and returns the updated record.
// existing is not modified. Patches that change the id or the status are
// rejected; status changes go through lifecycle actions.
func ApplyVariantPatch(existing *core.Variant, p *VariantPatch) (*core.Variant, error) {
	if p.VariantID != nil && *p.VariantID != existing.VariantID {
		return nil, core.Errorf(core.KindValidation, existing.VariantID, "variant_id cannot be changed (got %q)", *p.VariantID)
	}
	if p.Status != nil && *p.Status != existing.Status {
		return nil, core.Errorf(core.KindValidation, existing.VariantID, "status cannot be patched; use a lifecycle action")
	}

	v := existing.Clone()
	set(&v.VariantName, p.VariantName)
	set(&v.ParentMetricID, p.ParentMetricID)
	set(&v.Type, p.Type)
	set(&v.VersionTag, p.VersionTag)
	set(&v.EffectiveDate, p.EffectiveDate)
	set(&v.FormulaDisplay, p.FormulaDisplay)
	if p.Formula != nil {
		v.Formula = p.Formula.Clone()
	}
	if p.DimensionFormulas != nil {
		v.DimensionFormulas = p.DimensionFormulas
	}
	if p.RollupLogic != nil {
		v.RollupLogic = p.RollupLogic
	}
	if p.Rollup != nil {
		v.Rollup = p.Rollup
	}
	if p.SourceMappings != nil {
		v.SourceMappings = p.SourceMappings
	}
	set(&v.AllowedDimensions, p.AllowedDimensions)
	set(&v.DeniedDimensions, p.DeniedDimensions)
	set(&v.SourceSystem, p.SourceSystem)
	set(&v.SourceFields, p.SourceFields)
	set(&v.UpstreamInputs, p.UpstreamInputs)
	set(&v.DownstreamConsumers, p.DownstreamConsumers)
	set(&v.SupersedesVariantID, p.SupersedesVariantID)
	set(&v.SupersededByVariantID, p.SupersededByVariantID)
	set(&v.Unit, p.Unit)
	set(&v.DisplayFormat, p.DisplayFormat)
	v.Attributes = mergeAttributes(v.Attributes, p.Attributes)
	return v.Clone(), nil
}

// ApplyMetricPatch merges p over existing and returns the updated record.
func ApplyMetricPatch(existing *core.ParentMetric, p *MetricPatch) (*core.ParentMetric, error) {
	if p.MetricID != nil && *p.MetricID != existing.MetricID {
		return nil, core.Errorf(core.KindValidation, existing.MetricID, "metric_id cannot be changed (got %q)", *p.MetricID)
	}
	m := existing.Clone()
	set(&m.Name, p.Name)
	set(&m.Definition, p.Definition)
	set(&m.GenericFormula, p.GenericFormula)
	set(&m.Class, p.Class)
	set(&m.UnitType, p.UnitType)
	set(&m.Direction, p.Direction)
	set(&m.RollupPhilosophy, p.RollupPhilosophy)
	set(&m.DisplayFormat, p.DisplayFormat)
	set(&m.DomainTags, p.DomainTags)
	m.Attributes = mergeAttributes(m.Attributes, p.Attributes)
	return m.Clone(), nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func mergeAttributes(base, patch map[string]string) map[string]string {
	if len(patch) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// expectedRevision returns the patch's revision or core.AnyRevision.
func expectedRevision(rev *int64) int64 {
	if rev == nil {
		return core.AnyRevision
	}
	return *rev
}

