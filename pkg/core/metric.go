package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MetricClass classifies how a parent metric obtains its value.
type MetricClass string

// Metric classes.
const (
	MetricClassSourced    MetricClass = "SOURCED"
	MetricClassCalculated MetricClass = "CALCULATED"
	MetricClassHybrid     MetricClass = "HYBRID"
)

// Direction says whether a higher value of the metric is favourable.
type Direction string

// Metric directions.
const (
	DirectionHigherBetter Direction = "HIGHER_BETTER"
	DirectionLowerBetter  Direction = "LOWER_BETTER"
	DirectionNeutral      Direction = "NEUTRAL"
)

// VariantType distinguishes sourced (direct read) from calculated variants.
type VariantType string

// Variant types.
const (
	VariantTypeSourced    VariantType = "SOURCED"
	VariantTypeCalculated VariantType = "CALCULATED"
)

// VariantStatus is the lifecycle state of a variant.
type VariantStatus string

// Variant lifecycle states.
const (
	StatusProposed   VariantStatus = "PROPOSED"
	StatusDraft      VariantStatus = "DRAFT"
	StatusActive     VariantStatus = "ACTIVE"
	StatusDeprecated VariantStatus = "DEPRECATED"
	StatusInactive   VariantStatus = "INACTIVE"
)

// Valid reports whether s is a known status.
func (s VariantStatus) Valid() bool {
	switch s {
	case StatusProposed, StatusDraft, StatusActive, StatusDeprecated, StatusInactive:
		return true
	}
	return false
}

// AnyRevision disables the optimistic revision check on writes.
const AnyRevision int64 = -1

// ParentMetric is a named credit/risk concept that owns variants.
type ParentMetric struct {
	MetricID         string            `json:"metric_id" yaml:"metric_id"`
	Name             string            `json:"name" yaml:"name"`
	Definition       string            `json:"definition,omitempty" yaml:"definition"`
	GenericFormula   string            `json:"generic_formula,omitempty" yaml:"generic_formula"`
	Class            MetricClass       `json:"metric_class,omitempty" yaml:"metric_class"`
	UnitType         string            `json:"unit_type,omitempty" yaml:"unit_type"`
	Direction        Direction         `json:"direction,omitempty" yaml:"direction"`
	RollupPhilosophy string            `json:"rollup_philosophy,omitempty" yaml:"rollup_philosophy"`
	DisplayFormat    string            `json:"display_format,omitempty" yaml:"display_format"`
	DomainTags       []string          `json:"domain_tags,omitempty" yaml:"domain_tags"`
	Attributes       map[string]string `json:"attributes,omitempty" yaml:"attributes"`
	Revision         int64             `json:"revision" yaml:"-"`
}

// Clone returns a deep copy of the metric.
func (m *ParentMetric) Clone() *ParentMetric {
	if m == nil {
		return nil
	}
	c := *m
	c.DomainTags = append([]string(nil), m.DomainTags...)
	c.Attributes = cloneStringMap(m.Attributes)
	return &c
}

// FormulaInput binds a formula alias to a dictionary field reference.
type FormulaInput struct {
	Name string `json:"name" yaml:"name"`
	Ref  string `json:"ref" yaml:"ref"`
}

// FormulaSpec is the machine-evaluable form of a variant formula.
type FormulaSpec struct {
	Expression string         `json:"expression" yaml:"expression"`
	Inputs     []FormulaInput `json:"inputs,omitempty" yaml:"inputs"`
}

// Clone returns a deep copy of the formula.
func (f *FormulaSpec) Clone() *FormulaSpec {
	if f == nil {
		return nil
	}
	c := *f
	c.Inputs = append([]FormulaInput(nil), f.Inputs...)
	return &c
}

// RollupSpec declares how values roll up into one dimension from the next finer one.
type RollupSpec struct {
	Strategy    string `json:"strategy" yaml:"strategy"`
	WeightField string `json:"weight,omitempty" yaml:"weight"`
}

// NodeKind identifies what a NodeRef points at.
type NodeKind string

// Node kinds.
const (
	NodeKindVariant NodeKind = "variant"
	NodeKindField   NodeKind = "field"
)

// NodeRef references another variant or a raw dictionary field.
type NodeRef struct {
	ID   string   `json:"node_id" yaml:"node_id"`
	Name string   `json:"node_name,omitempty" yaml:"node_name"`
	Kind NodeKind `json:"kind,omitempty" yaml:"kind"`
}

// ParseNodeRef builds a NodeRef from its shorthand string form.
// "L2.table.field" is a field; anything else names a variant.
func ParseNodeRef(s string) NodeRef {
	s = strings.TrimSpace(s)
	if ref, err := ParseFieldRef(s); err == nil && ref.Layer != "" {
		return NodeRef{ID: ref.String(), Name: ref.Field, Kind: NodeKindField}
	}
	return NodeRef{ID: s, Name: s, Kind: NodeKindVariant}
}

func (r *NodeRef) normalize() {
	if r.Kind == "" {
		r.Kind = ParseNodeRef(r.ID).Kind
	}
	if r.Name == "" {
		r.Name = r.ID
	}
}

// UnmarshalYAML accepts either a scalar shorthand or a mapping.
func (r *NodeRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*r = ParseNodeRef(value.Value)
		return nil
	}
	type plain NodeRef
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = NodeRef(p)
	r.normalize()
	return nil
}

// UnmarshalJSON accepts either a string shorthand or an object.
func (r *NodeRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = ParseNodeRef(s)
		return nil
	}
	type plain NodeRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = NodeRef(p)
	r.normalize()
	return nil
}

// Matches reports whether the reference names the given variant by id or name.
func (r NodeRef) Matches(variantID, variantName string) bool {
	if r.ID == variantID || (variantName != "" && r.ID == variantName) {
		return true
	}
	return r.Kind == NodeKindVariant && variantName != "" && r.Name == variantName
}

// Variant is a concrete, executable or sourced definition of a parent metric.
type Variant struct {
	VariantID             string                    `json:"variant_id" yaml:"variant_id"`
	VariantName           string                    `json:"variant_name,omitempty" yaml:"variant_name"`
	ParentMetricID        string                    `json:"parent_metric_id" yaml:"parent_metric_id"`
	Type                  VariantType               `json:"variant_type" yaml:"variant_type"`
	Status                VariantStatus             `json:"status" yaml:"status"`
	VersionTag            string                    `json:"version_tag,omitempty" yaml:"version_tag"`
	EffectiveDate         string                    `json:"effective_date,omitempty" yaml:"effective_date"`
	FormulaDisplay        string                    `json:"formula_display,omitempty" yaml:"formula_display"`
	Formula               *FormulaSpec              `json:"formula_specification,omitempty" yaml:"formula_specification"`
	DimensionFormulas     map[Dimension]FormulaSpec `json:"dimension_formulas,omitempty" yaml:"dimension_formulas"`
	RollupLogic           map[Dimension]string      `json:"rollup_logic,omitempty" yaml:"rollup_logic"`
	Rollup                map[Dimension]RollupSpec  `json:"rollup,omitempty" yaml:"rollup"`
	SourceMappings        map[Dimension][]string    `json:"source_mappings,omitempty" yaml:"source_mappings"`
	AllowedDimensions     []Dimension               `json:"allowed_dimensions,omitempty" yaml:"allowed_dimensions"`
	DeniedDimensions      []Dimension               `json:"denied_dimensions,omitempty" yaml:"denied_dimensions"`
	SourceSystem          string                    `json:"source_system,omitempty" yaml:"source_system"`
	SourceFields          []string                  `json:"source_fields,omitempty" yaml:"source_fields"`
	UpstreamInputs        []NodeRef                 `json:"upstream_inputs,omitempty" yaml:"upstream_inputs"`
	DownstreamConsumers   []NodeRef                 `json:"downstream_consumers,omitempty" yaml:"downstream_consumers"`
	SupersedesVariantID   string                    `json:"supersedes_variant_id,omitempty" yaml:"supersedes_variant_id"`
	SupersededByVariantID string                    `json:"superseded_by_variant_id,omitempty" yaml:"superseded_by_variant_id"`
	Unit                  string                    `json:"unit,omitempty" yaml:"unit"`
	DisplayFormat         string                    `json:"display_format,omitempty" yaml:"display_format"`
	Attributes            map[string]string         `json:"attributes,omitempty" yaml:"attributes"`
	Revision              int64                     `json:"revision" yaml:"-"`
}

// DisplayName returns the variant name, falling back to its id.
func (v *Variant) DisplayName() string {
	if v.VariantName != "" {
		return v.VariantName
	}
	return v.VariantID
}

// HasDeclaredDownstream reports whether downstream consumers were declared explicitly.
func (v *Variant) HasDeclaredDownstream() bool {
	return v.DownstreamConsumers != nil
}

// FormulaFor returns the formula in effect at the given dimension.
// A per-dimension override wins over the base specification.
func (v *Variant) FormulaFor(dim Dimension) *FormulaSpec {
	if f, ok := v.DimensionFormulas[dim]; ok {
		return &f
	}
	if v.Formula != nil {
		return v.Formula
	}
	return nil
}

// Clone returns a deep copy of the variant.
func (v *Variant) Clone() *Variant {
	if v == nil {
		return nil
	}
	c := *v
	c.Formula = v.Formula.Clone()
	if v.DimensionFormulas != nil {
		c.DimensionFormulas = make(map[Dimension]FormulaSpec, len(v.DimensionFormulas))
		for d, f := range v.DimensionFormulas {
			c.DimensionFormulas[d] = *f.Clone()
		}
	}
	if v.RollupLogic != nil {
		c.RollupLogic = make(map[Dimension]string, len(v.RollupLogic))
		for d, s := range v.RollupLogic {
			c.RollupLogic[d] = s
		}
	}
	if v.Rollup != nil {
		c.Rollup = make(map[Dimension]RollupSpec, len(v.Rollup))
		for d, s := range v.Rollup {
			c.Rollup[d] = s
		}
	}
	if v.SourceMappings != nil {
		c.SourceMappings = make(map[Dimension][]string, len(v.SourceMappings))
		for d, s := range v.SourceMappings {
			c.SourceMappings[d] = append([]string(nil), s...)
		}
	}
	c.AllowedDimensions = cloneSlice(v.AllowedDimensions)
	c.DeniedDimensions = cloneSlice(v.DeniedDimensions)
	c.SourceFields = cloneSlice(v.SourceFields)
	c.UpstreamInputs = cloneSlice(v.UpstreamInputs)
	c.DownstreamConsumers = cloneSlice(v.DownstreamConsumers)
	c.Attributes = cloneStringMap(v.Attributes)
	return &c
}

// Key returns "variant_id (parent)" for log and error messages.
func (v *Variant) Key() string {
	return fmt.Sprintf("%s (%s)", v.VariantID, v.ParentMetricID)
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
