// Package sources maps a variant and dimension to the dictionary tables and
// fields its calculation reads.
package sources

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/leapstack-labs/leapmetrics/internal/formula"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Resolution is everything the calculation engine needs to read data for a
// variant at one dimension.
type Resolution struct {
	Dimension core.Dimension
	// Formula is the compiled expression in effect. For sourced variants
	// without a formula it is a direct read of the first source field.
	Formula *formula.Formula
	// Override is true when a per-dimension formula replaced the base one.
	Override bool
	// Fields are the validated references in declaration order, with the
	// dictionary's layer filled in.
	Fields []core.FieldRef
	// Tables are the distinct "layer.table" keys of Fields, in order.
	Tables []string

	canonical map[string]core.FieldRef
}

// Canonical returns the dictionary form of a reference as written in the
// formula (which may omit the layer).
func (r *Resolution) Canonical(ref core.FieldRef) (core.FieldRef, bool) {
	c, ok := r.canonical[ref.String()]
	return c, ok
}

// Resolver validates variant references against a data dictionary.
type Resolver struct {
	dict core.Dictionary
}

// NewResolver creates a resolver over dict.
func NewResolver(dict core.Dictionary) *Resolver {
	return &Resolver{dict: dict}
}

// GetTableKeysForMetric returns the ordered set of tables needed to compute v
// at dim.
func (r *Resolver) GetTableKeysForMetric(v *core.Variant, dim core.Dimension) ([]string, error) {
	res, err := r.Resolve(v, dim)
	if err != nil {
		return nil, err
	}
	return res.Tables, nil
}

// Resolve collects the field references of the formula in effect at dim,
// the variant's source fields and the dimension's source mappings, and
// checks each against the dictionary. A reference the dictionary does not
// know, or a variant with no references at all, is an UnresolvedSourceError.
func (r *Resolver) Resolve(v *core.Variant, dim core.Dimension) (*Resolution, error) {
	f, override, err := effectiveFormula(v, dim)
	if err != nil {
		return nil, err
	}

	var written []core.FieldRef
	if f != nil {
		written = append(written, f.Refs()...)
	}
	for _, s := range v.SourceFields {
		ref, err := core.ParseFieldRef(s)
		if err != nil {
			return nil, core.Wrap(core.KindUnresolvedSource, v.VariantID, err, "source_fields")
		}
		written = append(written, ref)
	}
	for _, s := range v.SourceMappings[dim] {
		ref, err := core.ParseFieldRef(s)
		if err != nil {
			return nil, core.Wrap(core.KindUnresolvedSource, v.VariantID, err, fmt.Sprintf("source_mappings.%s", dim))
		}
		written = append(written, ref)
	}
	if len(written) == 0 {
		return nil, core.Errorf(core.KindUnresolvedSource, v.VariantID, "no source fields or formula references to resolve")
	}

	res := &Resolution{
		Dimension: dim,
		Formula:   f,
		Override:  override,
		canonical: make(map[string]core.FieldRef, len(written)),
	}
	fields := mapset.NewThreadUnsafeSet[string]()
	tables := mapset.NewThreadUnsafeSet[string]()
	for _, ref := range written {
		sf, ok := r.dict.Field(ref)
		if !ok {
			return nil, r.unresolved(v, ref)
		}
		canon := sf.Ref()
		res.canonical[ref.String()] = canon
		if fields.Add(canon.String()) {
			res.Fields = append(res.Fields, canon)
		}
		if tables.Add(canon.TableKey()) {
			res.Tables = append(res.Tables, canon.TableKey())
		}
	}

	if res.Formula == nil {
		direct, err := formula.Parse(res.Fields[0].String())
		if err != nil {
			return nil, core.Wrap(core.KindFormula, v.VariantID, err, "direct read")
		}
		res.Formula = direct
	}
	return res, nil
}

func (r *Resolver) unresolved(v *core.Variant, ref core.FieldRef) error {
	if ref.Layer != "" {
		if _, ok := r.dict.Table(ref.TableKey()); !ok {
			return core.Errorf(core.KindUnresolvedSource, v.VariantID, "table %s does not exist in the data dictionary", ref.TableKey())
		}
	}
	return core.Errorf(core.KindUnresolvedSource, v.VariantID, "field %s does not exist in the data dictionary", ref)
}

// effectiveFormula compiles the formula in effect at dim. Sourced variants
// may have none, in which case the result is nil.
func effectiveFormula(v *core.Variant, dim core.Dimension) (*formula.Formula, bool, error) {
	spec := v.FormulaFor(dim)
	if spec == nil {
		if v.Type == core.VariantTypeCalculated {
			return nil, false, core.Errorf(core.KindFormula, v.VariantID, "calculated variant has no machine-evaluable formula_specification")
		}
		return nil, false, nil
	}
	_, override := v.DimensionFormulas[dim]
	f, err := formula.Compile(*spec)
	if err != nil {
		where := "formula_specification"
		if override {
			where = fmt.Sprintf("dimension_formulas.%s", dim)
		}
		return nil, false, core.Annotate(err, core.KindFormula, v.VariantID, where)
	}
	return f, override, nil
}
