package calc

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/rollup"
	"github.com/leapstack-labs/leapmetrics/internal/sources"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// prepared is a validated execution plan for one variant at one dimension.
// Building it reads no data.
type prepared struct {
	variantID string
	dim       core.Dimension
	res       *sources.Resolution
	// base is the dimension the formula is evaluated at. It equals dim
	// unless the values are rolled up.
	base core.Dimension
	// keys maps each data table to its grouping column at base.
	keys      map[string]string
	plan      *rollup.Plan
	weights   map[core.Dimension]core.FieldRef
	hierarchy string
}

// dataTables returns the formula tables followed by any weight tables.
func (p *prepared) dataTables() []string {
	out := append([]string(nil), p.res.Tables...)
	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[t] = true
	}
	if p.plan == nil {
		return out
	}
	for _, step := range p.plan.Steps {
		w, ok := p.weights[step.To]
		if !ok || seen[w.TableKey()] {
			continue
		}
		seen[w.TableKey()] = true
		out = append(out, w.TableKey())
	}
	return out
}

func (e *Engine) plan(v *core.Variant, dim core.Dimension, res *sources.Resolution) (*prepared, error) {
	p := &prepared{
		variantID: v.VariantID,
		dim:       dim,
		res:       res,
		base:      dim,
		keys:      make(map[string]string, len(res.Tables)),
	}

	if dim.IsLayer() {
		for _, key := range res.Tables {
			info, ok := e.dict.Table(key)
			if !ok || info.PrimaryKey == "" {
				return nil, core.Errorf(core.KindConfig, v.VariantID, "table %s has no primary key to group by at %s", key, dim)
			}
			p.keys[key] = info.PrimaryKey
		}
		return p, nil
	}

	if e.allCarry(res.Tables, dim) {
		for _, key := range res.Tables {
			p.keys[key] = dim.KeyColumn()
		}
		return p, nil
	}

	base, ok := e.finestCarried(res.Tables, dim)
	if !ok {
		return nil, core.Errorf(core.KindUnresolvedSource, v.VariantID,
			"tables %s carry neither %s nor a finer hierarchy key", strings.Join(res.Tables, ", "), dim.KeyColumn())
	}
	p.base = base
	for _, key := range res.Tables {
		p.keys[key] = base.KeyColumn()
	}

	if err := e.planRollup(v, p); err != nil {
		return nil, err
	}
	return p, nil
}

// planRollup checks the hierarchy table, the per-step policies and the weight
// bases for rolling p.base up to p.dim.
func (e *Engine) planRollup(v *core.Variant, p *prepared) error {
	p.hierarchy = e.dict.HierarchyTable()
	if p.hierarchy == "" {
		return core.Errorf(core.KindConfig, v.VariantID, "no hierarchy table configured to roll %s up to %s", p.base, p.dim)
	}
	info, ok := e.dict.Table(p.hierarchy)
	if !ok {
		return core.Errorf(core.KindConfig, v.VariantID, "hierarchy table %s is not in the data dictionary", p.hierarchy)
	}

	policies, err := rollup.PoliciesFor(v)
	if err != nil {
		return err
	}
	plan, err := rollup.NewPlan(p.base, p.dim, policies)
	if err != nil {
		return core.Annotate(err, core.KindConfig, v.VariantID, "rollup")
	}
	p.plan = plan

	for r := p.base.Rank(); r <= p.dim.Rank(); r++ {
		col := core.Hierarchy[r].KeyColumn()
		if !info.HasField(col) {
			return core.Errorf(core.KindConfig, v.VariantID, "hierarchy table %s has no %s column", p.hierarchy, col)
		}
	}

	p.weights = make(map[core.Dimension]core.FieldRef)
	for _, step := range plan.Steps {
		if step.Policy.Strategy != rollup.WeightedAverage {
			continue
		}
		ref, err := e.resolveWeight(p.res, step.Policy.Weight)
		if err != nil {
			return core.Annotate(err, core.KindConfig, v.VariantID, fmt.Sprintf("rollup into %s", step.To))
		}
		if !e.allCarry([]string{ref.TableKey()}, p.base) {
			return core.Errorf(core.KindConfig, v.VariantID, "weight table %s has no %s column", ref.TableKey(), p.base.KeyColumn())
		}
		p.weights[step.To] = ref
	}
	return nil
}

// resolveWeight maps a weighting basis to a dictionary field. The basis may
// be a field reference, a formula input alias, or a field name (or prefix of
// one, as in "commitment" for commitment_amount). Tables the formula already
// reads are preferred.
func (e *Engine) resolveWeight(res *sources.Resolution, basis string) (core.FieldRef, error) {
	if strings.Contains(basis, ".") {
		ref, err := core.ParseFieldRef(basis)
		if err != nil {
			return core.FieldRef{}, core.Wrap(core.KindConfig, "", err, "weight basis")
		}
		sf, ok := e.dict.Field(ref)
		if !ok {
			return core.FieldRef{}, core.Errorf(core.KindConfig, "", "weight field %s is not in the data dictionary", ref)
		}
		return sf.Ref(), nil
	}
	if ref, ok := res.Formula.Input(basis); ok {
		if sf, ok := e.dict.Field(ref); ok {
			return sf.Ref(), nil
		}
	}

	preferred := make(map[string]bool, len(res.Tables))
	for _, t := range res.Tables {
		preferred[t] = true
	}
	var fallback *core.FieldRef
	for _, t := range e.dict.Tables() {
		for _, f := range t.Fields {
			if f.Field != basis && !strings.HasPrefix(f.Field, basis+"_") {
				continue
			}
			ref := core.FieldRef{Layer: t.Layer, Table: t.Name, Field: f.Field}
			if preferred[t.Key()] {
				return ref, nil
			}
			if fallback == nil {
				fallback = &ref
			}
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return core.FieldRef{}, core.Errorf(core.KindConfig, "", "weight basis %q does not match any dictionary field", basis)
}

func (e *Engine) allCarry(tables []string, dim core.Dimension) bool {
	col := dim.KeyColumn()
	for _, key := range tables {
		info, ok := e.dict.Table(key)
		if !ok || !info.HasField(col) {
			return false
		}
	}
	return true
}

// finestCarried returns the finest hierarchy dimension below dim whose key
// column every table carries.
func (e *Engine) finestCarried(tables []string, dim core.Dimension) (core.Dimension, bool) {
	for r := 0; r < dim.Rank(); r++ {
		if d := core.Hierarchy[r]; e.allCarry(tables, d) {
			return d, true
		}
	}
	return "", false
}

// Explanation describes how a variant is computed at a dimension.
type Explanation struct {
	VariantID string         `json:"variant_id"`
	Dimension core.Dimension `json:"dimension"`
	// Base is the dimension the formula is evaluated at before any rollup.
	Base    core.Dimension    `json:"base"`
	Formula string            `json:"formula"`
	Tables  []string          `json:"tables"`
	GroupBy map[string]string `json:"group_by"`
	Rollup  *rollup.Plan      `json:"rollup,omitempty"`
	// Weights maps a weighted step's target dimension to its weight field.
	Weights map[core.Dimension]string `json:"weights,omitempty"`
}

// Explain runs every check Run does before touching data and reports the
// resulting plan.
func (e *Engine) Explain(v *core.Variant, dim core.Dimension) (*Explanation, error) {
	p, err := e.prepare(v, dim)
	if err != nil {
		return nil, err
	}
	x := &Explanation{
		VariantID: v.VariantID,
		Dimension: dim,
		Base:      p.base,
		Formula:   p.res.Formula.String(),
		Tables:    p.dataTables(),
		GroupBy:   p.keys,
		Rollup:    p.plan,
	}
	if len(p.weights) > 0 {
		x.Weights = make(map[core.Dimension]string, len(p.weights))
		for d, ref := range p.weights {
			x.Weights[d] = ref.String()
		}
	}
	return x, nil
}
