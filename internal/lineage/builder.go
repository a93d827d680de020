package lineage

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapmetrics/internal/dag"
	"github.com/leapstack-labs/leapmetrics/internal/formula"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Edge labels.
const (
	LabelInput    = "input"
	LabelProduces = "produces"
)

// Builder builds lineage graphs against a data dictionary.
type Builder struct {
	dict core.Dictionary
}

// NewBuilder creates a builder. dict may be nil, in which case source nodes
// carry only what the references themselves say.
func NewBuilder(dict core.Dictionary) *Builder {
	return &Builder{dict: dict}
}

// source is a field feeding the transform, with the alias it is bound to.
type source struct {
	ref   core.FieldRef
	alias string
}

// Build returns the lineage graph of v.
//
// Sources are collected in declaration order: the base formula's references,
// then source_fields, then field-kind upstream inputs. Duplicates (after
// dictionary canonicalisation) are dropped.
func (b *Builder) Build(v *core.Variant) (*core.LineageGraph, error) {
	srcs, text, err := b.sources(v)
	if err != nil {
		return nil, err
	}

	transformID := "transform:" + v.VariantID
	outputID := "output:" + v.VariantID
	g := &core.LineageGraph{VariantID: v.VariantID}

	for _, s := range srcs {
		node := core.LineageNode{
			ID:    "source:" + s.ref.String(),
			Kind:  core.LineageSource,
			Label: s.ref.Field,
			Layer: s.ref.Layer,
			Table: s.ref.Table,
			Field: s.ref.Field,
		}
		if b.dict != nil {
			if sf, ok := b.dict.Field(s.ref); ok {
				node.Description = sf.Description
				node.SampleValue = sf.SampleValue
			}
		}
		label := s.alias
		if label == "" {
			label = LabelInput
		}
		g.Nodes = append(g.Nodes, node)
		g.Edges = append(g.Edges, core.LineageEdge{From: node.ID, To: transformID, Label: label})
	}

	g.Nodes = append(g.Nodes,
		core.LineageNode{ID: transformID, Kind: core.LineageTransform, Label: string(v.Type), Formula: text},
		core.LineageNode{ID: outputID, Kind: core.LineageOutput, Label: v.DisplayName(), Description: v.FormulaDisplay},
	)
	g.Edges = append(g.Edges, core.LineageEdge{From: transformID, To: outputID, Label: LabelProduces})
	return g, nil
}

func (b *Builder) sources(v *core.Variant) ([]source, string, error) {
	var (
		out  []source
		seen = make(map[string]bool)
		text = v.FormulaDisplay
	)
	add := func(ref core.FieldRef, alias string) {
		ref = b.canonical(ref)
		if seen[ref.String()] {
			return
		}
		seen[ref.String()] = true
		out = append(out, source{ref: ref, alias: alias})
	}

	if v.Formula != nil {
		f, err := formula.Compile(*v.Formula)
		if err != nil {
			return nil, "", core.Annotate(err, core.KindFormula, v.VariantID, "formula_specification")
		}
		text = f.String()
		for _, ref := range f.Refs() {
			add(ref, f.Alias(ref))
		}
	}
	for _, s := range v.SourceFields {
		ref, err := core.ParseFieldRef(s)
		if err != nil {
			return nil, "", core.Wrap(core.KindValidation, v.VariantID, err, "source_fields")
		}
		add(ref, "")
	}
	for _, up := range v.UpstreamInputs {
		if up.Kind != core.NodeKindField {
			continue
		}
		if ref, err := core.ParseFieldRef(up.ID); err == nil {
			add(ref, "")
		}
	}

	if text == "" && len(out) > 0 {
		text = out[0].ref.String()
	}
	return out, text, nil
}

func (b *Builder) canonical(ref core.FieldRef) core.FieldRef {
	if b.dict == nil {
		return ref
	}
	if sf, ok := b.dict.Field(ref); ok {
		return sf.Ref()
	}
	return ref
}

// Validate checks the shape of a lineage graph: exactly one transform and
// one output node, edges only between known nodes, and no cycles.
func Validate(g *core.LineageGraph) error {
	var errs []error
	if n := g.CountKind(core.LineageTransform); n != 1 {
		errs = append(errs, fmt.Errorf("expected one transform node, found %d", n))
	}
	if n := g.CountKind(core.LineageOutput); n != 1 {
		errs = append(errs, fmt.Errorf("expected one output node, found %d", n))
	}

	d := dag.NewGraph[core.LineageNode]()
	for _, n := range g.Nodes {
		if _, dup := d.GetNode(n.ID); dup {
			errs = append(errs, fmt.Errorf("duplicate node %s", n.ID))
		}
		d.AddNode(n.ID, n)
	}
	for _, e := range g.Edges {
		if err := d.AddEdge(e.From, e.To); err != nil {
			errs = append(errs, err)
		}
	}
	if cyclic, path := d.HasCycle(); cyclic {
		errs = append(errs, fmt.Errorf("cycle: %v", path))
	}

	if len(errs) > 0 {
		return core.Wrap(core.KindValidation, g.VariantID, errors.Join(errs...), "invalid lineage graph")
	}
	return nil
}
