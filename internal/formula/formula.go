// Package formula implements the closed expression language used by metric
// variants: field references, arithmetic and a fixed set of aggregation
// functions, evaluated with exact decimal arithmetic.
package formula

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Function arity: min and max argument counts.
var functions = map[string][2]int{
	"SUM":   {1, 1},
	"AVG":   {1, 1},
	"MIN":   {1, 1},
	"MAX":   {1, 1},
	"COUNT": {0, 1},
	"WAVG":  {2, 2},
	"ABS":   {1, 1},
}

// Functions lists the supported function names.
func Functions() []string {
	return []string{"SUM", "AVG", "MIN", "MAX", "COUNT", "WAVG", "ABS"}
}

// Formula is a parsed, input-bound expression.
type Formula struct {
	source  string
	root    *exprNode
	refs    []core.FieldRef
	inputs  map[string]core.FieldRef
	aliases map[string]string
}

// Parse parses a bare expression with no named inputs. Every reference must
// be a dotted field reference.
func Parse(expr string) (*Formula, error) {
	return Compile(core.FormulaSpec{Expression: expr})
}

// Compile parses the expression of spec and binds its named inputs.
// Parse and binding failures are returned as *core.Error of KindFormula.
func Compile(spec core.FormulaSpec) (*Formula, error) {
	src := strings.TrimSpace(spec.Expression)
	if src == "" {
		return nil, core.Errorf(core.KindFormula, "", "empty expression")
	}

	inputs := make(map[string]core.FieldRef, len(spec.Inputs))
	aliases := make(map[string]string, len(spec.Inputs))
	for _, in := range spec.Inputs {
		if in.Name == "" {
			return nil, core.Errorf(core.KindFormula, "", "input bound to %q has no name", in.Ref)
		}
		if _, dup := inputs[in.Name]; dup {
			return nil, core.Errorf(core.KindFormula, "", "duplicate input %q", in.Name)
		}
		ref, err := core.ParseFieldRef(in.Ref)
		if err != nil {
			return nil, core.Wrap(core.KindFormula, "", err, fmt.Sprintf("input %q", in.Name))
		}
		inputs[in.Name] = ref
		aliases[ref.String()] = in.Name
	}

	root, err := parser.ParseString("", src)
	if err != nil {
		return nil, core.Wrap(core.KindFormula, "", err, fmt.Sprintf("parse %q", src))
	}

	f := &Formula{source: src, root: root, inputs: inputs, aliases: aliases}
	b := binder{inputs: inputs, seen: make(map[string]bool)}
	if err := b.expr(root); err != nil {
		return nil, err
	}
	f.refs = b.refs
	return f, nil
}

// String returns the expression text.
func (f *Formula) String() string { return f.source }

// Refs returns the distinct field references in order of first appearance.
func (f *Formula) Refs() []core.FieldRef {
	return append([]core.FieldRef(nil), f.refs...)
}

// Alias returns the input name bound to ref, or "".
func (f *Formula) Alias(ref core.FieldRef) string {
	return f.aliases[ref.String()]
}

// Input returns the field reference bound to a named input.
func (f *Formula) Input(name string) (core.FieldRef, bool) {
	ref, ok := f.inputs[name]
	return ref, ok
}

// binder resolves identifiers to field references and checks function arity.
type binder struct {
	inputs map[string]core.FieldRef
	seen   map[string]bool
	refs   []core.FieldRef
	// rowwise collects the references evaluated row by row inside the
	// aggregation call being bound; nil outside any call.
	rowwise *[]core.FieldRef
}

func (b *binder) expr(e *exprNode) error {
	if err := b.term(e.Left); err != nil {
		return err
	}
	for _, r := range e.Right {
		if err := b.term(r.Term); err != nil {
			return err
		}
	}
	return nil
}

func (b *binder) term(t *termNode) error {
	if err := b.primary(t.Left.Primary); err != nil {
		return err
	}
	for _, r := range t.Right {
		if err := b.primary(r.Factor.Primary); err != nil {
			return err
		}
	}
	return nil
}

func (b *binder) primary(p *primaryNode) error {
	switch {
	case p.Number != nil:
		return nil
	case p.Sub != nil:
		return b.expr(p.Sub)
	case p.Call != nil:
		name := strings.ToUpper(p.Call.Name)
		arity, ok := functions[name]
		if !ok {
			return core.Errorf(core.KindFormula, "", "unknown function %s", p.Call.Name)
		}
		if n := len(p.Call.Args); n < arity[0] || n > arity[1] {
			return core.Errorf(core.KindFormula, "", "%s takes %s, got %d", name, arityText(arity), n)
		}
		p.Call.Name = name
		if name == "ABS" {
			// ABS keeps the row shape of its argument.
			return b.expr(p.Call.Args[0])
		}

		outer := b.rowwise
		var scope []core.FieldRef
		b.rowwise = &scope
		defer func() { b.rowwise = outer }()
		for _, a := range p.Call.Args {
			if err := b.expr(a); err != nil {
				return err
			}
		}
		return checkSameTable(name, scope)
	case p.Ref != nil:
		ref, err := b.resolve(*p.Ref)
		if err != nil {
			return err
		}
		// Rewrite aliases in place so evaluation sees canonical references.
		s := ref.String()
		p.Ref = &s
		if !b.seen[s] {
			b.seen[s] = true
			b.refs = append(b.refs, ref)
		}
		if b.rowwise != nil {
			*b.rowwise = append(*b.rowwise, ref)
		}
		return nil
	}
	return core.Errorf(core.KindFormula, "", "empty operand")
}

// checkSameTable rejects a call whose row-wise operands span several tables.
// Rows of different tables have no common order to pair them by.
func checkSameTable(name string, refs []core.FieldRef) error {
	if len(refs) == 0 {
		return nil
	}
	for _, r := range refs[1:] {
		if !sameTable(refs[0], r) {
			return core.Errorf(core.KindFormula, "", "%s mixes fields of %s and %s; row-wise operands must come from one table",
				name, refs[0].TableKey(), r.TableKey())
		}
	}
	return nil
}

// sameTable compares table keys, ignoring the layer when either side omits it.
func sameTable(a, b core.FieldRef) bool {
	if a.Layer == "" || b.Layer == "" {
		return a.Table == b.Table
	}
	return a.TableKey() == b.TableKey()
}

func (b *binder) resolve(name string) (core.FieldRef, error) {
	if ref, ok := b.inputs[name]; ok {
		return ref, nil
	}
	if !strings.Contains(name, ".") {
		return core.FieldRef{}, core.Errorf(core.KindFormula, "", "unknown input %q", name)
	}
	ref, err := core.ParseFieldRef(name)
	if err != nil {
		return core.FieldRef{}, core.Wrap(core.KindFormula, "", err, "field reference")
	}
	return ref, nil
}

func arityText(a [2]int) string {
	switch {
	case a[0] == a[1] && a[0] == 1:
		return "1 argument"
	case a[0] == a[1]:
		return fmt.Sprintf("%d arguments", a[0])
	}
	return fmt.Sprintf("%d to %d arguments", a[0], a[1])
}
