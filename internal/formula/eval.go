package formula

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/shopspring/decimal"
)

// Env supplies field values for one aggregation group.
type Env interface {
	// Values returns the row-wise values of a field within the group.
	Values(ref core.FieldRef) ([]decimal.NullDecimal, error)
	// RowCount is the number of rows in the group.
	RowCount() int
}

// Result is the outcome of evaluating a formula for one group.
type Result struct {
	Value    decimal.NullDecimal
	Warnings []string
}

// Eval evaluates the formula against env.
//
// Outside an aggregation function a field reference denotes the group value:
// the single row's value or the exact sum of all rows. Any null operand makes
// the result null. Division by zero yields null and a warning.
func (f *Formula) Eval(env Env) (Result, error) {
	ev := &evaluator{env: env, warned: make(map[string]bool)}
	vals, err := ev.expr(f.root, false)
	if err != nil {
		return Result{}, err
	}
	res := Result{Warnings: ev.warnings}
	if len(vals) == 1 {
		res.Value = vals[0]
	}
	return res, nil
}

type evaluator struct {
	env      Env
	warnings []string
	warned   map[string]bool
}

func (ev *evaluator) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !ev.warned[msg] {
		ev.warned[msg] = true
		ev.warnings = append(ev.warnings, msg)
	}
}

// Each method returns a vector of values. In scalar mode the vector always
// has length one; in row-wise mode (inside an aggregation function) it has
// one entry per row, with scalars broadcast.

func (ev *evaluator) expr(e *exprNode, rowwise bool) ([]decimal.NullDecimal, error) {
	acc, err := ev.term(e.Left, rowwise)
	if err != nil {
		return nil, err
	}
	for _, r := range e.Right {
		rhs, err := ev.term(r.Term, rowwise)
		if err != nil {
			return nil, err
		}
		if acc, err = ev.binary(r.Op, acc, rhs); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (ev *evaluator) term(t *termNode, rowwise bool) ([]decimal.NullDecimal, error) {
	acc, err := ev.factor(t.Left, rowwise)
	if err != nil {
		return nil, err
	}
	for _, r := range t.Right {
		rhs, err := ev.factor(r.Factor, rowwise)
		if err != nil {
			return nil, err
		}
		if acc, err = ev.binary(r.Op, acc, rhs); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (ev *evaluator) factor(f *factorNode, rowwise bool) ([]decimal.NullDecimal, error) {
	vals, err := ev.primary(f.Primary, rowwise)
	if err != nil || !f.Neg {
		return vals, err
	}
	out := make([]decimal.NullDecimal, len(vals))
	for i, v := range vals {
		if v.Valid {
			out[i] = valid(v.Decimal.Neg())
		}
	}
	return out, nil
}

func (ev *evaluator) primary(p *primaryNode, rowwise bool) ([]decimal.NullDecimal, error) {
	switch {
	case p.Number != nil:
		d, err := decimal.NewFromString(*p.Number)
		if err != nil {
			return nil, core.Wrap(core.KindFormula, "", err, "number literal")
		}
		return []decimal.NullDecimal{valid(d)}, nil
	case p.Sub != nil:
		return ev.expr(p.Sub, rowwise)
	case p.Call != nil:
		return ev.call(p.Call, rowwise)
	case p.Ref != nil:
		ref, err := core.ParseFieldRef(*p.Ref)
		if err != nil {
			return nil, core.Wrap(core.KindFormula, "", err, "field reference")
		}
		vals, err := ev.env.Values(ref)
		if err != nil {
			return nil, err
		}
		if rowwise {
			return vals, nil
		}
		return []decimal.NullDecimal{sum(vals)}, nil
	}
	return nil, core.Errorf(core.KindFormula, "", "empty operand")
}

func (ev *evaluator) call(c *callNode, rowwise bool) ([]decimal.NullDecimal, error) {
	if c.Name == "ABS" {
		vals, err := ev.expr(c.Args[0], rowwise)
		if err != nil {
			return nil, err
		}
		out := make([]decimal.NullDecimal, len(vals))
		for i, v := range vals {
			if v.Valid {
				out[i] = valid(v.Decimal.Abs())
			}
		}
		return out, nil
	}

	if c.Name == "COUNT" && len(c.Args) == 0 {
		return []decimal.NullDecimal{valid(decimal.NewFromInt(int64(ev.env.RowCount())))}, nil
	}

	args := make([][]decimal.NullDecimal, len(c.Args))
	for i, a := range c.Args {
		vals, err := ev.expr(a, true)
		if err != nil {
			return nil, err
		}
		args[i] = vals
	}

	var out decimal.NullDecimal
	switch c.Name {
	case "SUM":
		out = sum(args[0])
	case "COUNT":
		out = valid(decimal.NewFromInt(int64(len(args[0]))))
	case "AVG":
		s := sum(args[0])
		if s.Valid {
			out = valid(s.Decimal.Div(decimal.NewFromInt(int64(len(args[0])))))
		}
	case "MIN", "MAX":
		out = extreme(args[0], c.Name == "MAX")
	case "WAVG":
		v, err := ev.wavg(args[0], args[1])
		if err != nil {
			return nil, err
		}
		out = v
	default:
		return nil, core.Errorf(core.KindFormula, "", "unknown function %s", c.Name)
	}
	return []decimal.NullDecimal{out}, nil
}

func (ev *evaluator) wavg(vals, weights []decimal.NullDecimal) (decimal.NullDecimal, error) {
	pv, pw, err := broadcast(vals, weights)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	num, den := decimal.Zero, decimal.Zero
	for i := range pv {
		if !pv[i].Valid || !pw[i].Valid {
			return decimal.NullDecimal{}, nil
		}
		num = num.Add(pv[i].Decimal.Mul(pw[i].Decimal))
		den = den.Add(pw[i].Decimal)
	}
	if len(pv) == 0 {
		return decimal.NullDecimal{}, nil
	}
	if den.IsZero() {
		ev.warn("WAVG: total weight is zero")
		return decimal.NullDecimal{}, nil
	}
	return valid(num.Div(den)), nil
}

func (ev *evaluator) binary(op string, lhs, rhs []decimal.NullDecimal) ([]decimal.NullDecimal, error) {
	l, r, err := broadcast(lhs, rhs)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.NullDecimal, len(l))
	for i := range l {
		if !l[i].Valid || !r[i].Valid {
			continue
		}
		a, b := l[i].Decimal, r[i].Decimal
		switch op {
		case "+":
			out[i] = valid(a.Add(b))
		case "-":
			out[i] = valid(a.Sub(b))
		case "*":
			out[i] = valid(a.Mul(b))
		case "/":
			if b.IsZero() {
				ev.warn("division by zero")
				continue
			}
			out[i] = valid(a.Div(b))
		default:
			return nil, core.Errorf(core.KindFormula, "", "unknown operator %q", op)
		}
	}
	return out, nil
}

func broadcast(a, b []decimal.NullDecimal) ([]decimal.NullDecimal, []decimal.NullDecimal, error) {
	switch {
	case len(a) == len(b):
		return a, b, nil
	case len(a) == 1:
		return repeat(a[0], len(b)), b, nil
	case len(b) == 1:
		return a, repeat(b[0], len(a)), nil
	}
	return nil, nil, core.Errorf(core.KindFormula, "", "row-wise operands have %d and %d rows; fields must come from the same table", len(a), len(b))
}

func repeat(v decimal.NullDecimal, n int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// sum is the exact total of vals, or null when vals is empty or holds a null.
func sum(vals []decimal.NullDecimal) decimal.NullDecimal {
	if len(vals) == 0 {
		return decimal.NullDecimal{}
	}
	total := decimal.Zero
	for _, v := range vals {
		if !v.Valid {
			return decimal.NullDecimal{}
		}
		total = total.Add(v.Decimal)
	}
	return valid(total)
}

func extreme(vals []decimal.NullDecimal, wantMax bool) decimal.NullDecimal {
	if len(vals) == 0 {
		return decimal.NullDecimal{}
	}
	best := vals[0]
	for _, v := range vals {
		if !v.Valid {
			return decimal.NullDecimal{}
		}
		if (wantMax && v.Decimal.GreaterThan(best.Decimal)) || (!wantMax && v.Decimal.LessThan(best.Decimal)) {
			best = v
		}
	}
	return best
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Number converts a sample-data cell to a nullable decimal. Empty strings and
// nil are null.
func Number(v any) (decimal.NullDecimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case decimal.Decimal:
		return valid(x), nil
	case decimal.NullDecimal:
		return x, nil
	case string:
		if x == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("not a number: %q", x)
		}
		return valid(d), nil
	case int:
		return valid(decimal.NewFromInt(int64(x))), nil
	case int32:
		return valid(decimal.NewFromInt32(x)), nil
	case int64:
		return valid(decimal.NewFromInt(x)), nil
	case float32:
		return valid(decimal.NewFromFloat32(x)), nil
	case float64:
		return valid(decimal.NewFromFloat(x)), nil
	case bool:
		if x {
			return valid(decimal.NewFromInt(1)), nil
		}
		return valid(decimal.Zero), nil
	case time.Time:
		return decimal.NullDecimal{}, fmt.Errorf("not a number: %s", x.Format(time.DateOnly))
	}
	return decimal.NullDecimal{}, fmt.Errorf("unsupported value type %T", v)
}
