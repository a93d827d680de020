package calc

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapmetrics/internal/formula"
	"github.com/leapstack-labs/leapmetrics/internal/sources"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/shopspring/decimal"
)

// groupValues holds one value per aggregation id, in id order.
type groupValues struct {
	order []string
	byID  map[string]decimal.NullDecimal
}

// grouped is a table's rows bucketed by key value.
type grouped map[string][]core.Row

func groupRows(tableKey, column string, rows []core.Row, diag *core.Diagnostics) grouped {
	g := make(grouped)
	skipped := 0
	for _, row := range rows {
		id, ok := keyString(row[column])
		if !ok {
			skipped++
			continue
		}
		g[id] = append(g[id], row)
	}
	if skipped > 0 {
		diag.Warnings = append(diag.Warnings, fmt.Sprintf("%d rows in %s have no %s and were skipped", skipped, tableKey, column))
	}
	return g
}

func keyString(v any) (string, bool) {
	switch k := v.(type) {
	case nil:
		return "", false
	case string:
		return k, k != ""
	case fmt.Stringer:
		return k.String(), true
	}
	return fmt.Sprint(v), true
}

// evaluate groups the formula tables at p.base and evaluates the formula
// once per group.
func (e *Engine) evaluate(v *core.Variant, p *prepared, data map[string][]core.Row, diag *core.Diagnostics) (*groupValues, error) {
	tables := make(map[string]grouped, len(p.res.Tables))
	ids := make(map[string]bool)
	for _, key := range p.res.Tables {
		g := groupRows(key, p.keys[key], data[key], diag)
		tables[key] = g
		for id := range g {
			ids[id] = true
		}
	}

	out := &groupValues{byID: make(map[string]decimal.NullDecimal, len(ids))}
	for id := range ids {
		out.order = append(out.order, id)
	}
	sort.Strings(out.order)

	for _, id := range out.order {
		env := &groupEnv{res: p.res, tables: tables, id: id}
		result, err := p.res.Formula.Eval(env)
		if err != nil {
			return nil, core.Annotate(err, core.KindFormula, v.VariantID, fmt.Sprintf("%s %s", p.base, id))
		}
		out.byID[id] = result.Value
		for _, w := range result.Warnings {
			diag.Warnings = append(diag.Warnings, fmt.Sprintf("%s %s: %s", p.base, id, w))
		}
	}
	return out, nil
}

// groupEnv exposes one group's rows to the formula evaluator.
type groupEnv struct {
	res    *sources.Resolution
	tables map[string]grouped
	id     string
}

func (g *groupEnv) Values(ref core.FieldRef) ([]decimal.NullDecimal, error) {
	canon, ok := g.res.Canonical(ref)
	if !ok {
		return nil, core.Errorf(core.KindUnresolvedSource, "", "field %s was not resolved", ref)
	}
	rows := g.tables[canon.TableKey()][g.id]
	return fieldValues(canon, rows)
}

func (g *groupEnv) RowCount() int {
	if len(g.res.Tables) == 0 {
		return 0
	}
	return len(g.tables[g.res.Tables[0]][g.id])
}

func fieldValues(ref core.FieldRef, rows []core.Row) ([]decimal.NullDecimal, error) {
	vals := make([]decimal.NullDecimal, len(rows))
	for i, row := range rows {
		raw, ok := row[ref.Field]
		if !ok {
			return nil, core.Errorf(core.KindUnresolvedSource, "", "column %s is missing from %s", ref.Field, ref.TableKey())
		}
		n, err := formula.Number(raw)
		if err != nil {
			return nil, core.Wrap(core.KindFormula, "", err, ref.String())
		}
		vals[i] = n
	}
	return vals, nil
}

// sumField totals ref per group; null if a group has a null or no rows.
func sumField(ref core.FieldRef, g grouped) (map[string]decimal.NullDecimal, error) {
	out := make(map[string]decimal.NullDecimal, len(g))
	for id, rows := range g {
		vals, err := fieldValues(ref, rows)
		if err != nil {
			return nil, err
		}
		total := decimal.NullDecimal{Valid: len(vals) > 0}
		for _, v := range vals {
			if !v.Valid {
				total = decimal.NullDecimal{}
				break
			}
			total.Decimal = total.Decimal.Add(v.Decimal)
		}
		out[id] = total
	}
	return out, nil
}
