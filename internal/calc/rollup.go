package calc

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/rollup"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/shopspring/decimal"
)

// rollUp carries base-level values through p.plan using the hierarchy
// snapshot at or before asOf.
func (e *Engine) rollUp(ctx context.Context, v *core.Variant, p *prepared, values *groupValues, data map[string][]core.Row, asOf string, diag *core.Diagnostics) ([]core.RunRow, error) {
	hier, err := e.hierarchyRows(ctx, v, p.hierarchy, asOf, diag)
	if err != nil {
		return nil, err
	}

	parents := make([]map[string]string, len(p.plan.Steps))
	for i, step := range p.plan.Steps {
		if parents[i], err = parentMap(v, hier, step); err != nil {
			return nil, err
		}
	}

	cur := values.byID
	var groups []rollup.Group
	for i, step := range p.plan.Steps {
		in := rollup.Input{Values: cur, ParentOf: parents[i]}
		if ref, ok := p.weights[step.To]; ok {
			w, err := stepWeights(ref, p, data, parents[:i])
			if err != nil {
				return nil, core.Annotate(err, core.KindFormula, v.VariantID, fmt.Sprintf("weights for %s", step.To))
			}
			in.Weights = w
		}

		var orphans []string
		groups, orphans = rollup.RollUp(in, step.Policy)
		if len(orphans) > 0 {
			diag.Warnings = append(diag.Warnings, fmt.Sprintf("%d %s ids have no %s in %s: %s",
				len(orphans), step.From, step.To, p.hierarchy, strings.Join(orphans, ", ")))
		}

		cur = make(map[string]decimal.NullDecimal, len(groups))
		for _, g := range groups {
			cur[g.ID] = g.Value
		}
	}

	rows := make([]core.RunRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, core.RunRow{AggregationID: g.ID, Value: g.Value, Breakdown: g.Breakdown})
	}
	diag.RolledUpFrom = p.base
	return rows, nil
}

// hierarchyRows loads the newest hierarchy snapshot on or before asOf.
func (e *Engine) hierarchyRows(ctx context.Context, v *core.Variant, table, asOf string, diag *core.Diagnostics) ([]core.Row, error) {
	dates, err := e.samples.Dates(ctx, table)
	if err != nil {
		return nil, err
	}
	used := ""
	for _, d := range dates {
		if d <= asOf {
			used = d
			break
		}
	}
	if used == "" {
		return nil, core.Errorf(core.KindNoData, v.VariantID, "hierarchy table %s has no snapshot on or before %s", table, asOf)
	}
	rows, err := e.samples.Rows(ctx, table, used)
	if err != nil {
		return nil, err
	}
	if used != asOf {
		diag.Warnings = append(diag.Warnings, fmt.Sprintf("using %s hierarchy snapshot from %s", table, used))
	}
	diag.Tables = append(diag.Tables, table)
	diag.RowCounts[table] = len(rows)
	return rows, nil
}

func parentMap(v *core.Variant, rows []core.Row, step rollup.Step) (map[string]string, error) {
	from, to := step.From.KeyColumn(), step.To.KeyColumn()
	out := make(map[string]string)
	for _, row := range rows {
		child, ok := keyString(row[from])
		if !ok {
			continue
		}
		parent, ok := keyString(row[to])
		if !ok {
			continue
		}
		if prev, seen := out[child]; seen && prev != parent {
			return nil, core.Errorf(core.KindConfig, v.VariantID, "hierarchy maps %s %s to both %s %s and %s", step.From, child, step.To, prev, parent)
		}
		out[child] = parent
	}
	return out, nil
}

// stepWeights totals the weight field per base group and sums the totals up
// through the steps already applied.
func stepWeights(ref core.FieldRef, p *prepared, data map[string][]core.Row, applied []map[string]string) (map[string]decimal.NullDecimal, error) {
	discard := &core.Diagnostics{}
	g := groupRows(ref.TableKey(), p.base.KeyColumn(), data[ref.TableKey()], discard)
	w, err := sumField(ref, g)
	if err != nil {
		return nil, err
	}
	for _, parentOf := range applied {
		next := make(map[string]decimal.NullDecimal)
		for child, cw := range w {
			parent, ok := parentOf[child]
			if !ok {
				continue
			}
			acc, seen := next[parent]
			switch {
			case !seen:
				next[parent] = cw
			case !acc.Valid || !cw.Valid:
				next[parent] = decimal.NullDecimal{}
			default:
				next[parent] = decimal.NullDecimal{Decimal: acc.Decimal.Add(cw.Decimal), Valid: true}
			}
		}
		w = next
	}
	return w, nil
}
