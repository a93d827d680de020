package rollup

import (
	"sort"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/shopspring/decimal"
)

// Group is one coarse-dimension result of a rollup.
type Group struct {
	ID        string
	Value     decimal.NullDecimal
	Children  int
	Breakdown []core.BreakdownEntry
}

// Input is the set of finer-dimension values to roll up.
type Input struct {
	Values map[string]decimal.NullDecimal
	// Weights holds per-child weights for WEIGHTED_AVERAGE.
	Weights map[string]decimal.NullDecimal
	// ParentOf maps a child id to its coarse id.
	ParentOf map[string]string
}

// RollUp aggregates values into their parents with policy. Output is sorted
// by coarse id; children without a parent are returned separately.
//
// SUM is null if any child is null. WEIGHTED_AVERAGE is Σ(v·w)/Σw and null on
// a null input or a zero total weight. COUNT counts children. DISTRIBUTION
// returns the child values as a breakdown with no scalar value.
func RollUp(in Input, policy Policy) (groups []Group, orphans []string) {
	children := make(map[string][]string)
	for _, child := range sortedKeys(in.Values) {
		parent, ok := in.ParentOf[child]
		if !ok || parent == "" {
			orphans = append(orphans, child)
			continue
		}
		children[parent] = append(children[parent], child)
	}

	for _, parent := range sortedKeys(children) {
		ids := children[parent]
		g := Group{ID: parent, Children: len(ids)}
		switch policy.Strategy {
		case Sum:
			g.Value = sumOf(ids, in.Values)
		case Count:
			g.Value = nullable(decimal.NewFromInt(int64(len(ids))))
		case WeightedAverage:
			g.Value = weightedAverage(ids, in.Values, in.Weights)
		case Distribution:
			for _, id := range ids {
				g.Breakdown = append(g.Breakdown, core.BreakdownEntry{Key: id, Value: in.Values[id]})
			}
		}
		groups = append(groups, g)
	}
	return groups, orphans
}

func weightedAverage(ids []string, values, weights map[string]decimal.NullDecimal) decimal.NullDecimal {
	num, den := decimal.Zero, decimal.Zero
	for _, id := range ids {
		v, w := values[id], weights[id]
		if !v.Valid || !w.Valid {
			return decimal.NullDecimal{}
		}
		num = num.Add(v.Decimal.Mul(w.Decimal))
		den = den.Add(w.Decimal)
	}
	if den.IsZero() {
		return decimal.NullDecimal{}
	}
	return nullable(num.Div(den))
}

func sumOf(ids []string, values map[string]decimal.NullDecimal) decimal.NullDecimal {
	total := decimal.Zero
	for _, id := range ids {
		v := values[id]
		if !v.Valid {
			return decimal.NullDecimal{}
		}
		total = total.Add(v.Decimal)
	}
	return nullable(total)
}

func nullable(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
