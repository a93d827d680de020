package formula

import (
	"errors"
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapEnv struct {
	cols map[string][]decimal.NullDecimal
	rows int
}

func (e mapEnv) Values(ref core.FieldRef) ([]decimal.NullDecimal, error) {
	v, ok := e.cols[ref.String()]
	if !ok {
		return nil, errors.New("no column " + ref.String())
	}
	return v, nil
}

func (e mapEnv) RowCount() int { return e.rows }

func nums(vals ...string) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(vals))
	for i, v := range vals {
		if v == "" {
			continue
		}
		out[i] = decimal.NullDecimal{Decimal: decimal.RequireFromString(v), Valid: true}
	}
	return out
}

func TestCompile_BindsInputs(t *testing.T) {
	f, err := Compile(core.FormulaSpec{
		Expression: "noi / debt_service",
		Inputs: []core.FormulaInput{
			{Name: "noi", Ref: "L2.facility_financials.noi"},
			{Name: "debt_service", Ref: "L2.facility_financials.debt_service"},
		},
	})
	require.NoError(t, err)

	refs := f.Refs()
	require.Len(t, refs, 2)
	assert.Equal(t, "L2.facility_financials.noi", refs[0].String())
	assert.Equal(t, "L2.facility_financials.debt_service", refs[1].String())
	assert.Equal(t, "noi", f.Alias(refs[0]))
	assert.Equal(t, "noi / debt_service", f.String())
}

func TestCompile_DedupesRefs(t *testing.T) {
	f, err := Parse("L2.t.a + L2.t.a * L2.t.b")
	require.NoError(t, err)
	assert.Len(t, f.Refs(), 2)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec core.FormulaSpec
	}{
		{"empty", core.FormulaSpec{Expression: "  "}},
		{"syntax", core.FormulaSpec{Expression: "L2.t.a +"}},
		{"unbalanced", core.FormulaSpec{Expression: "(L2.t.a"}},
		{"unknown function", core.FormulaSpec{Expression: "MEDIAN(L2.t.a)"}},
		{"arity", core.FormulaSpec{Expression: "WAVG(L2.t.a)"}},
		{"unknown alias", core.FormulaSpec{Expression: "noi / 2"}},
		{"bad layer", core.FormulaSpec{Expression: "L9.t.a"}},
		{"bad input ref", core.FormulaSpec{Expression: "x", Inputs: []core.FormulaInput{{Name: "x", Ref: "nodots"}}}},
		{"duplicate input", core.FormulaSpec{Expression: "x", Inputs: []core.FormulaInput{
			{Name: "x", Ref: "L2.t.a"}, {Name: "x", Ref: "L2.t.b"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrFormula)
		})
	}
}

func TestEval(t *testing.T) {
	env := mapEnv{
		rows: 2,
		cols: map[string][]decimal.NullDecimal{
			"L2.t.noi":    nums("120"),
			"L2.t.ds":     nums("100"),
			"L2.t.zero":   nums("0"),
			"L2.t.null":   nums(""),
			"L2.l.bal":    nums("10", "30"),
			"L2.l.rate":   nums("0.05", "0.01"),
			"L2.l.nulled": nums("1", ""),
		},
	}
	tests := []struct {
		expr string
		want string // "" means null
	}{
		{"L2.t.noi / L2.t.ds", "1.2"},
		{"L2.t.noi - L2.t.ds * 2", "-80"},
		{"(L2.t.noi - L2.t.ds) * 2", "40"},
		{"-L2.t.noi + 1", "-119"},
		{"L2.l.bal", "40"},
		{"SUM(L2.l.bal)", "40"},
		{"AVG(L2.l.bal)", "20"},
		{"MIN(L2.l.bal)", "10"},
		{"MAX(L2.l.bal)", "30"},
		{"COUNT()", "2"},
		{"COUNT(L2.l.bal)", "2"},
		{"WAVG(L2.l.rate, L2.l.bal)", "0.02"},
		{"SUM(L2.l.bal * L2.l.rate)", "0.8"},
		{"ABS(L2.t.ds - L2.t.noi)", "20"},
		{"sum(L2.l.bal)", "40"},
		{"L2.t.noi / L2.t.null", ""},
		{"L2.t.null + 1", ""},
		{"L2.l.nulled", ""},
		{"SUM(L2.l.nulled)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := Parse(tt.expr)
			require.NoError(t, err)
			res, err := f.Eval(env)
			require.NoError(t, err)
			if tt.want == "" {
				assert.False(t, res.Value.Valid, "expected null, got %s", res.Value.Decimal)
				return
			}
			require.True(t, res.Value.Valid)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(res.Value.Decimal),
				"want %s, got %s", tt.want, res.Value.Decimal)
		})
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	f, err := Parse("L2.t.noi / L2.t.zero")
	require.NoError(t, err)

	res, err := f.Eval(mapEnv{rows: 1, cols: map[string][]decimal.NullDecimal{
		"L2.t.noi":  nums("5"),
		"L2.t.zero": nums("0"),
	}})
	require.NoError(t, err)
	assert.False(t, res.Value.Valid)
	assert.Equal(t, []string{"division by zero"}, res.Warnings)
}

func TestEval_ZeroWeight(t *testing.T) {
	f, err := Parse("WAVG(L2.l.rate, L2.l.w)")
	require.NoError(t, err)

	res, err := f.Eval(mapEnv{rows: 2, cols: map[string][]decimal.NullDecimal{
		"L2.l.rate": nums("1", "2"),
		"L2.l.w":    nums("0", "0"),
	}})
	require.NoError(t, err)
	assert.False(t, res.Value.Valid)
	assert.NotEmpty(t, res.Warnings)
}

func TestCompile_RowwiseOperandsShareTable(t *testing.T) {
	tests := []struct {
		name  string
		spec  core.FormulaSpec
		error bool
	}{
		{name: "wavg across tables", spec: core.FormulaSpec{Expression: "WAVG(L2.loans.rate, L2.commit.amount)"}, error: true},
		{name: "product across tables", spec: core.FormulaSpec{Expression: "SUM(L2.a.x * L2.b.y)"}, error: true},
		{name: "inside abs", spec: core.FormulaSpec{Expression: "SUM(ABS(L2.a.x - L2.b.y))"}, error: true},
		{name: "aliases across tables", spec: core.FormulaSpec{
			Expression: "WAVG(rate, amount)",
			Inputs: []core.FormulaInput{
				{Name: "rate", Ref: "L2.loans.rate"},
				{Name: "amount", Ref: "L2.commit.amount"},
			},
		}, error: true},
		{name: "same table", spec: core.FormulaSpec{Expression: "WAVG(L2.loans.rate, L2.loans.amount * L2.loans.share)"}},
		{name: "layer omitted", spec: core.FormulaSpec{Expression: "SUM(loans.rate * L2.loans.amount)"}},
		{name: "separate aggregates", spec: core.FormulaSpec{Expression: "SUM(L2.a.x) / SUM(L2.b.y)"}},
		{name: "nested aggregate", spec: core.FormulaSpec{Expression: "SUM(L2.a.x * MAX(L2.b.y))"}},
		{name: "bare fields", spec: core.FormulaSpec{Expression: "L2.a.x / L2.b.y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec)
			if tt.error {
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrFormula)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEval_MismatchedRowwiseOperands(t *testing.T) {
	f, err := Parse("SUM(L2.a.x * L2.a.y)")
	require.NoError(t, err)

	_, err = f.Eval(mapEnv{rows: 3, cols: map[string][]decimal.NullDecimal{
		"L2.a.x": nums("1", "2"),
		"L2.a.y": nums("1", "2", "3"),
	}})
	assert.ErrorIs(t, err, core.ErrFormula)
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in    any
		want  string
		null  bool
		isErr bool
	}{
		{in: nil, null: true},
		{in: "", null: true},
		{in: "1.25", want: "1.25"},
		{in: int64(7), want: "7"},
		{in: 2.5, want: "2.5"},
		{in: decimal.NewFromInt(3), want: "3"},
		{in: "abc", isErr: true},
		{in: struct{}{}, isErr: true},
	}
	for _, tt := range tests {
		got, err := Number(tt.in)
		if tt.isErr {
			assert.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err)
		if tt.null {
			assert.False(t, got.Valid)
			continue
		}
		assert.Equal(t, tt.want, got.Decimal.String())
	}
}
