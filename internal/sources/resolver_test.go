package sources

import (
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/dictionary"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	d, err := dictionary.New(testutil.Tables(), testutil.HierarchyTable)
	require.NoError(t, err)
	return NewResolver(d)
}

func TestGetTableKeysForMetric(t *testing.T) {
	r := newResolver(t)

	keys, err := r.GetTableKeysForMetric(testutil.DSCRVariant(), core.DimFacility)
	require.NoError(t, err)
	assert.Equal(t, []string{"L2.facility_financials"}, keys)

	keys, err = r.GetTableKeysForMetric(testutil.WABRVariant(), core.DimFacility)
	require.NoError(t, err)
	assert.Equal(t, []string{"L2.facility_exposure"}, keys)
}

func TestResolve_CollectsAllSources(t *testing.T) {
	r := newResolver(t)

	v := testutil.DSCRVariant()
	v.DimensionFormulas = map[core.Dimension]core.FormulaSpec{
		core.DimCounterparty: {Expression: "facility_financials.noi / L2.facility_exposure.commitment_amount"},
	}
	v.SourceMappings = map[core.Dimension][]string{
		core.DimCounterparty: {"L2.facility_hierarchy.counterparty_id"},
	}

	res, err := r.Resolve(v, core.DimCounterparty)
	require.NoError(t, err)
	assert.True(t, res.Override)
	assert.Equal(t, []string{"L2.facility_financials", "L2.facility_exposure", "L2.facility_hierarchy"}, res.Tables)
	require.Len(t, res.Fields, 3)
	assert.Equal(t, "L2.facility_financials.noi", res.Fields[0].String(), "layer is filled in from the dictionary")

	canon, ok := res.Canonical(core.FieldRef{Table: "facility_financials", Field: "noi"})
	require.True(t, ok)
	assert.Equal(t, "L2", canon.Layer)

	res, err = r.Resolve(v, core.DimFacility)
	require.NoError(t, err)
	assert.False(t, res.Override)
	assert.Equal(t, []string{"L2.facility_financials"}, res.Tables)
}

func TestResolve_SourcedDirectRead(t *testing.T) {
	r := newResolver(t)

	res, err := r.Resolve(testutil.NOIVariant(), core.DimL2)
	require.NoError(t, err)
	assert.Equal(t, "L2.facility_financials.noi", res.Formula.String())
	assert.Equal(t, []string{"L2.facility_financials"}, res.Tables)
}

func TestResolve_Errors(t *testing.T) {
	r := newResolver(t)

	tests := []struct {
		name   string
		mutate func(v *core.Variant)
		kind   core.Kind
		msg    string
	}{
		{"unknown field", func(v *core.Variant) {
			v.Formula.Inputs[0].Ref = "L2.facility_financials.ebitda"
		}, core.KindUnresolvedSource, "field L2.facility_financials.ebitda"},
		{"unknown table", func(v *core.Variant) {
			v.Formula.Inputs[0].Ref = "L3.gl_balances.noi"
		}, core.KindUnresolvedSource, "table L3.gl_balances"},
		{"bad source field", func(v *core.Variant) {
			v.SourceFields = []string{"nodots"}
		}, core.KindUnresolvedSource, ""},
		{"nothing to resolve", func(v *core.Variant) {
			v.Type = core.VariantTypeSourced
			v.Formula = nil
		}, core.KindUnresolvedSource, "no source fields"},
		{"no formula", func(v *core.Variant) {
			v.Formula = nil
		}, core.KindFormula, ""},
		{"malformed formula", func(v *core.Variant) {
			v.Formula.Expression = "noi // debt_service"
		}, core.KindFormula, "formula_specification"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testutil.DSCRVariant()
			tt.mutate(v)
			_, err := r.Resolve(v, core.DimFacility)
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))
			assert.Contains(t, err.Error(), "DSCR-A")
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}
