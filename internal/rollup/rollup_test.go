package rollup

import (
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		text    string
		want    Policy
		wantErr bool
	}{
		{text: "sum", want: Policy{Strategy: Sum}},
		{text: "SUM", want: Policy{Strategy: Sum}},
		{text: "Sum of facility balances", want: Policy{Strategy: Sum}},
		{text: "count", want: Policy{Strategy: Count}},
		{text: "Distribution across facilities", want: Policy{Strategy: Distribution}},
		{text: "commitment-weighted average", want: Policy{Strategy: WeightedAverage, Weight: "commitment"}},
		{text: "Weighted average by L2.facility_exposure.commitment_amount",
			want: Policy{Strategy: WeightedAverage, Weight: "L2.facility_exposure.commitment_amount"}},
		{text: "WEIGHTED_AVERAGE(balance)", want: Policy{Strategy: WeightedAverage, Weight: "balance"}},
		{text: "weighted average", wantErr: true},
		{text: "simple average", wantErr: true},
		{text: "", wantErr: true},
		{text: "not meaningful", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParsePolicy(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromSpec(t *testing.T) {
	p, err := FromSpec(core.RollupSpec{Strategy: "WEIGHTED_AVERAGE", WeightField: "L2.t.w"})
	require.NoError(t, err)
	assert.Equal(t, Policy{Strategy: WeightedAverage, Weight: "L2.t.w"}, p)

	_, err = FromSpec(core.RollupSpec{Strategy: "WEIGHTED_AVERAGE"})
	assert.ErrorIs(t, err, core.ErrConfig, "weight is mandatory")

	_, err = FromSpec(core.RollupSpec{Strategy: "SUM", WeightField: "L2.t.w"})
	assert.ErrorIs(t, err, core.ErrConfig, "weight only applies to weighted average")
}

func TestPoliciesFor(t *testing.T) {
	v := &core.Variant{
		VariantID: "V",
		RollupLogic: map[core.Dimension]string{
			core.DimCounterparty: "sum",
			core.DimDesk:         "not meaningful at desk level",
		},
		Rollup: map[core.Dimension]core.RollupSpec{
			core.DimCounterparty: {Strategy: "COUNT"},
		},
	}
	got, err := PoliciesFor(v)
	require.NoError(t, err)
	assert.Equal(t, map[core.Dimension]Policy{core.DimCounterparty: {Strategy: Count}}, got)

	v.Rollup[core.DimDesk] = core.RollupSpec{Strategy: "WEIGHTED_AVERAGE"}
	_, err = PoliciesFor(v)
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestNewPlan(t *testing.T) {
	sum := Policy{Strategy: Sum}
	dist := Policy{Strategy: Distribution}

	plan, err := NewPlan(core.DimFacility, core.DimDesk, map[core.Dimension]Policy{
		core.DimCounterparty: sum,
		core.DimDesk:         dist,
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, Step{From: core.DimFacility, To: core.DimCounterparty, Policy: sum}, plan.Steps[0])
	assert.Equal(t, core.DimDesk, plan.Steps[1].To)
	assert.Equal(t, "facility -SUM-> counterparty -DISTRIBUTION-> desk", plan.String())

	tests := []struct {
		name     string
		from, to core.Dimension
		policies map[core.Dimension]Policy
	}{
		{"missing step", core.DimFacility, core.DimDesk, map[core.Dimension]Policy{core.DimCounterparty: sum}},
		{"distribution not last", core.DimFacility, core.DimDesk, map[core.Dimension]Policy{
			core.DimCounterparty: dist, core.DimDesk: sum,
		}},
		{"not coarser", core.DimDesk, core.DimFacility, nil},
		{"same level", core.DimDesk, core.DimDesk, nil},
		{"layer dimension", core.DimL2, core.DimDesk, nil},
		{"weight missing", core.DimFacility, core.DimCounterparty, map[core.Dimension]Policy{
			core.DimCounterparty: {Strategy: WeightedAverage},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.from, tt.to, tt.policies)
			assert.ErrorIs(t, err, core.ErrConfig)
		})
	}
}

func TestRollUp(t *testing.T) {
	in := Input{
		Values: map[string]decimal.NullDecimal{
			"F1": d("10"), "F2": d("30"), "F3": d("5"), "F4": {},
			"F9": d("1"),
		},
		Weights: map[string]decimal.NullDecimal{
			"F1": d("1"), "F2": d("3"), "F3": d("2"), "F4": d("1"), "F9": d("1"),
		},
		ParentOf: map[string]string{"F1": "C1", "F2": "C1", "F3": "C2", "F4": "C2"},
	}

	t.Run("sum", func(t *testing.T) {
		groups, orphans := RollUp(in, Policy{Strategy: Sum})
		assert.Equal(t, []string{"F9"}, orphans)
		require.Len(t, groups, 2)
		assert.Equal(t, "C1", groups[0].ID)
		assert.Equal(t, "40", groups[0].Value.Decimal.String())
		assert.Equal(t, 2, groups[0].Children)
		assert.False(t, groups[1].Value.Valid, "null child makes the sum null")
	})

	t.Run("weighted average", func(t *testing.T) {
		groups, _ := RollUp(in, Policy{Strategy: WeightedAverage, Weight: "w"})
		// (10*1 + 30*3) / 4 = 25
		assert.Equal(t, "25", groups[0].Value.Decimal.String())
		assert.False(t, groups[1].Value.Valid)
	})

	t.Run("zero weight", func(t *testing.T) {
		groups, _ := RollUp(Input{
			Values:   map[string]decimal.NullDecimal{"F1": d("10")},
			Weights:  map[string]decimal.NullDecimal{"F1": d("0")},
			ParentOf: map[string]string{"F1": "C1"},
		}, Policy{Strategy: WeightedAverage, Weight: "w"})
		assert.False(t, groups[0].Value.Valid)
	})

	t.Run("count", func(t *testing.T) {
		groups, _ := RollUp(in, Policy{Strategy: Count})
		assert.Equal(t, "2", groups[0].Value.Decimal.String())
		assert.Equal(t, "2", groups[1].Value.Decimal.String())
	})

	t.Run("distribution", func(t *testing.T) {
		groups, _ := RollUp(in, Policy{Strategy: Distribution})
		assert.False(t, groups[0].Value.Valid)
		require.Len(t, groups[0].Breakdown, 2)
		assert.Equal(t, "F1", groups[0].Breakdown[0].Key)
		assert.Equal(t, "30", groups[0].Breakdown[1].Value.Decimal.String())
	})
}
