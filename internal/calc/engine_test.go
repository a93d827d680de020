package calc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/dictionary"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine  *Engine
	samples *testutil.CountingProvider
	store   *catalog.MemoryStore
}

func newFixture(t *testing.T, rows map[string]map[string][]core.Row, variants ...*core.Variant) *fixture {
	t.Helper()
	ctx := context.Background()

	dict, err := dictionary.New(testutil.Tables(), testutil.HierarchyTable)
	require.NoError(t, err)

	store := catalog.NewMemoryStore()
	for _, m := range testutil.Metrics() {
		require.NoError(t, store.PutMetric(ctx, m, core.AnyRevision))
	}
	if len(variants) == 0 {
		variants = testutil.Variants()
	}
	for _, v := range variants {
		require.NoError(t, store.PutVariant(ctx, v, core.AnyRevision))
	}

	samples := testutil.NewCountingProvider(rows)
	return &fixture{
		engine: New(Config{
			Catalog:    store,
			Dictionary: dict,
			Samples:    samples,
			Logger:     testutil.NewTestLogger(t),
		}),
		samples: samples,
		store:   store,
	}
}

func values(out *core.RunOutput) map[string]string {
	m := make(map[string]string, len(out.Rows))
	for _, r := range out.Rows {
		if r.Value.Valid {
			m[r.AggregationID] = r.Value.Decimal.String()
		} else {
			m[r.AggregationID] = "null"
		}
	}
	return m
}

func TestRun_DSCRFacility(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimFacility})
	require.NoError(t, err)

	assert.True(t, out.OK)
	assert.Equal(t, testutil.LatestDate, out.AsOfDateUsed)
	assert.Equal(t, map[string]string{"A": "1.2", "B": "0.8"}, values(out))
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "A", out.Rows[0].AggregationID)
	assert.Equal(t, "ratio", out.Rows[0].Unit)
	assert.Equal(t, "0.00x", out.Rows[0].DisplayFormat)

	d := out.Diagnostics
	require.NotNil(t, d)
	assert.Equal(t, []string{"L2.facility_financials"}, d.Tables)
	assert.Equal(t, 2, d.RowCounts["L2.facility_financials"])
	assert.Equal(t, 2, d.GroupCount)
	assert.Equal(t, 0, d.NullCount)
	assert.Equal(t, "noi / debt_service", d.FormulaUsed)
	assert.Empty(t, d.RolledUpFrom)
}

func TestRun_RequestedDate(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	out, err := f.engine.Run(context.Background(), core.CalcRequest{
		VariantID: "DSCR-A", Dimension: core.DimFacility, AsOfDate: testutil.PreviousDate,
	})
	require.NoError(t, err)
	assert.Equal(t, testutil.PreviousDate, out.AsOfDateUsed)
	assert.Equal(t, map[string]string{"A": "1.1", "B": "0.7"}, values(out))
}

func TestRun_MissingDate(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	_, err := f.engine.Run(context.Background(), core.CalcRequest{
		VariantID: "DSCR-A", Dimension: core.DimFacility, AsOfDate: "2020-01-01",
	})
	require.ErrorIs(t, err, core.ErrNoData)
	assert.True(t, core.IsRetryable(err))
}

func TestRun_MalformedDate(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	for _, asOf := range []string{"31/01/2025", "2025-1-31", "2025-02-30", "latest"} {
		out := f.engine.Calculate(context.Background(), core.CalcRequest{
			VariantID: "DSCR-A", Dimension: core.DimFacility, AsOfDate: asOf,
		})
		assert.False(t, out.OK, asOf)
		assert.Equal(t, core.KindValidation, out.ErrorKind, asOf)
		assert.False(t, out.Retryable, asOf)
	}
	assert.Equal(t, 0, f.samples.Loads(), f.samples.String())
}

func TestRun_NoDates(t *testing.T) {
	f := newFixture(t, map[string]map[string][]core.Row{})

	out := f.engine.Calculate(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimFacility})
	assert.False(t, out.OK)
	assert.Equal(t, core.KindNoData, out.ErrorKind)
	assert.True(t, out.Retryable)
}

func TestRun_UnsupportedDimensionLoadsNothing(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	out := f.engine.Calculate(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimL1})
	assert.False(t, out.OK)
	assert.Equal(t, core.KindUnsupportedDimension, out.ErrorKind)
	assert.Equal(t, 0, f.samples.Loads(), f.samples.String())
}

func TestRun_UnknownVariant(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	_, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "nope", Dimension: core.DimFacility})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRun_Deterministic(t *testing.T) {
	req := core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimCounterparty}

	var first []byte
	for i := 0; i < 5; i++ {
		f := newFixture(t, testutil.Rows())
		out, err := f.engine.Run(context.Background(), req)
		require.NoError(t, err)
		b, err := json.Marshal(out)
		require.NoError(t, err)
		if first == nil {
			first = b
			continue
		}
		assert.Equal(t, string(first), string(b))
	}
}

func TestRun_NullPropagation(t *testing.T) {
	rows := testutil.Rows()
	rows["L2.facility_financials"][testutil.LatestDate][1]["noi"] = nil
	f := newFixture(t, rows)

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimFacility})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1.2", "B": "null"}, values(out))
	assert.Equal(t, 1, out.Diagnostics.NullCount)

	b, err := json.Marshal(out.Rows[1])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"value":null`)

	// A null facility value makes the weighted counterparty value null too.
	out, err = f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimCounterparty})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C1": "null"}, values(out))
}

func TestRun_DivisionByZero(t *testing.T) {
	rows := testutil.Rows()
	rows["L2.facility_financials"][testutil.LatestDate][0]["debt_service"] = "0"
	f := newFixture(t, rows)

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimFacility})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "null", "B": "0.8"}, values(out))
	assert.Contains(t, out.Diagnostics.Warnings, "facility A: division by zero")
}

func TestRun_MultipleRowsPerGroupSum(t *testing.T) {
	rows := testutil.Rows()
	latest := rows["L2.facility_financials"][testutil.LatestDate]
	rows["L2.facility_financials"][testutil.LatestDate] = append(latest,
		core.Row{"facility_id": "A", "noi": "30", "debt_service": "50"})
	f := newFixture(t, rows)

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimFacility})
	require.NoError(t, err)
	assert.Equal(t, "1", values(out)["A"])
}

func TestRun_CounterpartyWeightedRollup(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimCounterparty})
	require.NoError(t, err)

	// (1.2*1000 + 0.8*3000) / 4000
	assert.Equal(t, map[string]string{"C1": "0.9"}, values(out))
	assert.Equal(t, core.DimFacility, out.Diagnostics.RolledUpFrom)
	assert.Equal(t, []string{"L2.facility_financials", "L2.facility_exposure", testutil.HierarchyTable}, out.Diagnostics.Tables)
}

func TestRun_WABRDesk(t *testing.T) {
	f := newFixture(t, testutil.Rows())
	ctx := context.Background()

	out, err := f.engine.Run(ctx, core.CalcRequest{VariantID: "WABR-A", Dimension: core.DimFacility})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "0.05", "B": "0.03"}, values(out))

	out, err = f.engine.Run(ctx, core.CalcRequest{VariantID: "WABR-A", Dimension: core.DimDesk})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"D1": "0.035"}, values(out))
	assert.Equal(t, "percent", out.Rows[0].Unit)
}

func TestRun_SumAndDistributionRollup(t *testing.T) {
	noi := testutil.NOIVariant()
	noi.AllowedDimensions = []core.Dimension{core.DimFacility, core.DimCounterparty, core.DimDesk}
	noi.Rollup = map[core.Dimension]core.RollupSpec{
		core.DimCounterparty: {Strategy: "SUM"},
		core.DimDesk:         {Strategy: "DISTRIBUTION"},
	}
	f := newFixture(t, testutil.Rows(), noi)
	ctx := context.Background()

	out, err := f.engine.Run(ctx, core.CalcRequest{VariantID: "NOI-S", Dimension: core.DimCounterparty})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C1": "200"}, values(out))
	assert.Equal(t, "USD", out.Rows[0].Unit)

	out, err = f.engine.Run(ctx, core.CalcRequest{VariantID: "NOI-S", Dimension: core.DimDesk})
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.False(t, out.Rows[0].Value.Valid)
	require.Len(t, out.Rows[0].Breakdown, 1)
	assert.Equal(t, "C1", out.Rows[0].Breakdown[0].Key)
	assert.Equal(t, "200", out.Rows[0].Breakdown[0].Value.Decimal.String())
	assert.Equal(t, 0, out.Diagnostics.NullCount)
}

func TestRun_OrphansWarn(t *testing.T) {
	rows := testutil.Rows()
	rows[testutil.HierarchyTable][testutil.LatestDate] = rows[testutil.HierarchyTable][testutil.LatestDate][:1]
	noi := testutil.NOIVariant()
	noi.AllowedDimensions = []core.Dimension{core.DimCounterparty}
	noi.Rollup = map[core.Dimension]core.RollupSpec{core.DimCounterparty: {Strategy: "SUM"}}
	f := newFixture(t, rows, noi)

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "NOI-S", Dimension: core.DimCounterparty})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C1": "120"}, values(out))
	assert.Contains(t, out.Diagnostics.Warnings, "1 facility ids have no counterparty in L2.facility_hierarchy: B")
}

func TestRun_HierarchyFallsBackToEarlierSnapshot(t *testing.T) {
	rows := testutil.Rows()
	hier := rows[testutil.HierarchyTable]
	hier[testutil.PreviousDate] = hier[testutil.LatestDate]
	delete(hier, testutil.LatestDate)
	f := newFixture(t, rows)

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimCounterparty})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C1": "0.9"}, values(out))
	assert.Contains(t, out.Diagnostics.Warnings, "using L2.facility_hierarchy hierarchy snapshot from "+testutil.PreviousDate)
}

func TestRun_MissingRollupPolicy(t *testing.T) {
	v := testutil.DSCRVariant()
	v.RollupLogic = nil
	f := newFixture(t, testutil.Rows(), v)

	_, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimCounterparty})
	require.ErrorIs(t, err, core.ErrConfig)
	assert.Equal(t, 0, f.samples.Loads())
}

func TestRun_SourcedLayerDimension(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	out, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "NOI-S", Dimension: core.DimL2})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "120", "B": "80"}, values(out))
	assert.Equal(t, "USD", out.Rows[0].Unit)
	assert.Equal(t, "#,##0", out.Rows[0].DisplayFormat)
	assert.Equal(t, "L2.facility_financials.noi", out.Diagnostics.FormulaUsed)
}

func TestRun_ContentErrorsAreLogged(t *testing.T) {
	rows := testutil.Rows()
	rows["L2.facility_financials"][testutil.LatestDate][0]["noi"] = "n/a"
	f := newFixture(t, rows)
	logger, buf := testutil.NewCapturingLogger()
	f.engine.logger = logger

	out := f.engine.Calculate(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimFacility})
	assert.False(t, out.OK)
	assert.Equal(t, core.KindFormula, out.ErrorKind)
	assert.False(t, out.Retryable)
	assert.Empty(t, out.Rows)
	assert.Contains(t, buf.String(), "variant_id=DSCR-A")
	assert.Contains(t, buf.String(), "error_kind=FormulaError")
}

func TestRun_UnresolvedSource(t *testing.T) {
	v := testutil.DSCRVariant()
	v.Formula.Inputs[0].Ref = "L2.facility_financials.missing"
	f := newFixture(t, testutil.Rows(), v)

	_, err := f.engine.Run(context.Background(), core.CalcRequest{VariantID: "DSCR-A", Dimension: core.DimFacility})
	require.ErrorIs(t, err, core.ErrUnresolvedSource)
	assert.Contains(t, err.Error(), "L2.facility_financials.missing")
}

func TestListMetricAsOfDates(t *testing.T) {
	f := newFixture(t, testutil.Rows())
	ctx := context.Background()

	dates, err := f.engine.ListMetricAsOfDates(ctx, "DSCR-A", core.DimFacility)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.LatestDate, testutil.PreviousDate}, dates)

	// Counterparty also needs the exposure table for weights.
	dates, err = f.engine.ListMetricAsOfDates(ctx, "DSCR-A", core.DimCounterparty)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.LatestDate}, dates)

	_, err = f.engine.ListMetricAsOfDates(ctx, "DSCR-A", core.DimLoB)
	assert.ErrorIs(t, err, core.ErrUnsupportedDimension)
}

func TestExplain(t *testing.T) {
	f := newFixture(t, testutil.Rows())

	x, err := f.engine.Explain(testutil.WABRVariant(), core.DimDesk)
	require.NoError(t, err)
	assert.Equal(t, core.DimFacility, x.Base)
	require.NotNil(t, x.Rollup)
	assert.Equal(t, "facility -WEIGHTED_AVERAGE(L2.facility_exposure.commitment_amount)-> counterparty -WEIGHTED_AVERAGE(commitment)-> desk", x.Rollup.String())
	assert.Equal(t, map[core.Dimension]string{
		core.DimCounterparty: "L2.facility_exposure.commitment_amount",
		core.DimDesk:         "L2.facility_exposure.commitment_amount",
	}, x.Weights)
	assert.Equal(t, map[string]string{"L2.facility_exposure": "facility_id"}, x.GroupBy)
	assert.Equal(t, 0, f.samples.Loads())

	x, err = f.engine.Explain(testutil.DSCRVariant(), core.DimFacility)
	require.NoError(t, err)
	assert.Nil(t, x.Rollup)
	assert.Equal(t, core.DimFacility, x.Base)
}
