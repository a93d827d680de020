package deps

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/dictionary"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDict(t *testing.T) core.Dictionary {
	t.Helper()
	dict, err := dictionary.New(testutil.Tables(), testutil.HierarchyTable)
	require.NoError(t, err)
	return dict
}

func newIndexed(t *testing.T) *Resolver {
	t.Helper()
	ctx := context.Background()
	c, err := catalog.New(ctx, catalog.Config{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	require.NoError(t, catalog.Seed(ctx, c, &catalog.Bundle{Metrics: testutil.Metrics(), Variants: testutil.Variants()}))
	return New(Config{Catalog: c, Dictionary: newDict(t), Logger: testutil.NewTestLogger(t)})
}

func newScanning(t *testing.T, variants ...*core.Variant) *Resolver {
	t.Helper()
	store := catalog.NewMemoryStore()
	for _, v := range variants {
		require.NoError(t, store.PutVariant(context.Background(), v, core.AnyRevision))
	}
	return New(Config{Catalog: store, Dictionary: newDict(t)})
}

func ids(nodes []core.DependencyNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.NodeID)
	}
	return out
}

func TestResolve_Upstream(t *testing.T) {
	r := newIndexed(t)

	deps, err := r.Resolve(context.Background(), "DSCR-A")
	require.NoError(t, err)
	require.Len(t, deps.Upstream, 2)

	noi := deps.Upstream[0]
	assert.Equal(t, "L2.facility_financials.noi", noi.NodeID)
	assert.Equal(t, core.NodeKindField, noi.Kind)
	assert.Equal(t, "L2", noi.Layer)
	assert.Equal(t, "facility_financials", noi.Table)
	assert.Equal(t, "noi", noi.Field)
	assert.True(t, noi.Resolved)
	assert.Empty(t, deps.Downstream)
}

func TestResolve_DownstreamFromIndex(t *testing.T) {
	r := newIndexed(t)

	deps, err := r.Resolve(context.Background(), "WABR-A")
	require.NoError(t, err)
	assert.Equal(t, core.DownstreamIndex, deps.DownstreamSource)
	assert.Equal(t, []string{"X"}, ids(deps.Downstream))
	assert.Equal(t, core.StatusDraft, deps.Downstream[0].Status)

	up, err := r.Resolve(context.Background(), "X")
	require.NoError(t, err)
	require.Len(t, up.Upstream, 1)
	assert.Equal(t, "WABR-A", up.Upstream[0].NodeID)
	assert.Equal(t, "WABR", up.Upstream[0].NodeName)
	assert.Equal(t, core.StatusActive, up.Upstream[0].Status)
}

func TestResolve_IndexMatchesScan(t *testing.T) {
	indexed := newIndexed(t)
	scanning := newScanning(t, testutil.Variants()...)
	ctx := context.Background()

	for _, v := range testutil.Variants() {
		a, err := indexed.Resolve(ctx, v.VariantID)
		require.NoError(t, err)
		b, err := scanning.Resolve(ctx, v.VariantID)
		require.NoError(t, err)
		assert.Equal(t, core.DownstreamScan, b.DownstreamSource)
		assert.Equal(t, ids(a.Downstream), ids(b.Downstream), v.VariantID)
		assert.Equal(t, a.Upstream, b.Upstream, v.VariantID)
	}
}

func TestResolve_ReferenceByName(t *testing.T) {
	x := testutil.SpreadVariant()
	x.UpstreamInputs = []core.NodeRef{{ID: "WABR", Kind: core.NodeKindVariant}}
	r := newScanning(t, testutil.WABRVariant(), x)

	deps, err := r.Resolve(context.Background(), "WABR-A")
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, ids(deps.Downstream))
}

func TestResolve_DeclaredDownstreamWins(t *testing.T) {
	w := testutil.WABRVariant()
	w.DownstreamConsumers = []core.NodeRef{
		{ID: "REPORT-1", Kind: core.NodeKindVariant},
		{ID: "WABR-A", Kind: core.NodeKindVariant},
	}
	r := newScanning(t, w, testutil.SpreadVariant())

	deps, err := r.Resolve(context.Background(), "WABR-A")
	require.NoError(t, err)
	assert.Equal(t, core.DownstreamDeclared, deps.DownstreamSource)
	require.Len(t, deps.Downstream, 1)
	assert.Equal(t, "REPORT-1", deps.Downstream[0].NodeID)
	assert.False(t, deps.Downstream[0].Resolved)
}

func TestResolve_ExcludesSelf(t *testing.T) {
	v := testutil.DSCRVariant()
	v.UpstreamInputs = append(v.UpstreamInputs, core.NodeRef{ID: "DSCR-A", Kind: core.NodeKindVariant})
	r := newScanning(t, v)

	deps, err := r.Resolve(context.Background(), "DSCR-A")
	require.NoError(t, err)
	assert.NotContains(t, ids(deps.Upstream), "DSCR-A")
	assert.NotContains(t, ids(deps.Downstream), "DSCR-A")
}

func TestResolve_Cycle(t *testing.T) {
	a := &core.Variant{VariantID: "A", UpstreamInputs: []core.NodeRef{{ID: "B", Kind: core.NodeKindVariant}}}
	b := &core.Variant{VariantID: "B", UpstreamInputs: []core.NodeRef{{ID: "C", Kind: core.NodeKindVariant}}}
	c := &core.Variant{VariantID: "C", UpstreamInputs: []core.NodeRef{{ID: "A", Kind: core.NodeKindVariant}}}
	r := newScanning(t, a, b, c)

	_, err := r.Resolve(context.Background(), "A")
	require.ErrorIs(t, err, core.ErrCyclicDependency)
	var ce *core.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"A", "B", "C", "A"}, ce.Path)
	assert.Contains(t, err.Error(), "A -> B -> C -> A")

	assert.ErrorIs(t, r.CheckCycles(context.Background()), core.ErrCyclicDependency)

	_, err = r.Graph(context.Background(), "A", -1)
	assert.ErrorIs(t, err, core.ErrCyclicDependency)
}

func TestResolve_DiamondIsNotACycle(t *testing.T) {
	base := &core.Variant{VariantID: "BASE"}
	left := &core.Variant{VariantID: "L", UpstreamInputs: []core.NodeRef{{ID: "BASE", Kind: core.NodeKindVariant}}}
	right := &core.Variant{VariantID: "R", UpstreamInputs: []core.NodeRef{{ID: "BASE", Kind: core.NodeKindVariant}}}
	top := &core.Variant{VariantID: "TOP", UpstreamInputs: []core.NodeRef{
		{ID: "L", Kind: core.NodeKindVariant},
		{ID: "R", Kind: core.NodeKindVariant},
	}}
	r := newScanning(t, base, left, right, top)

	_, err := r.Resolve(context.Background(), "TOP")
	require.NoError(t, err)
	require.NoError(t, r.CheckCycles(context.Background()))
}

func TestResolve_NotFound(t *testing.T) {
	_, err := newIndexed(t).Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestGraph(t *testing.T) {
	r := newIndexed(t)
	ctx := context.Background()

	g, err := r.Graph(ctx, "WABR-A", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, g.Downstream("WABR-A"))
	assert.ElementsMatch(t, []string{
		"L2.facility_exposure.rate_index",
		"L2.facility_exposure.commitment_amount",
		"L2.facility_exposure.bank_share",
	}, g.Upstream("WABR-A"))

	n, ok := g.GetNode("X")
	require.True(t, ok)
	assert.Equal(t, core.NodeKindVariant, n.Data.Kind)

	// X reaches the exposure fields only through WABR-A.
	g, err = r.Graph(ctx, "X", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"WABR-A"}, g.Upstream("X"))
	g, err = r.Graph(ctx, "X", 2)
	require.NoError(t, err)
	assert.Len(t, g.Upstream("X"), 4)
}
