package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/engine"
	"github.com/leapstack-labs/leapmetrics/internal/server/notifier"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	dir := testutil.SetupProject(t)
	eng, err := engine.New(context.Background(), engine.Config{
		CatalogDir:     filepath.Join(dir, "catalog"),
		DictionaryPath: filepath.Join(dir, "dictionary.yaml"),
		Samples:        testutil.NewCountingProvider(testutil.Rows()),
		Logger:         testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	s := NewServer(Config{Engine: eng, Logger: testutil.NewTestLogger(t)})
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind core.Kind
		want int
	}{
		{core.KindNotFound, http.StatusNotFound},
		{core.KindNoData, http.StatusNotFound},
		{core.KindUnsupportedDimension, http.StatusBadRequest},
		{core.KindValidation, http.StatusUnprocessableEntity},
		{core.KindConflict, http.StatusConflict},
		{core.KindFormula, http.StatusInternalServerError},
		{core.KindUnresolvedSource, http.StatusInternalServerError},
		{core.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestHealth(t *testing.T) {
	_, h := setupServer(t)
	rec := do(t, h, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestCatalogRoutes(t *testing.T) {
	_, h := setupServer(t)

	rec := do(t, h, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decode[[]core.ParentMetric](t, rec)
	require.Len(t, metrics, 2)
	assert.Equal(t, "DSCR", metrics[0].MetricID)

	rec = do(t, h, http.MethodGet, "/api/metrics/WABR/variants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	variants := decode[[]core.Variant](t, rec)
	require.Len(t, variants, 2)

	rec = do(t, h, http.MethodGet, "/api/variants?status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	variants = decode[[]core.Variant](t, rec)
	var ids []string
	for _, v := range variants {
		ids = append(ids, v.VariantID)
	}
	assert.Equal(t, []string{"DSCR-A", "NOI-S", "WABR-A"}, ids)

	rec = do(t, h, http.MethodGet, "/api/variants/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, core.KindNotFound, errResp.ErrorKind)
}

func TestCalculateRoute(t *testing.T) {
	_, h := setupServer(t)

	rec := do(t, h, http.MethodGet, "/api/variants/DSCR-A/calculate?dimension=facility", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		OK           bool   `json:"ok"`
		AsOfDateUsed string `json:"asOfDateUsed"`
		Rows         []struct {
			AggregationID string          `json:"aggregation_id"`
			Value         json.RawMessage `json:"value"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.OK)
	assert.Equal(t, testutil.LatestDate, out.AsOfDateUsed)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "1.2", string(out.Rows[0].Value))

	tests := []struct {
		name      string
		target    string
		status    int
		kind      core.Kind
		retryable bool
	}{
		{"unsupported dimension", "/api/variants/DSCR-A/calculate?dimension=L1", http.StatusBadRequest, core.KindUnsupportedDimension, false},
		{"unknown dimension", "/api/variants/DSCR-A/calculate?dimension=galaxy", http.StatusBadRequest, core.KindUnsupportedDimension, false},
		{"missing date", "/api/variants/DSCR-A/calculate?as_of=2020-01-01", http.StatusNotFound, core.KindNoData, true},
		{"malformed date", "/api/variants/DSCR-A/calculate?as_of=31/01/2025", http.StatusUnprocessableEntity, core.KindValidation, false},
		{"unknown variant", "/api/variants/nope/calculate", http.StatusNotFound, core.KindNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body struct {
				ErrorKind core.Kind `json:"errorKind"`
				Retryable bool      `json:"retryable"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.ErrorKind)
			assert.Equal(t, tt.retryable, body.Retryable)
		})
	}
}

func TestDimensionsAndDatesRoutes(t *testing.T) {
	_, h := setupServer(t)

	rec := do(t, h, http.MethodGet, "/api/variants/DSCR-A/dimensions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"counterparty"`)

	rec = do(t, h, http.MethodGet, "/api/variants/DSCR-A/dates?dimension=facility", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dates := decode[struct {
		Dates []string `json:"dates"`
	}](t, rec)
	assert.Equal(t, []string{testutil.LatestDate, testutil.PreviousDate}, dates.Dates)
}

func TestLineageAndDependencyRoutes(t *testing.T) {
	_, h := setupServer(t)

	rec := do(t, h, http.MethodGet, "/api/variants/DSCR-A/lineage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[core.LineageGraph](t, rec)
	assert.Equal(t, 2, g.CountKind(core.LineageSource))

	rec = do(t, h, http.MethodGet, "/api/variants/WABR-A/dependencies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	deps := decode[core.Dependencies](t, rec)
	require.NotEmpty(t, deps.Downstream)
	assert.Equal(t, "X", deps.Downstream[0].NodeID)

	rec = do(t, h, http.MethodGet, "/api/variants/X/dependencies/graph?depth=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[engine.DependencyView](t, rec)
	assert.Contains(t, view.Edges, engine.GraphEdge{From: "WABR-A", To: "X"})

	rec = do(t, h, http.MethodGet, "/api/variants/X/dependencies/graph?depth=deep", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPatchAndTransition(t *testing.T) {
	s, h := setupServer(t)
	events := s.Notifier().Subscribe()
	defer s.Notifier().Unsubscribe(events)

	rec := do(t, h, http.MethodPatch, "/api/variants/X", `{"variant_name": "WABR (bps)"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decode[core.Variant](t, rec)
	assert.Equal(t, "WABR (bps)", v.VariantName)
	assert.Equal(t, notifier.EventVariant, (<-events).Kind)

	rec = do(t, h, http.MethodPatch, "/api/variants/X", `{"colour": "blue"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/variants/X", `{"variant_name": "stale", "revision": 1}`)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/variants/X/propose", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v = decode[core.Variant](t, rec)
	assert.Equal(t, core.StatusProposed, v.Status)

	// PROPOSED cannot be approved directly.
	rec = do(t, h, http.MethodPost, "/api/variants/X/approve", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/variants/X/explode", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/variants/DSCR-A/deprecate", `{"superseded_by": "NOI-S"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v = decode[core.Variant](t, rec)
	assert.Equal(t, core.StatusDeprecated, v.Status)
	assert.Equal(t, "NOI-S", v.SupersededByVariantID)
}

func TestValidateRoute(t *testing.T) {
	_, h := setupServer(t)

	rec := do(t, h, http.MethodGet, "/api/validate?variant=DSCR-A&variant=WABR-A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok": true`)

	rec = do(t, h, http.MethodGet, "/api/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok": false`)
	assert.Contains(t, rec.Body.String(), `"variant_id": "X"`)
}

func TestResultsWithoutState(t *testing.T) {
	_, h := setupServer(t)
	rec := do(t, h, http.MethodGet, "/api/results?run_version=r1&as_of=2025-01-31", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestReloadPublishesEvent(t *testing.T) {
	s, h := setupServer(t)
	events := s.Notifier().Subscribe()
	defer s.Notifier().Unsubscribe(events)

	rec := do(t, h, http.MethodPost, "/api/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, notifier.EventReloaded, (<-events).Kind)
}

func TestWatched(t *testing.T) {
	assert.True(t, watched("catalog/dscr.yaml"))
	assert.True(t, watched("samples/L2/facility_financials.csv"))
	assert.False(t, watched("catalog/.dscr.yaml.swp"))
	assert.False(t, watched("README.md"))
}
