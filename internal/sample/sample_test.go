package sample

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put("L2.t", "2025-01-31", []core.Row{{"facility_id": "A"}})
	m.Put("L2.t", "2024-12-31", []core.Row{{"facility_id": "A"}, {"facility_id": "B"}})

	dates, err := m.Dates(ctx, "L2.t")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-31", "2024-12-31"}, dates)

	rows, err := m.Rows(ctx, "L2.t", "2024-12-31")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = m.Rows(ctx, "L2.t", "2023-01-01")
	assert.ErrorIs(t, err, core.ErrNoData)

	dates, err = m.Dates(ctx, "L2.missing")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func writeCSV(t *testing.T, dir, layer, table, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, layer), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, layer, table+".csv"), []byte(content), 0o600))
}

func TestDuckDB(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "L2", "facility_financials", `as_of_date,facility_id,noi,debt_service
2025-01-31,B,80,100
2025-01-31,A,120.50,100
2024-12-31,A,110,
`)
	writeCSV(t, dir, "L2", "no_dates", "facility_id,noi\nA,1\n")

	p, err := OpenDuckDB(ctx, dir, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	dates, err := p.Dates(ctx, "L2.facility_financials")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-31", "2024-12-31"}, dates)

	rows, err := p.Rows(ctx, "L2.facility_financials", "2025-01-31")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["facility_id"])
	assert.Equal(t, "120.50", rows[0]["noi"], "values are kept as exact text")

	rows, err = p.Rows(ctx, "L2.facility_financials", "2024-12-31")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["debt_service"], "empty cells are null")

	_, err = p.Rows(ctx, "L2.facility_financials", "2020-01-01")
	assert.ErrorIs(t, err, core.ErrNoData)

	dates, err = p.Dates(ctx, "L2.missing")
	require.NoError(t, err)
	assert.Empty(t, dates, "missing files have no dates")

	_, err = p.Rows(ctx, "L2.missing", "2025-01-31")
	assert.ErrorIs(t, err, core.ErrNoData)

	_, err = p.Dates(ctx, "L2.no_dates")
	assert.ErrorIs(t, err, core.ErrConfig)

	_, err = p.Path("../etc")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestDuckDB_ResetRereadsFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "L2", "facility_financials", "as_of_date,facility_id,noi\n2025-01-31,A,120\n")

	p, err := OpenDuckDB(ctx, dir, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	rows, err := p.Rows(ctx, "L2.facility_financials", "2025-01-31")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "120", rows[0]["noi"])

	writeCSV(t, dir, "L2", "facility_financials", "as_of_date,facility_id,noi\n2025-02-28,A,999\n2025-01-31,A,120\n")

	dates, err := p.Dates(ctx, "L2.facility_financials")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-31"}, dates, "loaded tables are cached until Reset")

	p.Reset()

	dates, err = p.Dates(ctx, "L2.facility_financials")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-02-28", "2025-01-31"}, dates)

	rows, err = p.Rows(ctx, "L2.facility_financials", "2025-02-28")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "999", rows[0]["noi"])
}
