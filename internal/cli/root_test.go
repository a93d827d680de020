package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/cli/config"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cmd := NewRootCmd()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommands(t *testing.T) {
	cmd := NewRootCmd()
	want := []string{
		"calc", "dates", "dims", "lineage", "deps", "rollup-plan", "populate",
		"validate", "variant", "list", "serve", "version", "completion",
	}
	for _, name := range want {
		found, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestRootCalcEndToEnd(t *testing.T) {
	dir := testutil.SetupProject(t)

	stdout, _, err := run(t, "--project-dir", dir, "-o", "json", "calc", "DSCR-A", "--as-of", "2024-12-31")
	require.NoError(t, err)

	var out core.RunOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.True(t, out.OK)
	assert.Equal(t, "2024-12-31", out.AsOfDateUsed)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "1.1", out.Rows[0].Value.Decimal.String())
	assert.Equal(t, "0.7", out.Rows[1].Value.Decimal.String())
}

func TestRootMissingDate(t *testing.T) {
	dir := testutil.SetupProject(t)

	_, _, err := run(t, "--project-dir", dir, "-o", "json", "calc", "DSCR-A", "--as-of", "2020-01-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(core.KindNoData))
}

func TestRootMissingCatalog(t *testing.T) {
	dir := t.TempDir()

	_, _, err := run(t, "--project-dir", dir, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog directory does not exist")
}

func TestRootVerboseLogsToStderr(t *testing.T) {
	dir := testutil.SetupProject(t)

	stdout, stderr, err := run(t, "--project-dir", dir, "-v", "-o", "markdown", "dims", "DSCR-A")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Dimensions of DSCR-A")
	assert.Contains(t, stderr, "using config file")
}

func TestCompletion(t *testing.T) {
	stdout, _, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "leapmetrics")
}
