package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("project-dir", "", "")
	flags.String("catalog-dir", "", "")
	flags.String("dictionary", "", "")
	flags.String("samples-dir", "", "")
	flags.String("state", "", "")
	flags.String("env", "", "")
	flags.String("output", "", "")
	flags.Bool("verbose", false, "")
	flags.Int("port", 0, "")
	return flags
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "leapmetrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	root, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, DefaultCatalogDir), cfg.CatalogDir)
	assert.Equal(t, filepath.Join(root, DefaultDictionaryPath), cfg.DictionaryPath)
	assert.Equal(t, filepath.Join(root, DefaultSamplesDir), cfg.SamplesDir)
	assert.Empty(t, cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultPort, cfg.GetServerConfig().Port)
	assert.Equal(t, DefaultRequestTimeout, cfg.GetServerConfig().RequestTimeout)
	assert.Empty(t, GetConfigFileUsed())
}

func TestLoadConfig_Precedence(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	writeConfig(t, tmpDir, `
catalog_dir: from_file
samples_dir: samples_file
state_path: state_file.db
server:
  port: 9000
  request_timeout: 5s
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		ResetConfig()
		cfg, err := LoadConfig("", newFlags())
		require.NoError(t, err)
		assert.Equal(t, "from_file", filepath.Base(cfg.CatalogDir))
		assert.Equal(t, "samples_file", filepath.Base(cfg.SamplesDir))
		assert.Equal(t, 9000, cfg.GetServerConfig().Port)
		assert.Equal(t, 5*time.Second, cfg.GetServerConfig().RequestTimeout)
		assert.NotEmpty(t, GetConfigFileUsed())
	})

	t.Run("env overrides file", func(t *testing.T) {
		ResetConfig()
		t.Setenv("LEAPMETRICS_CATALOG_DIR", "from_env")
		t.Setenv("LEAPMETRICS_SERVER__PORT", "9100")
		cfg, err := LoadConfig("", newFlags())
		require.NoError(t, err)
		assert.Equal(t, "from_env", filepath.Base(cfg.CatalogDir))
		assert.Equal(t, 9100, cfg.GetServerConfig().Port)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		ResetConfig()
		t.Setenv("LEAPMETRICS_CATALOG_DIR", "from_env")
		flags := newFlags()
		require.NoError(t, flags.Set("catalog-dir", "from_flag"))
		require.NoError(t, flags.Set("port", "9200"))
		cfg, err := LoadConfig("", flags)
		require.NoError(t, err)
		assert.Equal(t, "from_flag", filepath.Base(cfg.CatalogDir))
		assert.Equal(t, 9200, cfg.GetServerConfig().Port)
	})

	t.Run("state flag maps to state_path", func(t *testing.T) {
		ResetConfig()
		flags := newFlags()
		require.NoError(t, flags.Set("state", "flag.db"))
		cfg, err := LoadConfig("", flags)
		require.NoError(t, err)
		assert.Equal(t, "flag.db", filepath.Base(cfg.StatePath))
		assert.True(t, filepath.IsAbs(cfg.StatePath))
	})
}

func TestLoadConfig_PathAnchoring(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	projectDir := filepath.Join(tmpDir, "project")
	nested := filepath.Join(projectDir, "catalog", "credit")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	writeConfig(t, projectDir, "dictionary_path: dict/dictionary.yaml\n")

	t.Run("upward search from a subdirectory", func(t *testing.T) {
		ResetConfig()
		t.Chdir(nested)
		cfg, err := LoadConfig("", nil)
		require.NoError(t, err)
		root, err := filepath.EvalSymlinks(projectDir)
		require.NoError(t, err)
		got, err := filepath.EvalSymlinks(cfg.ProjectRoot)
		require.NoError(t, err)
		assert.Equal(t, root, got)
		assert.Equal(t, filepath.Join(cfg.ProjectRoot, "dict", "dictionary.yaml"), cfg.DictionaryPath)
	})

	t.Run("catalog dir named catalog implies its parent", func(t *testing.T) {
		ResetConfig()
		t.Chdir(tmpDir)
		flags := newFlags()
		require.NoError(t, flags.Set("catalog-dir", filepath.Join("project", "catalog")))
		cfg, err := LoadConfig("", flags)
		require.NoError(t, err)
		assert.Equal(t, "project", filepath.Base(cfg.ProjectRoot))
		assert.Equal(t, filepath.Join(cfg.ProjectRoot, "dict", "dictionary.yaml"), cfg.DictionaryPath)
	})

	t.Run("explicit project dir", func(t *testing.T) {
		ResetConfig()
		t.Chdir(tmpDir)
		flags := newFlags()
		require.NoError(t, flags.Set("project-dir", "project"))
		cfg, err := LoadConfig("", flags)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(cfg.ProjectRoot, "catalog"), cfg.CatalogDir)
	})
}

func TestLoadConfig_Environments(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	writeConfig(t, tmpDir, `
environment: prod
environments:
  prod:
    state_path: prod.db
    samples_dir: prod_samples
`)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "prod.db", filepath.Base(cfg.StatePath))
	assert.Equal(t, "prod_samples", filepath.Base(cfg.SamplesDir))

	ResetConfig()
	flags := newFlags()
	require.NoError(t, flags.Set("env", "missing"))
	cfg, err = LoadConfig("", flags)
	require.NoError(t, err)
	assert.Empty(t, cfg.StatePath)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	t.Setenv("METRIC_STATE", "expanded.db")
	writeConfig(t, tmpDir, "state_path: ${METRIC_STATE}\n")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "expanded.db", filepath.Base(cfg.StatePath))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		errSubstr string
	}{
		{name: "valid", cfg: Config{CatalogDir: "c", DictionaryPath: "d", OutputFormat: "json"}},
		{name: "missing catalog", cfg: Config{DictionaryPath: "d"}, errSubstr: "catalog_dir is required"},
		{name: "missing dictionary", cfg: Config{CatalogDir: "c"}, errSubstr: "dictionary_path is required"},
		{name: "bad output", cfg: Config{CatalogDir: "c", DictionaryPath: "d", OutputFormat: "xml"}, errSubstr: "invalid output format"},
		{
			name:      "negative parallelism",
			cfg:       Config{CatalogDir: "c", DictionaryPath: "d", Populate: &PopulateConfig{Parallelism: -1}},
			errSubstr: "parallelism",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestConfig_ValidatePaths(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Config{
		CatalogDir:     filepath.Join(tmpDir, "catalog"),
		DictionaryPath: filepath.Join(tmpDir, "dictionary.yaml"),
		SamplesDir:     filepath.Join(tmpDir, "samples"),
	}

	err := cfg.ValidatePaths()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog directory does not exist")

	require.NoError(t, os.Mkdir(cfg.CatalogDir, 0o750))
	require.NoError(t, os.WriteFile(cfg.DictionaryPath, []byte("tables: []\n"), 0o600))
	require.NoError(t, os.Mkdir(cfg.SamplesDir, 0o750))
	assert.NoError(t, cfg.ValidatePaths())
}
