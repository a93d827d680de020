package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/leapstack-labs/leapmetrics/internal/cli/config"
	"github.com/leapstack-labs/leapmetrics/internal/rollup"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// generateSchemaDocs generates the configuration and catalog references.
func generateSchemaDocs(outDir string) error {
	log.Printf("Generating schema docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := writeDoc(outDir, "configuration.md", configurationDoc()); err != nil {
		return err
	}
	log.Printf("  Generated configuration.md")

	if err := writeDoc(outDir, "catalog.md", catalogDoc()); err != nil {
		return err
	}
	log.Printf("  Generated catalog.md")

	return nil
}

func writeDoc(outDir, name string, w *MarkdownWriter) error {
	if err := os.WriteFile(filepath.Join(outDir, name), w.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// ConfigField represents a configuration field definition.
type ConfigField struct {
	Name        string
	Type        string
	Default     string
	Description string
	Category    string // "project", "server", "populate"
}

// getConfigSchema mirrors internal/cli/config/types.go.
func getConfigSchema() []ConfigField {
	server := config.DefaultServerConfig()
	return []ConfigField{
		{Name: "catalog_dir", Type: "string", Default: config.DefaultCatalogDir, Description: "Directory of metric and variant YAML files", Category: "project"},
		{Name: "dictionary_path", Type: "string", Default: config.DefaultDictionaryPath, Description: "Data dictionary file", Category: "project"},
		{Name: "samples_dir", Type: "string", Default: config.DefaultSamplesDir, Description: "Directory of sample data snapshots", Category: "project"},
		{Name: "state_path", Type: "string", Description: "SQLite state database; empty keeps the catalog in memory", Category: "project"},
		{Name: "environment", Type: "string", Default: config.DefaultEnv, Description: "Environment whose overrides apply", Category: "project"},
		{Name: "output", Type: "string", Default: config.DefaultOutput, Description: "Output format: auto, text, markdown, json", Category: "project"},
		{Name: "verbose", Type: "bool", Default: "false", Description: "Enable debug logging", Category: "project"},
		{Name: "server.port", Type: "int", Default: strconv.Itoa(server.Port), Description: "HTTP listen port", Category: "server"},
		{Name: "server.watch", Type: "bool", Default: strconv.FormatBool(server.Watch), Description: "Reload the catalog on file changes", Category: "server"},
		{Name: "server.request_timeout", Type: "duration", Default: server.RequestTimeout.String(), Description: "Per-request timeout", Category: "server"},
		{Name: "server.allowed_origins", Type: "[]string", Description: "CORS allowed origins", Category: "server"},
		{Name: "populate.parallelism", Type: "int", Default: "0", Description: "Concurrent variant calculations; 0 uses the CPU count", Category: "populate"},
	}
}

func configurationDoc() *MarkdownWriter {
	w := NewMarkdownWriter()

	w.Frontmatter("Configuration", "leapmetrics configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph(fmt.Sprintf("leapmetrics is configured via %s in your project root. Paths are resolved relative to the project root.", InlineCode(config.ConfigNames[0])))

	fields := getConfigSchema()
	sections := []struct{ category, title string }{
		{"project", "Project Settings"},
		{"server", "Server"},
		{"populate", "Populate"},
	}
	headers := []string{"Field", "Type", "Default", "Description"}
	for _, s := range sections {
		w.Header(2, s.title)
		var rows [][]string
		for _, f := range fields {
			if f.Category != s.category {
				continue
			}
			def := f.Default
			if def == "" {
				def = "-"
			}
			rows = append(rows, []string{InlineCode(f.Name), f.Type, InlineCode(def), f.Description})
		}
		w.Table(headers, rows)
	}

	w.Header(2, "Environments")
	w.Paragraph("Entries under `environments` override the project paths when the matching environment is selected with `--env`.")
	w.CodeBlock("yaml", `catalog_dir: catalog
dictionary_path: dictionary.yaml
samples_dir: samples
state_path: .leapmetrics/state.db

server:
  port: 8780
  watch: true

environments:
  prod:
    samples_dir: /data/snapshots
    state_path: /var/lib/leapmetrics/state.db`)

	w.Header(2, "Precedence")
	w.BulletList([]string{
		"Command-line flags",
		fmt.Sprintf("Environment variables (%s prefix, %s for nesting)", InlineCode(config.EnvPrefix), InlineCode("__")),
		"Config file",
		"Defaults",
	})
	return w
}

func catalogDoc() *MarkdownWriter {
	w := NewMarkdownWriter()

	w.Frontmatter("Catalog", "Dimensions, rollup strategies and error kinds")
	w.GeneratedMarker()

	w.Header(1, "Catalog Reference")

	w.Header(2, "Dimensions")
	w.Paragraph("Business dimensions roll up from finest to coarsest. Layer dimensions compute at raw table grain.")
	var dimRows [][]string
	for _, d := range core.AllDimensions {
		kind := "layer"
		if d.Rank() >= 0 {
			kind = "hierarchy " + strconv.Itoa(d.Rank())
		}
		key := d.KeyColumn()
		if key == "" {
			key = "primary key"
		}
		dimRows = append(dimRows, []string{InlineCode(d.String()), d.ConsumptionLevel(), kind, key})
	}
	w.Table([]string{"Dimension", "Label", "Grain", "Group By"}, dimRows)

	w.Header(2, "Rollup Strategies")
	w.Table([]string{"Strategy", "Description"}, [][]string{
		{InlineCode(string(rollup.Sum)), "Add child values"},
		{InlineCode(string(rollup.WeightedAverage)), "Average child values weighted by a dictionary field"},
		{InlineCode(string(rollup.Count)), "Count child groups"},
		{InlineCode(string(rollup.Distribution)), "Emit per-child breakdown entries"},
	})

	w.Header(2, "Variant Status")
	var statusItems []string
	for _, s := range []core.VariantStatus{core.StatusProposed, core.StatusDraft, core.StatusActive, core.StatusDeprecated, core.StatusInactive} {
		statusItems = append(statusItems, InlineCode(string(s)))
	}
	w.BulletList(statusItems)

	w.Header(2, "Error Kinds")
	kinds := []core.Kind{
		core.KindUnsupportedDimension, core.KindUnresolvedSource, core.KindNoData,
		core.KindFormula, core.KindNotFound, core.KindCyclicDependency,
		core.KindValidation, core.KindConflict, core.KindConfig, core.KindInternal,
	}
	var kindRows [][]string
	for _, k := range kinds {
		retry := "No"
		if k == core.KindNoData {
			retry = "Yes"
		}
		kindRows = append(kindRows, []string{InlineCode(string(k)), retry})
	}
	w.Table([]string{"Kind", "Retryable"}, kindRows)
	return w
}
