package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <variant>",
		Short: "Show the field-level lineage of a variant",
		Long: `Display how dictionary fields flow through a variant's formula into its
output: source fields, the transform node and the metric output.`,
		Example: `  # Show lineage for a variant
  leapmetrics lineage DSCR-A

  # Output as JSON
  leapmetrics lineage DSCR-A --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0])
		},
	}
}

func runLineage(cmd *cobra.Command, variantID string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	g, err := cmdCtx.Engine.Lineage(cmd.Context(), variantID)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(g)
	}

	r.Header(1, fmt.Sprintf("Lineage: %s", g.VariantID))

	byKind := map[core.LineageNodeKind][]core.LineageNode{}
	for _, n := range g.Nodes {
		byKind[n.Kind] = append(byKind[n.Kind], n)
	}

	r.Header(2, "Sources")
	rows := make([][]string, 0, len(byKind[core.LineageSource]))
	for _, n := range byKind[core.LineageSource] {
		rows = append(rows, []string{n.Layer, n.Table, n.Field, n.Description})
	}
	r.Table([]string{"Layer", "Table", "Field", "Description"}, rows)
	r.Println("")

	r.Header(2, "Calculation")
	for _, n := range byKind[core.LineageTransform] {
		r.KeyValue(n.Label, n.Formula)
	}
	for _, n := range byKind[core.LineageOutput] {
		r.KeyValue("Output", n.Label)
	}
	r.Println("")

	r.Header(2, "Edges")
	for _, e := range g.Edges {
		r.Println(fmt.Sprintf("  %s -(%s)-> %s", r.ID(e.From), e.Label, r.ID(e.To)))
	}
	return nil
}
