package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// RollupPlanOptions holds options for the rollup-plan command.
type RollupPlanOptions struct {
	Dimension string
}

// NewRollupPlanCommand creates the rollup-plan command.
func NewRollupPlanCommand() *cobra.Command {
	opts := &RollupPlanOptions{}

	cmd := &cobra.Command{
		Use:     "rollup-plan <variant>",
		Aliases: []string{"explain"},
		Short:   "Explain how a variant is computed at a dimension",
		Long: `Show the calculation plan for a variant without loading any data: the
formula, the tables and grouping columns it reads, the grain it is evaluated
at and every rollup step with its strategy and weight.`,
		Example: `  leapmetrics rollup-plan WABR-A --dimension portfolio
  leapmetrics explain DSCR-A -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollupPlan(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Dimension, "dimension", "d", string(core.DimFacility), "Target dimension")
	registerDimensionCompletion(cmd)

	return cmd
}

func runRollupPlan(cmd *cobra.Command, variantID string, opts *RollupPlanOptions) error {
	dim, err := parseDimension(opts.Dimension)
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	ex, err := cmdCtx.Engine.Explain(cmd.Context(), variantID, dim)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(ex)
	}

	r.Header(1, fmt.Sprintf("Plan for %s at %s", ex.VariantID, ex.Dimension))
	r.KeyValue("Formula", ex.Formula)
	r.KeyValue("Evaluated at", string(ex.Base))
	r.KeyValue("Tables", strings.Join(ex.Tables, ", "))
	for _, table := range sortedKeys(ex.GroupBy) {
		r.KeyValue("Group "+table+" by", ex.GroupBy[table])
	}
	r.Println("")

	if ex.Rollup == nil || len(ex.Rollup.Steps) == 0 {
		r.Println(r.Muted("No rollup: the formula is evaluated at the requested dimension."))
		return nil
	}

	r.Header(2, "Rollup")
	rows := make([][]string, 0, len(ex.Rollup.Steps))
	for i, step := range ex.Rollup.Steps {
		weight := ex.Weights[step.To]
		if weight == "" {
			weight = step.Policy.Weight
		}
		if weight == "" {
			weight = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			string(step.From),
			string(step.To),
			output.Title(string(step.Policy.Strategy)),
			weight,
		})
	}
	r.Table([]string{"Step", "From", "To", "Strategy", "Weight"}, rows)
	return nil
}
