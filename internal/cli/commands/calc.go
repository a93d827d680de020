package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// CalcOptions holds options for the calc command.
type CalcOptions struct {
	Dimension string
	AsOf      string
}

// NewCalcCommand creates the calc command.
func NewCalcCommand() *cobra.Command {
	opts := &CalcOptions{}

	cmd := &cobra.Command{
		Use:   "calc <variant>",
		Short: "Calculate a metric variant at a dimension",
		Long: `Compute a metric variant against the sample data at one dimension.

The as-of date defaults to the latest snapshot available in every table the
variant reads. Business dimensions coarser than the formula's grain are
reached by rolling up along facility > counterparty > desk > portfolio > lob.`,
		Example: `  # DSCR per facility at the latest date
  leapmetrics calc DSCR-A

  # Exposure-weighted rate per desk on a given date
  leapmetrics calc WABR-A --dimension desk --as-of 2024-06-30

  # Full result with diagnostics as JSON
  leapmetrics calc DSCR-A -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalc(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Dimension, "dimension", "d", string(core.DimFacility), "Dimension to calculate at")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "Snapshot date (YYYY-MM-DD); default latest")
	registerDimensionCompletion(cmd)

	return cmd
}

func runCalc(cmd *cobra.Command, variantID string, opts *CalcOptions) error {
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
	out := cmdCtx.Engine.Calculate(cmd.Context(), core.CalcRequest{
		VariantID: variantID,
		Dimension: dim,
		AsOfDate:  opts.AsOf,
	})

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(out); err != nil {
			return err
		}
	} else if out.OK {
		calcText(r, out)
	}

	if !out.OK {
		return fmt.Errorf("%s: %s", out.ErrorKind, out.Error)
	}
	return nil
}

func calcText(r *output.Renderer, out *core.RunOutput) {
	r.Header(1, fmt.Sprintf("%s at %s", out.VariantID, out.Dimension.ConsumptionLevel()))
	r.KeyValue("As of", out.AsOfDateUsed)
	if d := out.Diagnostics; d != nil {
		r.KeyValue("Formula", d.FormulaUsed)
		if d.RolledUpFrom != "" {
			r.KeyValue("Rolled up from", string(d.RolledUpFrom))
		}
	}
	r.Println("")

	rows := make([][]string, 0, len(out.Rows))
	hasBreakdown := false
	for _, row := range out.Rows {
		rows = append(rows, []string{row.AggregationID, formatValue(row.Value, row.DisplayFormat), row.Unit, breakdownText(row.Breakdown)})
		hasBreakdown = hasBreakdown || len(row.Breakdown) > 0
	}
	header := []string{"Key", "Value", "Unit", "Breakdown"}
	if !hasBreakdown {
		header = header[:3]
		for i := range rows {
			rows[i] = rows[i][:3]
		}
	}
	r.Table(header, rows)

	if d := out.Diagnostics; d != nil {
		r.Println("")
		r.Println(r.Muted(fmt.Sprintf("%d groups, %d null, tables: %s", d.GroupCount, d.NullCount, strings.Join(d.Tables, ", "))))
		for _, w := range d.Warnings {
			r.Warning(w)
		}
	}
}

func breakdownText(entries []core.BreakdownEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.Key+"="+formatValue(e.Value, ""))
	}
	return strings.Join(parts, " ")
}

// formatValue renders a metric value. Percent formats ("0.00%") scale by 100.
func formatValue(v decimal.NullDecimal, displayFormat string) string {
	if !v.Valid {
		return "null"
	}
	if strings.Contains(displayFormat, "%") || strings.EqualFold(displayFormat, "percent") {
		return v.Decimal.Shift(2).StringFixed(2) + "%"
	}
	return v.Decimal.String()
}

func parseDimension(s string) (core.Dimension, error) {
	dim, err := core.ParseDimension(s)
	if err != nil {
		return "", core.Wrap(core.KindUnsupportedDimension, "", err, "invalid --dimension")
	}
	return dim, nil
}

func registerDimensionCompletion(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("dimension", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		dims := make([]string, len(core.AllDimensions))
		for i, d := range core.AllDimensions {
			dims[i] = string(d)
		}
		return dims, cobra.ShellCompDirectiveNoFileComp
	})
}

// dimensionList joins dimensions in canonical order.
func dimensionList(dims []core.Dimension) string {
	sorted := append([]core.Dimension(nil), dims...)
	core.SortDimensions(sorted)
	parts := make([]string, len(sorted))
	for i, d := range sorted {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}

// sortedKeys returns map keys in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
