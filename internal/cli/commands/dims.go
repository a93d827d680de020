package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// NewDimsCommand creates the dims command.
func NewDimsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dims <variant>",
		Short: "List the dimensions a variant can be calculated at",
		Long: `List the allowed dimensions of a variant and where the list came from:
an explicit allow list, per-dimension source mappings, or the tables the
formula reads.`,
		Example: `  leapmetrics dims WABR-A
  leapmetrics dims WABR-A -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDims(cmd, args[0])
		},
	}
}

func runDims(cmd *cobra.Command, variantID string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	res, err := cmdCtx.Engine.Dimensions(cmd.Context(), variantID)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(res)
	}

	r.Header(1, fmt.Sprintf("Dimensions of %s", variantID))
	r.KeyValue("Source", string(res.Source))
	r.Println("")
	rows := make([][]string, 0, len(res.Dimensions))
	for _, d := range res.Dimensions {
		kind := "business"
		if d.IsLayer() {
			kind = "layer"
		}
		rows = append(rows, []string{string(d), d.ConsumptionLevel(), kind})
	}
	r.Table([]string{"Dimension", "Level", "Kind"}, rows)
	return nil
}

// DatesOptions holds options for the dates command.
type DatesOptions struct {
	Dimension string
}

// NewDatesCommand creates the dates command.
func NewDatesCommand() *cobra.Command {
	opts := &DatesOptions{}

	cmd := &cobra.Command{
		Use:   "dates <variant>",
		Short: "List the as-of dates a variant can be calculated for",
		Long: `List the snapshot dates present in every table the variant reads at the
chosen dimension, newest last.`,
		Example: `  leapmetrics dates DSCR-A
  leapmetrics dates WABR-A --dimension desk`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDates(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Dimension, "dimension", "d", string(core.DimFacility), "Dimension whose tables are intersected")
	registerDimensionCompletion(cmd)

	return cmd
}

func runDates(cmd *cobra.Command, variantID string, opts *DatesOptions) error {
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
	dates, err := cmdCtx.Engine.Dates(cmd.Context(), variantID, dim)
	if err != nil {
		return err
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(map[string]any{"variant_id": variantID, "dimension": dim, "dates": nonNilStrings(dates)})
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, fmt.Sprintf("As-of dates for %s (%s)", variantID, dim)))
		r.Println("")
		r.Printf("%s", output.FormatList(dates))
	default:
		r.Header(1, fmt.Sprintf("As-of dates for %s (%s)", variantID, dim))
		for _, d := range dates {
			r.Println("  " + d)
		}
	}
	if len(dates) == 0 {
		r.Warning("no snapshot date is shared by every source table")
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
