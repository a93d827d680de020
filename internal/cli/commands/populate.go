package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/internal/batch"
	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/spf13/cobra"
)

// PopulateOptions holds options for the populate command.
type PopulateOptions struct {
	RunVersion string
	AsOf       string
	Variants   []string
	DryRun     bool
}

// NewPopulateCommand creates the populate command.
func NewPopulateCommand() *cobra.Command {
	opts := &PopulateOptions{}

	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Compute active variants at every allowed dimension and store the results",
		Long: `Compute every ACTIVE variant (or the ones named with --variant) at each of
its allowed dimensions for one as-of date, and replace the stored results of
that run version and date in one transaction.

Calculations without data for the date are reported as skipped.`,
		Example: `  # Populate month-end results
  leapmetrics populate --run-version 2024-06 --as-of 2024-06-30

  # Preview two variants without writing
  leapmetrics populate --run-version test --as-of 2024-06-30 --variant DSCR-A --variant WABR-A --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPopulate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.RunVersion, "run-version", "", "Run version label (required)")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "As-of date YYYY-MM-DD (required)")
	cmd.Flags().StringSliceVar(&opts.Variants, "variant", nil, "Variant to populate (repeatable; default all ACTIVE)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Compute without writing")
	cmd.Flags().Int("parallelism", 0, "Concurrent calculations (0 = GOMAXPROCS)")
	_ = cmd.MarkFlagRequired("run-version")
	_ = cmd.MarkFlagRequired("as-of")

	return cmd
}

func runPopulate(cmd *cobra.Command, opts *PopulateOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	report, err := cmdCtx.Engine.Populate(cmd.Context(), batch.Request{
		RunVersion: opts.RunVersion,
		AsOfDate:   opts.AsOf,
		VariantIDs: opts.Variants,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(report)
	}

	run := report.Run
	verb := "stored"
	if opts.DryRun {
		verb = "computed (dry run)"
	}
	r.Success(fmt.Sprintf("%s: %d results %s from %d calculations", run.RunVersion, run.Results, verb, run.Computed))
	r.KeyValue("As of", run.AsOfDate)
	r.KeyValue("Status", string(run.Status))
	if len(report.Skipped) > 0 {
		r.Println("")
		r.Header(2, fmt.Sprintf("Skipped (%d)", len(report.Skipped)))
		rows := make([][]string, 0, len(report.Skipped))
		for _, s := range report.Skipped {
			rows = append(rows, []string{s.VariantID, string(s.Dimension), s.Reason})
		}
		r.Table([]string{"Variant", "Dimension", "Reason"}, rows)
	}
	return nil
}
