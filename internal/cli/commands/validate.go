package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/internal/engine"
	"github.com/spf13/cobra"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	Approval bool
}

// ValidateReport is the JSON shape of the validate command.
type ValidateReport struct {
	OK     bool           `json:"ok"`
	Issues []engine.Issue `json:"issues"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [variant...]",
		Short: "Check catalog records for errors",
		Long: `Validate variants without touching sample data: record shape, parent
metric, formula grammar, dictionary references, every allowed dimension's
calculation plan, lineage and dependency cycles.

Exits non-zero when any issue is found.`,
		Example: `  # Validate the whole catalog
  leapmetrics validate

  # Check that a proposal is ready for approval
  leapmetrics validate WABR-B --approval`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Approval, "approval", false, "Apply the stricter checks required to approve")

	return cmd
}

func runValidate(cmd *cobra.Command, ids []string, opts *ValidateOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	issues, err := cmdCtx.Engine.Validate(cmd.Context(), engine.ValidateOptions{VariantIDs: ids, Approval: opts.Approval})
	if err != nil {
		return err
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		if issues == nil {
			issues = []engine.Issue{}
		}
		if err := r.JSON(ValidateReport{OK: len(issues) == 0, Issues: issues}); err != nil {
			return err
		}
	default:
		if len(issues) == 0 {
			r.Success("catalog is valid")
			return nil
		}
		r.Header(1, fmt.Sprintf("Validation issues (%d)", len(issues)))
		rows := make([][]string, 0, len(issues))
		for _, is := range issues {
			rows = append(rows, []string{is.VariantID, string(is.Dimension), string(is.Kind), is.Message})
		}
		r.Table([]string{"Variant", "Dimension", "Kind", "Message"}, rows)
	}

	if len(issues) > 0 {
		return fmt.Errorf("validation found %d issue(s)", len(issues))
	}
	return nil
}
