package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// TransitionFlags holds options shared by the lifecycle subcommands.
type TransitionFlags struct {
	SupersededBy string
	Revision     int64
}

// NewVariantCommand creates the variant command with its lifecycle subcommands.
func NewVariantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variant",
		Short: "Edit variants and move them through their lifecycle",
		Long: `Lifecycle and edit operations on catalog variants.

  PROPOSED --approve--> ACTIVE
  DRAFT    --propose--> PROPOSED
  DRAFT    --adopt----> ACTIVE
  ACTIVE   --deactivate--> INACTIVE
  ACTIVE   --deprecate --superseded-by <id>--> DEPRECATED

Changes are written to the state database, so state_path must be set.`,
	}

	descriptions := map[catalog.Action]string{
		catalog.ActionApprove:    "Approve a proposed variant",
		catalog.ActionPropose:    "Propose a draft variant for approval",
		catalog.ActionAdopt:      "Adopt a draft variant directly",
		catalog.ActionDeactivate: "Deactivate an active variant",
		catalog.ActionDeprecate:  "Deprecate a variant, optionally naming its successor",
	}
	for _, action := range []catalog.Action{
		catalog.ActionApprove, catalog.ActionPropose, catalog.ActionAdopt,
		catalog.ActionDeactivate, catalog.ActionDeprecate,
	} {
		cmd.AddCommand(newTransitionCommand(action, descriptions[action]))
	}
	cmd.AddCommand(newPatchCommand())

	return cmd
}

func newTransitionCommand(action catalog.Action, short string) *cobra.Command {
	opts := &TransitionFlags{}

	cmd := &cobra.Command{
		Use:     string(action) + " <variant>",
		Short:   short,
		Example: fmt.Sprintf("  leapmetrics variant %s WABR-B", action),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], action, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.Revision, "revision", 0, "Expected revision of the stored record (0 = any)")
	if action == catalog.ActionDeprecate {
		cmd.Flags().StringVar(&opts.SupersededBy, "superseded-by", "", "Successor variant id")
	}

	return cmd
}

func runTransition(cmd *cobra.Command, variantID string, action catalog.Action, opts *TransitionFlags) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := requireState(cmdCtx); err != nil {
		return err
	}

	v, err := cmdCtx.Engine.Catalog().Transition(cmd.Context(), variantID, action, catalog.TransitionOptions{
		SupersededBy:     opts.SupersededBy,
		ExpectedRevision: opts.Revision,
	})
	if err != nil {
		return err
	}
	return renderVariant(cmdCtx.Renderer, v, fmt.Sprintf("%s is now %s", v.VariantID, v.Status))
}

// PatchOptions holds options for the patch subcommand.
type PatchOptions struct {
	File string
}

func newPatchCommand() *cobra.Command {
	opts := &PatchOptions{}

	cmd := &cobra.Command{
		Use:   "patch <variant>",
		Short: "Apply a JSON partial update to a variant",
		Long: `Apply a JSON document of changed fields to a variant. Absent fields are left
untouched; "attributes" merges key by key and an empty value deletes a key.
A "revision" field guards against concurrent edits.`,
		Example: `  # Patch from a file
  leapmetrics variant patch WABR-A --file patch.json

  # Patch from stdin
  echo '{"variant_name":"Weighted rate"}' | leapmetrics variant patch WABR-A`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "-", "Patch document (- for stdin)")

	return cmd
}

func runPatch(cmd *cobra.Command, variantID string, opts *PatchOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := requireState(cmdCtx); err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if opts.File != "-" {
		f, err := os.Open(opts.File)
		if err != nil {
			return fmt.Errorf("failed to open patch: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	patch, err := catalog.DecodeVariantPatch(in)
	if err != nil {
		return err
	}
	v, err := cmdCtx.Engine.Catalog().PatchVariant(cmd.Context(), variantID, patch)
	if err != nil {
		return err
	}
	return renderVariant(cmdCtx.Renderer, v, fmt.Sprintf("patched %s (revision %d)", v.VariantID, v.Revision))
}

func requireState(cmdCtx *CommandContext) error {
	if cmdCtx.Engine.Results() == nil {
		return core.Errorf(core.KindConfig, "", "variant changes need a state database (set state_path)")
	}
	return nil
}

func renderVariant(r *output.Renderer, v *core.Variant, msg string) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(v)
	}
	r.Success(msg)
	return nil
}
