package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// ListOptions holds options for the list command.
type ListOptions struct {
	Status string
	Metric string
}

// MetricListing is the JSON shape of the list command.
type MetricListing struct {
	Metric   *core.ParentMetric `json:"metric"`
	Variants []*core.Variant    `json:"variants"`
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parent metrics and their variants",
		Long: `List every parent metric in the catalog with its variants, their type,
lifecycle status and allowed dimensions.

Output adapts to environment:
  - Terminal: Styled, colored output
  - Piped/Scripted: Markdown format (agent-friendly)

Use --output to override: auto, text, markdown, json`,
		Example: `  # List the catalog
  leapmetrics list

  # Only active variants of one metric
  leapmetrics list --metric WABR --status active

  # As JSON
  leapmetrics list --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Only variants in this lifecycle status")
	cmd.Flags().StringVar(&opts.Metric, "metric", "", "Only this parent metric")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	var status core.VariantStatus
	if opts.Status != "" {
		status = core.VariantStatus(strings.ToUpper(opts.Status))
		if !status.Valid() {
			return core.Errorf(core.KindValidation, "", "unknown status %q", opts.Status)
		}
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	cat := cmdCtx.Engine.Catalog()
	r := cmdCtx.Renderer

	metrics, err := cat.ListMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to list metrics: %w", err)
	}

	listing := make([]MetricListing, 0, len(metrics))
	for _, m := range metrics {
		if opts.Metric != "" && m.MetricID != opts.Metric {
			continue
		}
		variants, err := cat.VariantsOf(ctx, m.MetricID)
		if err != nil {
			return fmt.Errorf("failed to list variants of %s: %w", m.MetricID, err)
		}
		kept := make([]*core.Variant, 0, len(variants))
		for _, v := range variants {
			if status == "" || v.Status == status {
				kept = append(kept, v)
			}
		}
		listing = append(listing, MetricListing{Metric: m, Variants: kept})
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(listing)
	case output.ModeMarkdown:
		listMarkdown(r, listing)
	default:
		listText(r, listing)
	}
	return nil
}

func listMarkdown(r *output.Renderer, listing []MetricListing) {
	r.Println(output.FormatHeader(1, fmt.Sprintf("Metrics (%d total)", len(listing))))
	r.Println("")
	for _, l := range listing {
		r.Println(output.FormatHeader(2, fmt.Sprintf("%s: %s", l.Metric.MetricID, l.Metric.Name)))
		if l.Metric.Class != "" {
			r.Println(output.FormatKeyValue("Class", string(l.Metric.Class)))
		}
		if l.Metric.GenericFormula != "" {
			r.Println(output.FormatKeyValue("Formula", l.Metric.GenericFormula))
		}
		r.Println("")
		for _, v := range l.Variants {
			r.Println(output.FormatHeader(3, v.VariantID))
			r.Println(output.FormatKeyValue("Name", v.DisplayName()))
			r.Println(output.FormatKeyValue("Type", string(v.Type)))
			r.Println(output.FormatKeyValue("Status", string(v.Status)))
			if v.FormulaDisplay != "" {
				r.Println(output.FormatKeyValue("Formula", v.FormulaDisplay))
			}
			if len(v.AllowedDimensions) > 0 {
				r.Println(output.FormatKeyValue("Dimensions", dimensionList(v.AllowedDimensions)))
			}
			r.Println("")
		}
	}
}

func listText(r *output.Renderer, listing []MetricListing) {
	styles := r.Styles()
	r.Header(1, fmt.Sprintf("Metrics (%d total)", len(listing)))
	for _, l := range listing {
		r.Println(styles.Header2.Render(l.Metric.MetricID) + " " + r.Muted(l.Metric.Name))
		rows := make([][]string, 0, len(l.Variants))
		for _, v := range l.Variants {
			rows = append(rows, []string{v.VariantID, v.DisplayName(), string(v.Type), string(v.Status), dimensionList(v.AllowedDimensions)})
		}
		r.Table([]string{"Variant", "Name", "Type", "Status", "Dimensions"}, rows)
		r.Println("")
	}
}
