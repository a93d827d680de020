package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// DepsOptions holds options for the deps command.
type DepsOptions struct {
	Upstream   bool
	Downstream bool
	Graph      bool
	Depth      int
}

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	opts := &DepsOptions{}

	cmd := &cobra.Command{
		Use:   "deps <variant>",
		Short: "Show upstream inputs and downstream consumers of a variant",
		Long: `Display the variants and fields a variant depends on and the variants that
consume it. Downstream consumers come from the declared list when present,
otherwise from the reverse reference index.

With --graph the transitive neighbourhood is printed level by level.`,
		Example: `  # Direct dependencies
  leapmetrics deps WABR-A

  # Only consumers
  leapmetrics deps WABR-A --upstream=false

  # Transitive graph, two hops
  leapmetrics deps WABR-A --graph --depth 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", true, "Include upstream inputs")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", true, "Include downstream consumers")
	cmd.Flags().BoolVar(&opts.Graph, "graph", false, "Show the transitive dependency graph")
	cmd.Flags().IntVar(&opts.Depth, "depth", -1, "Max graph depth (-1 = unlimited)")

	return cmd
}

func runDeps(cmd *cobra.Command, variantID string, opts *DepsOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.Graph {
		return depsGraph(cmd, cmdCtx, variantID, opts.Depth)
	}

	r := cmdCtx.Renderer
	deps, err := cmdCtx.Engine.Dependencies(cmd.Context(), variantID)
	if err != nil {
		return err
	}
	if !opts.Upstream {
		deps.Upstream = nil
	}
	if !opts.Downstream {
		deps.Downstream = nil
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(deps)
	}

	r.Header(1, fmt.Sprintf("Dependencies: %s", deps.VariantID))
	if opts.Upstream {
		r.Header(2, fmt.Sprintf("Upstream (%d)", len(deps.Upstream)))
		r.Table(nodeHeader, nodeRows(deps.Upstream))
		r.Println("")
	}
	if opts.Downstream {
		r.Header(2, fmt.Sprintf("Downstream (%d, %s)", len(deps.Downstream), deps.DownstreamSource))
		r.Table(nodeHeader, nodeRows(deps.Downstream))
	}
	return nil
}

var nodeHeader = []string{"Node", "Kind", "Status", "Resolved"}

func nodeRows(nodes []core.DependencyNode) [][]string {
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		resolved := "yes"
		if !n.Resolved {
			resolved = "no"
		}
		rows = append(rows, []string{n.NodeID, string(n.Kind), string(n.Status), resolved})
	}
	return rows
}

func depsGraph(cmd *cobra.Command, cmdCtx *CommandContext, variantID string, depth int) error {
	r := cmdCtx.Renderer
	view, err := cmdCtx.Engine.DependencyView(cmd.Context(), variantID, depth)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(view)
	}

	r.Header(1, fmt.Sprintf("Dependency Graph: %s", view.VariantID))
	for i, level := range view.Levels {
		r.Header(2, fmt.Sprintf("Level %d", i))
		for _, id := range level {
			r.Println("  " + r.ID(id))
		}
	}
	r.Println("")

	r.Header(2, "Summary")
	r.KeyValue("Nodes", fmt.Sprintf("%d", len(view.Nodes)))
	r.KeyValue("Edges", fmt.Sprintf("%d", len(view.Edges)))
	if len(view.Edges) > 0 {
		edges := make([]string, len(view.Edges))
		for i, e := range view.Edges {
			edges[i] = e.From + " -> " + e.To
		}
		r.KeyValue("Flow", strings.Join(edges, "; "))
	}
	return nil
}
