// Package deps resolves the upstream and downstream neighbourhood of metric
// variants and checks variant references for cycles.
package deps

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/dag"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Catalog is the variant source the resolver reads.
type Catalog interface {
	GetVariant(ctx context.Context, id string) (*core.Variant, error)
	ListVariants(ctx context.Context) ([]*core.Variant, error)
}

// Indexed is implemented by catalogs that maintain a reverse index from a
// referenced id or name to the variants referencing it.
type Indexed interface {
	Referencing(id, name string) []string
}

// Config configures a Resolver.
type Config struct {
	Catalog    Catalog
	Dictionary core.Dictionary
	// ScanOnly ignores the catalog's reverse index and always scans.
	ScanOnly bool
	Logger   *slog.Logger
}

// Resolver answers dependency questions over a catalog.
type Resolver struct {
	catalog  Catalog
	dict     core.Dictionary
	scanOnly bool
	logger   *slog.Logger
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{catalog: cfg.Catalog, dict: cfg.Dictionary, scanOnly: cfg.ScanOnly, logger: cfg.Logger}
}

// snapshot is a point-in-time view of every variant.
type snapshot struct {
	byID   map[string]*core.Variant
	byName map[string]*core.Variant
	all    []*core.Variant
}

func (r *Resolver) snapshot(ctx context.Context) (*snapshot, error) {
	all, err := r.catalog.ListVariants(ctx)
	if err != nil {
		return nil, err
	}
	s := &snapshot{
		byID:   make(map[string]*core.Variant, len(all)),
		byName: make(map[string]*core.Variant, len(all)),
		all:    all,
	}
	for _, v := range all {
		s.byID[v.VariantID] = v
	}
	for _, v := range all {
		if v.VariantName == "" {
			continue
		}
		if _, taken := s.byName[v.VariantName]; !taken {
			s.byName[v.VariantName] = v
		}
	}
	return s, nil
}

// lookup resolves a variant reference by id, then by name.
func (s *snapshot) lookup(ref core.NodeRef) (*core.Variant, bool) {
	if v, ok := s.byID[ref.ID]; ok {
		return v, true
	}
	if v, ok := s.byName[ref.ID]; ok {
		return v, true
	}
	if v, ok := s.byName[ref.Name]; ok {
		return v, true
	}
	return nil, false
}

// Resolve returns the direct dependencies of a variant. Upstream comes from
// the declared upstream_inputs. Downstream uses declared consumers when the
// variant lists them, else the catalog's reverse index, else a scan of every
// variant. Self references are dropped from both. The variant's upstream
// chain is checked for cycles first.
func (r *Resolver) Resolve(ctx context.Context, variantID string) (*core.Dependencies, error) {
	v, err := r.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if path := snap.cycleFrom(v); path != nil {
		return nil, cycleError(v.VariantID, path)
	}

	deps := &core.Dependencies{
		VariantID:  v.VariantID,
		Upstream:   []core.DependencyNode{},
		Downstream: []core.DependencyNode{},
	}
	for _, ref := range v.UpstreamInputs {
		if ref.Matches(v.VariantID, v.VariantName) {
			continue
		}
		deps.Upstream = append(deps.Upstream, r.node(snap, ref))
	}

	switch {
	case v.HasDeclaredDownstream():
		deps.DownstreamSource = core.DownstreamDeclared
		for _, ref := range v.DownstreamConsumers {
			if ref.Matches(v.VariantID, v.VariantName) {
				continue
			}
			deps.Downstream = append(deps.Downstream, r.node(snap, ref))
		}
	default:
		var ids []string
		if ix, ok := r.catalog.(Indexed); ok && !r.scanOnly {
			deps.DownstreamSource = core.DownstreamIndex
			ids = ix.Referencing(v.VariantID, v.VariantName)
		} else {
			deps.DownstreamSource = core.DownstreamScan
			ids = snap.referencing(v)
		}
		for _, id := range ids {
			if id == v.VariantID {
				continue
			}
			deps.Downstream = append(deps.Downstream, r.node(snap, core.NodeRef{ID: id, Kind: core.NodeKindVariant}))
		}
	}

	r.logger.Debug("resolved dependencies",
		slog.String("variant_id", v.VariantID),
		slog.Int("upstream", len(deps.Upstream)),
		slog.Int("downstream", len(deps.Downstream)),
		slog.String("downstream_source", string(deps.DownstreamSource)))
	return deps, nil
}

// referencing scans every variant for upstream references to v.
func (s *snapshot) referencing(v *core.Variant) []string {
	var ids []string
	for _, other := range s.all {
		for _, ref := range other.UpstreamInputs {
			if ref.Matches(v.VariantID, v.VariantName) {
				ids = append(ids, other.VariantID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Resolver) node(snap *snapshot, ref core.NodeRef) core.DependencyNode {
	if ref.Kind == core.NodeKindField {
		n := core.DependencyNode{NodeID: ref.ID, NodeName: ref.Name, Kind: core.NodeKindField}
		fr, err := core.ParseFieldRef(ref.ID)
		if err != nil {
			return n
		}
		n.Layer, n.Table, n.Field = fr.Layer, fr.Table, fr.Field
		if r.dict != nil {
			if sf, ok := r.dict.Field(fr); ok {
				n.NodeID = sf.Ref().String()
				n.Layer, n.Table, n.Field = sf.Layer, sf.Table, sf.Field
				n.Resolved = true
			}
		}
		return n
	}

	n := core.DependencyNode{NodeID: ref.ID, NodeName: ref.Name, Kind: core.NodeKindVariant}
	if n.NodeName == "" {
		n.NodeName = ref.ID
	}
	if v, ok := snap.lookup(ref); ok {
		n.NodeID = v.VariantID
		n.NodeName = v.DisplayName()
		n.Status = v.Status
		n.Resolved = true
	}
	return n
}

// cycleFrom walks variant upstream references depth first from start and
// returns the first cycle found as a path that starts and ends at the same
// variant, or nil.
func (s *snapshot) cycleFrom(start *core.Variant) []string {
	visiting := make(map[string]bool)
	done := make(map[string]bool)
	var stack []string

	var visit func(v *core.Variant) []string
	visit = func(v *core.Variant) []string {
		visiting[v.VariantID] = true
		stack = append(stack, v.VariantID)
		for _, ref := range v.UpstreamInputs {
			if ref.Kind != core.NodeKindVariant || ref.Matches(v.VariantID, v.VariantName) {
				continue
			}
			up, ok := s.lookup(ref)
			if !ok || done[up.VariantID] {
				continue
			}
			if visiting[up.VariantID] {
				for i, id := range stack {
					if id == up.VariantID {
						return append(append([]string(nil), stack[i:]...), up.VariantID)
					}
				}
			}
			if path := visit(up); path != nil {
				return path
			}
		}
		stack = stack[:len(stack)-1]
		visiting[v.VariantID] = false
		done[v.VariantID] = true
		return nil
	}
	return visit(start)
}

func cycleError(id string, path []string) error {
	return &core.Error{
		Kind: core.KindCyclicDependency,
		ID:   id,
		Msg:  "cyclic dependency: " + strings.Join(path, " -> "),
		Path: path,
	}
}

// CheckCycles checks every variant in the catalog.
func (r *Resolver) CheckCycles(ctx context.Context) error {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	for _, v := range snap.all {
		if path := snap.cycleFrom(v); path != nil {
			return cycleError(v.VariantID, path)
		}
	}
	return nil
}

// Graph returns the dependency graph around variantID, depth hops in each
// direction (negative for unlimited). Nodes are variants and the dictionary
// fields they read; an edge points from an input to its consumer.
func (r *Resolver) Graph(ctx context.Context, variantID string, depth int) (*dag.Graph[core.DependencyNode], error) {
	if _, err := r.catalog.GetVariant(ctx, variantID); err != nil {
		return nil, err
	}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	g := dag.NewGraph[core.DependencyNode]()
	for _, v := range snap.all {
		g.AddNode(v.VariantID, r.node(snap, core.NodeRef{ID: v.VariantID, Kind: core.NodeKindVariant}))
	}
	edge := func(from, to core.DependencyNode) {
		if from.NodeID == to.NodeID {
			return
		}
		if _, ok := g.GetNode(from.NodeID); !ok {
			g.AddNode(from.NodeID, from)
		}
		if _, ok := g.GetNode(to.NodeID); !ok {
			g.AddNode(to.NodeID, to)
		}
		_ = g.AddEdge(from.NodeID, to.NodeID)
	}
	for _, v := range snap.all {
		self := r.node(snap, core.NodeRef{ID: v.VariantID, Kind: core.NodeKindVariant})
		for _, ref := range v.UpstreamInputs {
			edge(r.node(snap, ref), self)
		}
		for _, ref := range v.DownstreamConsumers {
			edge(self, r.node(snap, ref))
		}
	}

	if cyclic, path := g.HasCycle(); cyclic {
		return nil, cycleError(variantID, path)
	}
	return g.Within(variantID, depth), nil
}
