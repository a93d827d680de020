// Package engine wires the metric catalog, data dictionary, sample data and
// calculation components into one facade used by the CLI and HTTP server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapmetrics/internal/batch"
	"github.com/leapstack-labs/leapmetrics/internal/calc"
	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/dag"
	"github.com/leapstack-labs/leapmetrics/internal/deps"
	"github.com/leapstack-labs/leapmetrics/internal/dictionary"
	"github.com/leapstack-labs/leapmetrics/internal/dimension"
	"github.com/leapstack-labs/leapmetrics/internal/lineage"
	"github.com/leapstack-labs/leapmetrics/internal/sample"
	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Config holds engine configuration.
type Config struct {
	// CatalogDir holds the metric and variant YAML files.
	CatalogDir string
	// DictionaryPath is the data dictionary YAML file.
	DictionaryPath string
	// SamplesDir holds snapshot CSVs as <layer>/<table>.csv.
	SamplesDir string
	// StatePath is the SQLite database for the catalog and batch results.
	// Empty keeps the catalog in memory and disables populate.
	StatePath string
	// Concurrency bounds batch population parallelism.
	Concurrency int
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger

	// Dictionary and Samples override the file-based collaborators.
	Dictionary core.Dictionary
	Samples    core.SampleProvider
}

// Engine is the metric calculation and lineage facade.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	catalog *catalog.Catalog
	store   *state.SQLiteStore
	samples core.SampleProvider
	closers []func() error

	// mu guards the dictionary-bound components swapped by Reload.
	mu        sync.RWMutex
	dict      core.Dictionary
	calc      *calc.Engine
	deps      *deps.Resolver
	lineage   *lineage.Builder
	populator *batch.Populator
	// rejected holds the catalog file records the last load refused.
	rejected []error
}

// New opens the state store, loads the dictionary and catalog files and
// builds the calculation components.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Debug("initializing engine",
		slog.String("catalog_dir", cfg.CatalogDir),
		slog.String("dictionary", cfg.DictionaryPath),
		slog.String("state", cfg.StatePath))

	e := &Engine{cfg: cfg, logger: logger}

	var store core.CatalogStore
	if cfg.StatePath != "" {
		s := state.NewSQLiteStore(logger)
		if err := s.Open(cfg.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		e.closers = append(e.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to migrate state store: %w", err)
		}
		e.store = s
		store = s
	}

	c, err := catalog.New(ctx, catalog.Config{Store: store, Logger: logger})
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.catalog = c

	e.samples = cfg.Samples
	if e.samples == nil {
		if cfg.SamplesDir == "" {
			_ = e.Close()
			return nil, core.Errorf(core.KindConfig, "", "no sample data directory configured")
		}
		duck, err := sample.OpenDuckDB(ctx, cfg.SamplesDir, logger)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.closers = append(e.closers, duck.Close)
		e.samples = duck
	}

	if err := e.Reload(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// Reload re-reads the dictionary and catalog files and drops cached sample
// tables. With an in-memory
// catalog every file record is written again; with a persistent one only
// records not stored yet are added, so lifecycle changes survive restarts.
func (e *Engine) Reload(ctx context.Context) error {
	dict := e.cfg.Dictionary
	if dict == nil {
		if e.cfg.DictionaryPath == "" {
			return core.Errorf(core.KindConfig, "", "no data dictionary configured")
		}
		d, err := dictionary.Load(e.cfg.DictionaryPath)
		if err != nil {
			return err
		}
		dict = d
	}

	if e.cfg.CatalogDir != "" {
		bundle, err := catalog.LoadDir(e.cfg.CatalogDir)
		if err != nil {
			return err
		}
		var seedErr error
		if e.store != nil {
			var added int
			added, seedErr = catalog.SeedMissing(ctx, e.catalog, bundle)
			e.logger.Debug("seeded catalog", slog.Int("added", added))
		} else {
			seedErr = catalog.Seed(ctx, e.catalog, bundle)
		}
		rejected := flatten(seedErr)
		for _, err := range rejected {
			if core.KindOf(err) == core.KindInternal {
				return seedErr
			}
			e.logger.Warn("catalog record rejected", slog.String("id", errorID(err)), slog.String("error", err.Error()))
		}
		e.mu.Lock()
		e.rejected = rejected
		e.mu.Unlock()
	}

	if r, ok := e.samples.(interface{ Reset() }); ok {
		r.Reset()
	}

	calcEngine := calc.New(calc.Config{Catalog: e.catalog, Dictionary: dict, Samples: e.samples, Logger: e.logger})
	var results core.ResultsStore
	if e.store != nil {
		results = e.store
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.dict = dict
	e.calc = calcEngine
	e.deps = deps.New(deps.Config{Catalog: e.catalog, Dictionary: dict, Logger: e.logger})
	e.lineage = lineage.NewBuilder(dict)
	e.populator = batch.New(batch.Config{
		Catalog:     e.catalog,
		Calculator:  calcEngine,
		Store:       results,
		Concurrency: e.cfg.Concurrency,
		Logger:      e.logger,
	})
	e.logger.Info("loaded catalog", slog.String("catalog_dir", e.cfg.CatalogDir))
	return nil
}

// Close releases the state store and sample connections.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Catalog returns the metric catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Dictionary returns the current data dictionary.
func (e *Engine) Dictionary() core.Dictionary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dict
}

// Results returns the batch results store, or nil without a state database.
func (e *Engine) Results() core.ResultsStore {
	if e.store == nil {
		return nil
	}
	return e.store
}

func (e *Engine) calculator() *calc.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calc
}

// ============================================================================
// Calculation
// ============================================================================

// Calculate computes a variant at a dimension. Failures are reported in the
// output rather than returned.
func (e *Engine) Calculate(ctx context.Context, req core.CalcRequest) *core.RunOutput {
	return e.calculator().Calculate(ctx, req)
}

// Run computes a variant at a dimension.
func (e *Engine) Run(ctx context.Context, req core.CalcRequest) (*core.RunOutput, error) {
	return e.calculator().Run(ctx, req)
}

// Dates lists the snapshot dates a variant can be computed for at dim.
func (e *Engine) Dates(ctx context.Context, variantID string, dim core.Dimension) ([]string, error) {
	return e.calculator().ListMetricAsOfDates(ctx, variantID, dim)
}

// Dimensions resolves the dimensions a variant may be computed at.
func (e *Engine) Dimensions(ctx context.Context, variantID string) (dimension.Resolution, error) {
	v, err := e.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return dimension.Resolution{}, err
	}
	return dimension.Resolve(v)
}

// Explain reports how a variant would be computed at dim without loading data.
func (e *Engine) Explain(ctx context.Context, variantID string, dim core.Dimension) (*calc.Explanation, error) {
	v, err := e.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	return e.calculator().Explain(v, dim)
}

// ============================================================================
// Lineage and dependencies
// ============================================================================

// Lineage builds and validates the lineage graph of a variant.
func (e *Engine) Lineage(ctx context.Context, variantID string) (*core.LineageGraph, error) {
	v, err := e.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	b := e.lineage
	e.mu.RUnlock()

	g, err := b.Build(v)
	if err != nil {
		return nil, err
	}
	if err := lineage.Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Dependencies resolves the direct upstream and downstream of a variant.
func (e *Engine) Dependencies(ctx context.Context, variantID string) (*core.Dependencies, error) {
	e.mu.RLock()
	r := e.deps
	e.mu.RUnlock()
	return r.Resolve(ctx, variantID)
}

// DependencyGraph returns the dependency neighbourhood of a variant within
// depth hops (negative for unlimited).
func (e *Engine) DependencyGraph(ctx context.Context, variantID string, depth int) (*dag.Graph[core.DependencyNode], error) {
	e.mu.RLock()
	r := e.deps
	e.mu.RUnlock()
	return r.Graph(ctx, variantID, depth)
}

// ============================================================================
// Batch
// ============================================================================

// Populate computes and stores results for every active variant.
func (e *Engine) Populate(ctx context.Context, req batch.Request) (*batch.Report, error) {
	if e.store == nil && !req.DryRun {
		return nil, core.Errorf(core.KindConfig, "", "populate needs a state database (set state_path)")
	}
	e.mu.RLock()
	p := e.populator
	e.mu.RUnlock()
	return p.Populate(ctx, req)
}

// GraphEdge is a directed dependency edge from an input to its consumer.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DependencyView is the serialisable form of a dependency graph.
type DependencyView struct {
	VariantID string                `json:"variant_id"`
	Depth     int                   `json:"depth"`
	Nodes     []core.DependencyNode `json:"nodes"`
	Edges     []GraphEdge           `json:"edges"`
	// Levels groups node ids by evaluation order, inputs first.
	Levels [][]string `json:"levels"`
}

// DependencyView returns the dependency graph of a variant in view form.
func (e *Engine) DependencyView(ctx context.Context, variantID string, depth int) (*DependencyView, error) {
	g, err := e.DependencyGraph(ctx, variantID, depth)
	if err != nil {
		return nil, err
	}
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	view := &DependencyView{VariantID: variantID, Depth: depth, Levels: levels}
	for _, n := range g.Nodes() {
		view.Nodes = append(view.Nodes, n.Data)
	}
	for _, edge := range g.Edges() {
		view.Edges = append(view.Edges, GraphEdge{From: edge[0], To: edge[1]})
	}
	return view, nil
}
