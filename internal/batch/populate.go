// Package batch computes every active variant at every dimension it allows
// and stores the results for one (run version, as-of date) atomically.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/leapstack-labs/leapmetrics/internal/dimension"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Calculator computes one variant at one dimension.
type Calculator interface {
	RunVariant(ctx context.Context, v *core.Variant, dim core.Dimension, asOf string) (*core.RunOutput, error)
}

// Catalog lists the variants to populate.
type Catalog interface {
	ListVariants(ctx context.Context) ([]*core.Variant, error)
}

// Config configures a Populator.
type Config struct {
	Catalog    Catalog
	Calculator Calculator
	Store      core.ResultsStore
	// Concurrency bounds parallel calculations; 0 uses GOMAXPROCS.
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Populator runs batch populations.
type Populator struct {
	catalog     Catalog
	calc        Calculator
	store       core.ResultsStore
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a populator.
func New(cfg Config) *Populator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Populator{
		catalog:     cfg.Catalog,
		calc:        cfg.Calculator,
		store:       cfg.Store,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

// Request selects what to populate.
type Request struct {
	RunVersion string
	AsOfDate   string
	// VariantIDs restricts the run; empty means every ACTIVE variant.
	VariantIDs []string
	// DryRun computes without writing.
	DryRun bool
}

// Skip is a calculation that produced no result because data was missing.
type Skip struct {
	VariantID string         `json:"variant_id"`
	Dimension core.Dimension `json:"dimension"`
	Reason    string         `json:"reason"`
}

// Report summarises a population.
type Report struct {
	Run     *core.PopulateRun   `json:"run"`
	Skipped []Skip              `json:"skipped,omitempty"`
	Results []core.MetricResult `json:"-"`
}

type job struct {
	variant *core.Variant
	dim     core.Dimension
}

// Populate computes every selected variant × allowed dimension with bounded
// parallelism, then replaces the stored results for (RunVersion, AsOfDate) in
// one transaction. NoData outcomes are skipped; any other failure aborts the
// run and nothing is written.
func (p *Populator) Populate(ctx context.Context, req Request) (*Report, error) {
	if req.RunVersion == "" || req.AsOfDate == "" {
		return nil, core.Errorf(core.KindValidation, "", "run version and as-of date are required")
	}
	if err := core.ValidateAsOfDate(req.AsOfDate); err != nil {
		return nil, err
	}
	jobs, err := p.jobs(ctx, req)
	if err != nil {
		return nil, err
	}

	run := &core.PopulateRun{RunVersion: req.RunVersion, AsOfDate: req.AsOfDate, StartedAt: p.now(), Status: core.PopulateRunning}
	p.logger.Info("populating metric results",
		slog.String("run_version", req.RunVersion),
		slog.String("as_of_date", req.AsOfDate),
		slog.Int("jobs", len(jobs)),
		slog.Int("concurrency", p.concurrency))

	outputs := make([]*core.RunOutput, len(jobs))
	var (
		mu      sync.Mutex
		skipped []Skip
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			out, err := p.calc.RunVariant(gctx, j.variant, j.dim, req.AsOfDate)
			switch {
			case err == nil:
				outputs[i] = out
				return nil
			case core.KindOf(err) == core.KindNoData:
				mu.Lock()
				skipped = append(skipped, Skip{VariantID: j.variant.VariantID, Dimension: j.dim, Reason: err.Error()})
				mu.Unlock()
				return nil
			default:
				return fmt.Errorf("%s at %s: %w", j.variant.VariantID, j.dim, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Error("population aborted",
			slog.String("run_version", req.RunVersion),
			slog.String("error", err.Error()))
		return nil, err
	}

	report := &Report{Run: run}
	for _, out := range outputs {
		if out == nil {
			continue
		}
		run.Computed++
		for _, row := range out.Rows {
			report.Results = append(report.Results, core.MetricResult{
				RunVersion:    req.RunVersion,
				AsOfDate:      req.AsOfDate,
				VariantID:     out.VariantID,
				Dimension:     out.Dimension,
				AggregationID: row.AggregationID,
				Value:         row.Value,
				Unit:          row.Unit,
				DisplayFormat: row.DisplayFormat,
				Breakdown:     row.Breakdown,
			})
		}
	}
	report.Skipped = sortSkips(skipped)
	run.Skipped = len(skipped)
	run.Results = len(report.Results)
	run.Status = core.PopulateCompleted
	done := p.now()
	run.CompletedAt = &done

	if req.DryRun {
		return report, nil
	}
	if err := p.store.ReplaceResults(ctx, run, report.Results); err != nil {
		return nil, err
	}
	return report, nil
}

// jobs lists the calculations to run, ordered by variant id then dimension.
func (p *Populator) jobs(ctx context.Context, req Request) ([]job, error) {
	variants, err := p.catalog.ListVariants(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(req.VariantIDs))
	for _, id := range req.VariantIDs {
		wanted[id] = true
	}

	var jobs []job
	for _, v := range variants {
		if len(wanted) > 0 {
			if !wanted[v.VariantID] {
				continue
			}
			delete(wanted, v.VariantID)
		} else if v.Status != core.StatusActive {
			continue
		}
		res, err := dimension.Resolve(v)
		if err != nil {
			return nil, err
		}
		for _, d := range res.Dimensions {
			jobs = append(jobs, job{variant: v, dim: d})
		}
	}
	for id := range wanted {
		return nil, core.Errorf(core.KindNotFound, id, "variant not found")
	}
	return jobs, nil
}

func sortSkips(s []Skip) []Skip {
	sort.Slice(s, func(i, j int) bool {
		if s[i].VariantID != s[j].VariantID {
			return s[i].VariantID < s[j].VariantID
		}
		return s[i].Dimension.Order() < s[j].Dimension.Order()
	})
	return s
}
