// Package calc executes metric variants against snapshot data: it validates
// the dimension, resolves sources, selects the as-of date, groups rows by
// the dimension key, evaluates the formula per group and rolls values up the
// hierarchy when the data is finer than the requested dimension.
package calc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/leapstack-labs/leapmetrics/internal/dimension"
	"github.com/leapstack-labs/leapmetrics/internal/sources"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Catalog is the read side of the metric catalog the engine needs.
type Catalog interface {
	GetMetric(ctx context.Context, id string) (*core.ParentMetric, error)
	GetVariant(ctx context.Context, id string) (*core.Variant, error)
}

// Config holds engine collaborators.
type Config struct {
	Catalog    Catalog
	Dictionary core.Dictionary
	Samples    core.SampleProvider
	Logger     *slog.Logger
}

// Engine runs calculations. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	catalog  Catalog
	dict     core.Dictionary
	samples  core.SampleProvider
	resolver *sources.Resolver
	logger   *slog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		catalog:  cfg.Catalog,
		dict:     cfg.Dictionary,
		samples:  cfg.Samples,
		resolver: sources.NewResolver(cfg.Dictionary),
		logger:   cfg.Logger,
	}
}

// Resolver returns the table/field resolver the engine uses.
func (e *Engine) Resolver() *sources.Resolver { return e.resolver }

// Calculate runs req and always returns an output; failures are rendered
// as {ok:false, error, errorKind}.
func (e *Engine) Calculate(ctx context.Context, req core.CalcRequest) *core.RunOutput {
	out, err := e.Run(ctx, req)
	if err != nil {
		return core.FailedOutput(req, err)
	}
	return out
}

// Run looks up the variant and runs it.
func (e *Engine) Run(ctx context.Context, req core.CalcRequest) (*core.RunOutput, error) {
	v, err := e.catalog.GetVariant(ctx, req.VariantID)
	if err != nil {
		return nil, err
	}
	return e.RunVariant(ctx, v, req.Dimension, req.AsOfDate)
}

// RunVariant computes v at dim. An empty asOf selects the most recent
// snapshot. The result is complete or an error; never partial.
func (e *Engine) RunVariant(ctx context.Context, v *core.Variant, dim core.Dimension, asOf string) (*core.RunOutput, error) {
	out, err := e.runVariant(ctx, v, dim, asOf)
	if err != nil {
		switch core.KindOf(err) {
		case core.KindFormula, core.KindUnresolvedSource, core.KindConfig:
			e.logger.Warn("metric content error",
				slog.String("variant_id", v.VariantID),
				slog.String("dimension", string(dim)),
				slog.String("error_kind", string(core.KindOf(err))),
				slog.String("error", err.Error()))
		default:
			e.logger.Debug("calculation failed",
				slog.String("variant_id", v.VariantID),
				slog.String("dimension", string(dim)),
				slog.String("error", err.Error()))
		}
		return nil, err
	}
	return out, nil
}

func (e *Engine) runVariant(ctx context.Context, v *core.Variant, dim core.Dimension, asOf string) (*core.RunOutput, error) {
	if err := core.ValidateAsOfDate(asOf); err != nil {
		return nil, core.Annotate(err, core.KindValidation, v.VariantID, "as_of")
	}
	p, err := e.prepare(v, dim)
	if err != nil {
		return nil, err
	}

	dates, err := e.intersectDates(ctx, p.dataTables())
	if err != nil {
		return nil, err
	}
	used, err := pickDate(v.VariantID, dates, asOf)
	if err != nil {
		return nil, err
	}

	diag := &core.Diagnostics{
		Tables:      p.dataTables(),
		RowCounts:   make(map[string]int),
		FormulaUsed: p.res.Formula.String(),
	}
	if p.res.Override {
		diag.Warnings = append(diag.Warnings, fmt.Sprintf("using %s formula override", dim))
	}

	data := make(map[string][]core.Row, len(diag.Tables))
	for _, key := range diag.Tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := e.samples.Rows(ctx, key, used)
		if err != nil {
			return nil, err
		}
		data[key] = rows
		diag.RowCounts[key] = len(rows)
	}

	values, err := e.evaluate(v, p, data, diag)
	if err != nil {
		return nil, err
	}

	var rows []core.RunRow
	if p.plan != nil {
		rows, err = e.rollUp(ctx, v, p, values, data, used, diag)
		if err != nil {
			return nil, err
		}
	} else {
		rows = make([]core.RunRow, 0, len(values.order))
		for _, id := range values.order {
			rows = append(rows, core.RunRow{AggregationID: id, Value: values.byID[id]})
		}
	}

	unit, format := e.presentation(ctx, v)
	for i := range rows {
		rows[i].Unit, rows[i].DisplayFormat = unit, format
		if !rows[i].Value.Valid && rows[i].Breakdown == nil {
			diag.NullCount++
		}
	}
	diag.GroupCount = len(rows)

	return &core.RunOutput{
		OK:           true,
		VariantID:    v.VariantID,
		Dimension:    dim,
		Rows:         rows,
		AsOfDateUsed: used,
		Diagnostics:  diag,
	}, nil
}

// ListMetricAsOfDates returns the snapshot dates available in every table
// the variant reads at dim, newest first.
func (e *Engine) ListMetricAsOfDates(ctx context.Context, variantID string, dim core.Dimension) ([]string, error) {
	v, err := e.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	p, err := e.prepare(v, dim)
	if err != nil {
		return nil, err
	}
	return e.intersectDates(ctx, p.dataTables())
}

// prepare does every check that needs no data: dimension legality, source
// resolution, grouping and rollup planning.
func (e *Engine) prepare(v *core.Variant, dim core.Dimension) (*prepared, error) {
	allowed, err := dimension.Resolve(v)
	if err != nil {
		return nil, err
	}
	if !allowed.Contains(dim) {
		return nil, core.Errorf(core.KindUnsupportedDimension, v.VariantID,
			"dimension %s is not supported (allowed: %v)", dim, allowed.Dimensions)
	}
	res, err := e.resolver.Resolve(v, dim)
	if err != nil {
		return nil, err
	}
	return e.plan(v, dim, res)
}

func (e *Engine) intersectDates(ctx context.Context, tables []string) ([]string, error) {
	var common mapset.Set[string]
	for _, key := range tables {
		dates, err := e.samples.Dates(ctx, key)
		if err != nil {
			return nil, err
		}
		set := mapset.NewThreadUnsafeSet(dates...)
		if common == nil {
			common = set
		} else {
			common = common.Intersect(set)
		}
	}
	if common == nil {
		return nil, nil
	}
	out := common.ToSlice()
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// pickDate requires an exact match for a requested date, else takes the
// newest. dates is sorted newest first.
func pickDate(variantID string, dates []string, asOf string) (string, error) {
	if len(dates) == 0 {
		return "", core.Errorf(core.KindNoData, variantID, "no snapshot dates available")
	}
	if asOf == "" {
		return dates[0], nil
	}
	for _, d := range dates {
		if d == asOf {
			return d, nil
		}
	}
	return "", core.Errorf(core.KindNoData, variantID, "no snapshot for %s (latest is %s)", asOf, dates[0])
}

// presentation returns unit and display format: the variant's overrides,
// else the parent metric's.
func (e *Engine) presentation(ctx context.Context, v *core.Variant) (unit, format string) {
	unit, format = v.Unit, v.DisplayFormat
	if unit != "" && format != "" {
		return unit, format
	}
	parent, err := e.catalog.GetMetric(ctx, v.ParentMetricID)
	if err != nil {
		return unit, format
	}
	if unit == "" {
		unit = parent.UnitType
	}
	if format == "" {
		format = parent.DisplayFormat
	}
	return unit, format
}
