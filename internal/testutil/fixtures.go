package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Snapshot dates in the fixture, newest first.
const (
	LatestDate   = "2025-01-31"
	PreviousDate = "2024-12-31"
)

// Tables returns the fixture dictionary tables.
func Tables() []core.TableInfo {
	return []core.TableInfo{
		{
			Layer: "L2", Name: "facility_financials", PrimaryKey: "facility_id",
			Description: "Facility income statement snapshot",
			Fields: []core.SourceField{
				{Field: "facility_id"},
				{Field: "noi", Description: "Net operating income", SampleValue: "120"},
				{Field: "debt_service", Description: "Scheduled debt service", SampleValue: "100"},
			},
		},
		{
			Layer: "L2", Name: "facility_exposure", PrimaryKey: "facility_id",
			Fields: []core.SourceField{
				{Field: "facility_id"},
				{Field: "commitment_amount", SampleValue: "1000"},
				{Field: "bank_share", SampleValue: "0.5"},
				{Field: "rate_index", SampleValue: "0.05"},
			},
		},
		{
			Layer: "L2", Name: "facility_hierarchy", PrimaryKey: "facility_id",
			Fields: []core.SourceField{
				{Field: "facility_id"},
				{Field: "counterparty_id"},
				{Field: "desk_id"},
				{Field: "portfolio_id"},
				{Field: "lob_id"},
			},
		},
	}
}

// HierarchyTable is the fixture facility hierarchy table key.
const HierarchyTable = "L2.facility_hierarchy"

// Rows returns the fixture snapshot rows keyed by table key then date.
func Rows() map[string]map[string][]core.Row {
	return map[string]map[string][]core.Row{
		"L2.facility_financials": {
			LatestDate: {
				{"facility_id": "A", "noi": "120", "debt_service": "100"},
				{"facility_id": "B", "noi": "80", "debt_service": "100"},
			},
			PreviousDate: {
				{"facility_id": "A", "noi": "110", "debt_service": "100"},
				{"facility_id": "B", "noi": "70", "debt_service": "100"},
			},
		},
		"L2.facility_exposure": {
			LatestDate: {
				{"facility_id": "A", "commitment_amount": "1000", "bank_share": "0.5", "rate_index": "0.05"},
				{"facility_id": "B", "commitment_amount": "3000", "bank_share": "1", "rate_index": "0.03"},
			},
		},
		"L2.facility_hierarchy": {
			LatestDate: {
				{"facility_id": "A", "counterparty_id": "C1", "desk_id": "D1", "portfolio_id": "P1", "lob_id": "CRE"},
				{"facility_id": "B", "counterparty_id": "C1", "desk_id": "D1", "portfolio_id": "P1", "lob_id": "CRE"},
			},
		},
	}
}

// DSCRMetric is the parent metric of the fixture DSCR variants.
func DSCRMetric() *core.ParentMetric {
	return &core.ParentMetric{
		MetricID:       "DSCR",
		Name:           "Debt Service Coverage Ratio",
		GenericFormula: "NOI / Debt Service",
		Class:          core.MetricClassCalculated,
		UnitType:       "ratio",
		Direction:      core.DirectionHigherBetter,
		DisplayFormat:  "0.00x",
	}
}

// WABRMetric is the parent metric of the weighted average base rate variants.
func WABRMetric() *core.ParentMetric {
	return &core.ParentMetric{
		MetricID:      "WABR",
		Name:          "Weighted Average Base Rate",
		Class:         core.MetricClassCalculated,
		UnitType:      "percent",
		Direction:     core.DirectionNeutral,
		DisplayFormat: "0.00%",
	}
}

// DSCRVariant computes NOI / debt service per facility and rolls up to
// counterparty by commitment-weighted average.
func DSCRVariant() *core.Variant {
	return &core.Variant{
		VariantID:      "DSCR-A",
		VariantName:    "DSCR (standard)",
		ParentMetricID: "DSCR",
		Type:           core.VariantTypeCalculated,
		Status:         core.StatusActive,
		FormulaDisplay: "NOI / Debt Service",
		Formula: &core.FormulaSpec{
			Expression: "noi / debt_service",
			Inputs: []core.FormulaInput{
				{Name: "noi", Ref: "L2.facility_financials.noi"},
				{Name: "debt_service", Ref: "L2.facility_financials.debt_service"},
			},
		},
		RollupLogic: map[core.Dimension]string{
			core.DimFacility:     "Calculated per facility",
			core.DimCounterparty: "commitment-weighted average",
		},
		UpstreamInputs: []core.NodeRef{
			core.ParseNodeRef("L2.facility_financials.noi"),
			core.ParseNodeRef("L2.facility_financials.debt_service"),
		},
	}
}

// WABRVariant is the weighted average base rate over bank-share commitment.
func WABRVariant() *core.Variant {
	return &core.Variant{
		VariantID:      "WABR-A",
		VariantName:    "WABR",
		ParentMetricID: "WABR",
		Type:           core.VariantTypeCalculated,
		Status:         core.StatusActive,
		Formula: &core.FormulaSpec{
			Expression: "WAVG(rate_index, commitment * bank_share)",
			Inputs: []core.FormulaInput{
				{Name: "rate_index", Ref: "L2.facility_exposure.rate_index"},
				{Name: "commitment", Ref: "L2.facility_exposure.commitment_amount"},
				{Name: "bank_share", Ref: "L2.facility_exposure.bank_share"},
			},
		},
		AllowedDimensions: []core.Dimension{core.DimFacility, core.DimCounterparty, core.DimDesk},
		Rollup: map[core.Dimension]core.RollupSpec{
			core.DimCounterparty: {Strategy: "WEIGHTED_AVERAGE", WeightField: "L2.facility_exposure.commitment_amount"},
			core.DimDesk:         {Strategy: "WEIGHTED_AVERAGE", WeightField: "commitment"},
		},
		UpstreamInputs: []core.NodeRef{
			core.ParseNodeRef("L2.facility_exposure.rate_index"),
			core.ParseNodeRef("L2.facility_exposure.commitment_amount"),
			core.ParseNodeRef("L2.facility_exposure.bank_share"),
		},
	}
}

// SpreadVariant consumes WABR-A by name.
func SpreadVariant() *core.Variant {
	return &core.Variant{
		VariantID:      "X",
		VariantName:    "WABR in basis points",
		ParentMetricID: "WABR",
		Type:           core.VariantTypeCalculated,
		Status:         core.StatusDraft,
		Formula:        &core.FormulaSpec{Expression: "L2.facility_exposure.rate_index * 10000"},
		UpstreamInputs: []core.NodeRef{core.ParseNodeRef("WABR-A")},
	}
}

// NOIVariant is a sourced variant read directly from the financials table.
func NOIVariant() *core.Variant {
	return &core.Variant{
		VariantID:      "NOI-S",
		ParentMetricID: "DSCR",
		Type:           core.VariantTypeSourced,
		Status:         core.StatusActive,
		SourceSystem:   "GL",
		SourceFields:   []string{"L2.facility_financials.noi"},
		Unit:           "USD",
		DisplayFormat:  "#,##0",
		UpstreamInputs: []core.NodeRef{core.ParseNodeRef("L2.facility_financials.noi")},
	}
}

// Metrics returns every fixture parent metric.
func Metrics() []*core.ParentMetric {
	return []*core.ParentMetric{DSCRMetric(), WABRMetric()}
}

// Variants returns every fixture variant.
func Variants() []*core.Variant {
	return []*core.Variant{DSCRVariant(), WABRVariant(), SpreadVariant(), NOIVariant()}
}

// ============================================================================
// Sample provider
// ============================================================================

// CountingProvider is an in-memory core.SampleProvider that counts calls.
type CountingProvider struct {
	mu        sync.Mutex
	data      map[string]map[string][]core.Row
	DateCalls int
	RowCalls  int
}

// NewCountingProvider serves rows (see Rows for the shape).
func NewCountingProvider(rows map[string]map[string][]core.Row) *CountingProvider {
	return &CountingProvider{data: rows}
}

// Dates returns the dates available for a table, newest first.
func (p *CountingProvider) Dates(_ context.Context, tableKey string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DateCalls++
	var dates []string
	for d := range p.data[tableKey] {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Rows returns a snapshot.
func (p *CountingProvider) Rows(_ context.Context, tableKey, asOf string) ([]core.Row, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RowCalls++
	rows, ok := p.data[tableKey][asOf]
	if !ok {
		return nil, core.Errorf(core.KindNoData, tableKey, "no snapshot at %s", asOf)
	}
	return rows, nil
}

// Loads returns the total number of provider calls.
func (p *CountingProvider) Loads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DateCalls + p.RowCalls
}

// String describes the provider for test failure messages.
func (p *CountingProvider) String() string {
	return fmt.Sprintf("CountingProvider(dates=%d rows=%d)", p.DateCalls, p.RowCalls)
}
