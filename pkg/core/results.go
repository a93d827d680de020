package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MetricResult is one persisted calculation row.
type MetricResult struct {
	RunVersion    string              `json:"run_version"`
	AsOfDate      string              `json:"as_of_date"`
	VariantID     string              `json:"variant_id"`
	Dimension     Dimension           `json:"dimension"`
	AggregationID string              `json:"aggregation_id"`
	Value         decimal.NullDecimal `json:"-"`
	Unit          string              `json:"unit,omitempty"`
	DisplayFormat string              `json:"display_format,omitempty"`
	Breakdown     []BreakdownEntry    `json:"breakdown,omitempty"`
}

// MarshalJSON renders Value as a JSON number or null.
func (r MetricResult) MarshalJSON() ([]byte, error) {
	type alias MetricResult
	return json.Marshal(struct {
		alias
		Value json.RawMessage `json:"value"`
	}{alias(r), NumberJSON(r.Value)})
}

// PopulateStatus is the outcome of a batch population run.
type PopulateStatus string

// Populate run states.
const (
	PopulateRunning   PopulateStatus = "running"
	PopulateCompleted PopulateStatus = "completed"
	PopulateFailed    PopulateStatus = "failed"
)

// PopulateRun records one batch population of metric results.
type PopulateRun struct {
	ID          string         `json:"id"`
	RunVersion  string         `json:"run_version"`
	AsOfDate    string         `json:"as_of_date"`
	Status      PopulateStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Computed    int            `json:"computed"`
	Skipped     int            `json:"skipped"`
	Results     int            `json:"results"`
	Error       string         `json:"error,omitempty"`
}

// ResultsStore persists batch results.
type ResultsStore interface {
	// ReplaceResults atomically replaces every result of
	// (run.RunVersion, run.AsOfDate) and records the run.
	ReplaceResults(ctx context.Context, run *PopulateRun, results []MetricResult) error
	// ListResults returns stored results ordered by variant, dimension and id.
	ListResults(ctx context.Context, runVersion, asOf string) ([]MetricResult, error)
}
