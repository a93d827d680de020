package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one sample-data record keyed by column name.
// Values are string, int64, float64, decimal.Decimal, time.Time or nil.
type Row map[string]any

// SampleProvider is the sample-data collaborator.
// Implementations must be safe for concurrent reads.
type SampleProvider interface {
	// Dates lists the snapshot dates (YYYY-MM-DD) available for a table.
	Dates(ctx context.Context, tableKey string) ([]string, error)
	// Rows loads a table snapshot at the given date.
	Rows(ctx context.Context, tableKey, asOf string) ([]Row, error)
}

// CalcRequest asks for one variant at one dimension.
type CalcRequest struct {
	VariantID string    `json:"variant_id"`
	Dimension Dimension `json:"dimension"`
	// AsOfDate is optional; empty selects the latest available snapshot.
	AsOfDate string `json:"as_of_date,omitempty"`
}

// ValidateAsOfDate checks that asOf is an ISO date (YYYY-MM-DD). Empty is
// allowed and means the latest snapshot.
func ValidateAsOfDate(asOf string) error {
	if asOf == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, asOf); err != nil {
		return Errorf(KindValidation, "", "as-of date %q is not YYYY-MM-DD", asOf)
	}
	return nil
}

// BreakdownEntry is one component of a distribution value.
type BreakdownEntry struct {
	Key   string              `json:"key"`
	Value decimal.NullDecimal `json:"-"`
}

// MarshalJSON renders the value as a JSON number or null.
func (b BreakdownEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}{b.Key, NumberJSON(b.Value)})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (b *BreakdownEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Key, b.Value = raw.Key, decimal.NullDecimal{}
	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		return nil
	}
	d, err := decimal.NewFromString(string(raw.Value))
	if err != nil {
		return err
	}
	b.Value = decimal.NullDecimal{Decimal: d, Valid: true}
	return nil
}

// RunRow is the computed value for one aggregation key.
type RunRow struct {
	AggregationID string              `json:"aggregation_id"`
	Value         decimal.NullDecimal `json:"-"`
	Unit          string              `json:"unit,omitempty"`
	DisplayFormat string              `json:"display_format,omitempty"`
	Breakdown     []BreakdownEntry    `json:"breakdown,omitempty"`
}

// MarshalJSON renders Value as a JSON number (or null) rather than a quoted string.
func (r RunRow) MarshalJSON() ([]byte, error) {
	type alias RunRow
	return json.Marshal(struct {
		alias
		Value json.RawMessage `json:"value"`
	}{alias(r), NumberJSON(r.Value)})
}

// NumberJSON encodes a nullable decimal as a bare JSON number.
func NumberJSON(v decimal.NullDecimal) json.RawMessage {
	if !v.Valid {
		return json.RawMessage("null")
	}
	return json.RawMessage(v.Decimal.String())
}

// Diagnostics explains how a result was produced.
type Diagnostics struct {
	Tables       []string       `json:"tables"`
	RowCounts    map[string]int `json:"row_counts"`
	GroupCount   int            `json:"group_count"`
	NullCount    int            `json:"null_count"`
	FormulaUsed  string         `json:"formula_used"`
	RolledUpFrom Dimension      `json:"rolled_up_from,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
}

// RunOutput is the result of a calculation.
type RunOutput struct {
	OK           bool         `json:"ok"`
	VariantID    string       `json:"variant_id,omitempty"`
	Dimension    Dimension    `json:"dimension,omitempty"`
	Rows         []RunRow     `json:"rows,omitempty"`
	AsOfDateUsed string       `json:"asOfDateUsed,omitempty"`
	Diagnostics  *Diagnostics `json:"diagnostics,omitempty"`
	Error        string       `json:"error,omitempty"`
	ErrorKind    Kind         `json:"errorKind,omitempty"`
	Retryable    bool         `json:"retryable,omitempty"`
}

// FailedOutput renders an error as a RunOutput.
func FailedOutput(req CalcRequest, err error) *RunOutput {
	return &RunOutput{
		OK:        false,
		VariantID: req.VariantID,
		Dimension: req.Dimension,
		Error:     err.Error(),
		ErrorKind: KindOf(err),
		Retryable: IsRetryable(err),
	}
}
