package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ProjectFiles is an on-disk project holding the same content as the
// in-memory fixtures: a catalog, a data dictionary and CSV snapshots.
var ProjectFiles = map[string]string{
	"leapmetrics.yaml": `catalog_dir: catalog
dictionary_path: dictionary.yaml
samples_dir: samples
`,
	"dictionary.yaml": `hierarchy_table: L2.facility_hierarchy
tables:
  - layer: L2
    name: facility_financials
    primary_key: facility_id
    description: Facility income statement snapshot
    fields:
      - {name: facility_id}
      - {name: noi, description: Net operating income, sample_value: "120"}
      - {name: debt_service, description: Scheduled debt service, sample_value: "100"}
  - layer: L2
    name: facility_exposure
    primary_key: facility_id
    fields:
      - {name: facility_id}
      - {name: commitment_amount, sample_value: "1000"}
      - {name: bank_share, sample_value: "0.5"}
      - {name: rate_index, sample_value: "0.05"}
  - layer: L2
    name: facility_hierarchy
    primary_key: facility_id
    fields:
      - {name: facility_id}
      - {name: counterparty_id}
      - {name: desk_id}
      - {name: portfolio_id}
      - {name: lob_id}
`,
	"catalog/dscr.yaml": `metrics:
  - metric_id: DSCR
    name: Debt Service Coverage Ratio
    generic_formula: NOI / Debt Service
    metric_class: CALCULATED
    unit_type: ratio
    direction: HIGHER_BETTER
    display_format: "0.00x"
variants:
  - variant_id: DSCR-A
    variant_name: DSCR (standard)
    parent_metric_id: DSCR
    variant_type: CALCULATED
    status: ACTIVE
    formula_display: NOI / Debt Service
    formula_specification:
      expression: noi / debt_service
      inputs:
        - {name: noi, ref: L2.facility_financials.noi}
        - {name: debt_service, ref: L2.facility_financials.debt_service}
    rollup_logic:
      facility: Calculated per facility
      counterparty: commitment-weighted average
    upstream_inputs:
      - L2.facility_financials.noi
      - L2.facility_financials.debt_service
  - variant_id: NOI-S
    parent_metric_id: DSCR
    variant_type: SOURCED
    status: ACTIVE
    source_system: GL
    source_fields: [L2.facility_financials.noi]
    unit: USD
    display_format: "#,##0"
    upstream_inputs: [L2.facility_financials.noi]
`,
	"catalog/wabr.yaml": `metrics:
  - metric_id: WABR
    name: Weighted Average Base Rate
    metric_class: CALCULATED
    unit_type: percent
    direction: NEUTRAL
    display_format: "0.00%"
variants:
  - variant_id: WABR-A
    variant_name: WABR
    parent_metric_id: WABR
    variant_type: CALCULATED
    status: ACTIVE
    formula_specification:
      expression: WAVG(rate_index, commitment * bank_share)
      inputs:
        - {name: rate_index, ref: L2.facility_exposure.rate_index}
        - {name: commitment, ref: L2.facility_exposure.commitment_amount}
        - {name: bank_share, ref: L2.facility_exposure.bank_share}
    allowed_dimensions: [facility, counterparty, desk]
    rollup:
      counterparty: {strategy: WEIGHTED_AVERAGE, weight: L2.facility_exposure.commitment_amount}
      desk: {strategy: WEIGHTED_AVERAGE, weight: commitment}
    upstream_inputs:
      - L2.facility_exposure.rate_index
      - L2.facility_exposure.commitment_amount
      - L2.facility_exposure.bank_share
  - variant_id: X
    variant_name: WABR in basis points
    parent_metric_id: WABR
    variant_type: CALCULATED
    status: DRAFT
    formula_specification:
      expression: L2.facility_exposure.rate_index * 10000
    upstream_inputs: [WABR-A]
`,
	"samples/L2/facility_financials.csv": `as_of_date,facility_id,noi,debt_service
2025-01-31,A,120,100
2025-01-31,B,80,100
2024-12-31,A,110,100
2024-12-31,B,70,100
`,
	"samples/L2/facility_exposure.csv": `as_of_date,facility_id,commitment_amount,bank_share,rate_index
2025-01-31,A,1000,0.5,0.05
2025-01-31,B,3000,1,0.03
`,
	"samples/L2/facility_hierarchy.csv": `as_of_date,facility_id,counterparty_id,desk_id,portfolio_id,lob_id
2025-01-31,A,C1,D1,P1,CRE
2025-01-31,B,C1,D1,P1,CRE
`,
}

// SetupProject writes ProjectFiles into a temporary directory and returns it.
func SetupProject(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range ProjectFiles {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}
