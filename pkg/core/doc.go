// Package core defines the shared language of the leapmetrics engine.
//
// This package contains:
//   - Catalog entities (ParentMetric, Variant, NodeRef)
//   - Calculation dimensions and the rollup hierarchy order
//   - Calculation results (RunOutput), lineage and dependency graphs
//   - Collaborator interfaces (Dictionary, SampleProvider, CatalogStore, FactStore)
//   - The error taxonomy (Error, Kind)
//
// The Golden Rule: pkg/core imports only stdlib, shopspring/decimal and yaml.v3.
// All other packages depend on core, not the reverse.
package core
