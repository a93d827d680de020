package core

// DependencyNode is one upstream or downstream neighbour of a variant.
type DependencyNode struct {
	NodeID   string        `json:"node_id"`
	NodeName string        `json:"node_name"`
	Kind     NodeKind      `json:"kind"`
	Layer    string        `json:"layer,omitempty"`
	Table    string        `json:"table,omitempty"`
	Field    string        `json:"field,omitempty"`
	Status   VariantStatus `json:"status,omitempty"`
	// Resolved is false when the reference names nothing in the catalog or dictionary.
	Resolved bool `json:"resolved"`
}

// DownstreamSource records how the downstream list was obtained.
type DownstreamSource string

// Downstream sources.
const (
	DownstreamDeclared DownstreamSource = "declared"
	DownstreamIndex    DownstreamSource = "index"
	DownstreamScan     DownstreamSource = "scan"
)

// Dependencies is the direct dependency neighbourhood of a variant.
type Dependencies struct {
	VariantID        string           `json:"variant_id"`
	Upstream         []DependencyNode `json:"upstream"`
	Downstream       []DependencyNode `json:"downstream"`
	DownstreamSource DownstreamSource `json:"downstream_source"`
}
