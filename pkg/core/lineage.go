package core

// LineageNodeKind is the role of a node in a lineage graph.
type LineageNodeKind string

// Lineage node kinds.
const (
	LineageSource    LineageNodeKind = "source"
	LineageTransform LineageNodeKind = "transform"
	LineageOutput    LineageNodeKind = "output"
)

// LineageNode is one node of a metric lineage graph.
type LineageNode struct {
	ID          string          `json:"id"`
	Kind        LineageNodeKind `json:"kind"`
	Label       string          `json:"label"`
	Layer       string          `json:"layer,omitempty"`
	Table       string          `json:"table,omitempty"`
	Field       string          `json:"field,omitempty"`
	Formula     string          `json:"formula,omitempty"`
	Description string          `json:"description,omitempty"`
	SampleValue string          `json:"sampleValue,omitempty"`
}

// LineageEdge is a directed edge between lineage nodes.
type LineageEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// LineageGraph explains how a metric value is derived: sources fan in to a
// single transform, which produces a single output.
type LineageGraph struct {
	VariantID string        `json:"variant_id"`
	Nodes     []LineageNode `json:"nodes"`
	Edges     []LineageEdge `json:"edges"`
}

// Node returns the node with the given id.
func (g *LineageGraph) Node(id string) (LineageNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return LineageNode{}, false
}

// CountKind returns how many nodes have the given kind.
func (g *LineageGraph) CountKind(kind LineageNodeKind) int {
	n := 0
	for _, node := range g.Nodes {
		if node.Kind == kind {
			n++
		}
	}
	return n
}
