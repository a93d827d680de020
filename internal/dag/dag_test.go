package dag

import (
	"reflect"
	"testing"
)

func chain(ids ...string) *Graph[string] {
	g := NewGraph[string]()
	for _, id := range ids {
		g.AddNode(id, "variant "+id)
	}
	for i := 1; i < len(ids); i++ {
		_ = g.AddEdge(ids[i-1], ids[i])
	}
	return g
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := chain("a", "b", "c")

	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.NodeCount())
	}
	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}

	g.AddNode("a", "renamed")
	n, ok := g.GetNode("a")
	if !ok || n.Data != "renamed" {
		t.Errorf("expected payload to be replaced, got %+v", n)
	}
	if g.EdgeCount() != 2 {
		t.Errorf("re-adding a node must keep its edges, got %d", g.EdgeCount())
	}
}

func TestGraph_AddEdge_Errors(t *testing.T) {
	g := NewGraph[string]()
	g.AddNode("a", "")

	if err := g.AddEdge("a", "nonexistent"); err == nil {
		t.Error("expected error for unknown consumer")
	}
	if err := g.AddEdge("nonexistent", "a"); err == nil {
		t.Error("expected error for unknown input")
	}
	if err := g.AddEdge("a", "a"); err == nil {
		t.Error("expected error for self-loop")
	}
}

func TestGraph_DuplicateEdges(t *testing.T) {
	g := chain("a", "b")
	_ = g.AddEdge("a", "b")

	if g.EdgeCount() != 1 {
		t.Errorf("expected 1 edge, got %d", g.EdgeCount())
	}
	if len(g.GetParents("b")) != 1 {
		t.Errorf("expected 1 parent, got %v", g.GetParents("b"))
	}
}

func TestGraph_HasCycle(t *testing.T) {
	g := chain("a", "b", "c")
	if cyclic, path := g.HasCycle(); cyclic {
		t.Fatalf("expected no cycle, got %v", path)
	}

	_ = g.AddEdge("c", "a")
	cyclic, path := g.HasCycle()
	if !cyclic {
		t.Fatal("expected cycle to be detected")
	}
	want := []string{"a", "b", "c", "a"}
	if !reflect.DeepEqual(path, want) {
		t.Errorf("expected cycle path %v, got %v", want, path)
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	// Diamond: a feeds b and c, both feed d.
	g := NewGraph[string]()
	for _, id := range []string{"d", "c", "b", "a"} {
		g.AddNode(id, "")
	}
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("a", "c")
	_ = g.AddEdge("b", "d")
	_ = g.AddEdge("c", "d")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[string]int)
	for i, n := range order {
		pos[n.ID] = i
	}
	for _, e := range g.Edges() {
		if pos[e[0]] >= pos[e[1]] {
			t.Errorf("%s must come before %s in %v", e[0], e[1], pos)
		}
	}

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("expected levels %v, got %v", want, levels)
	}
}

func TestGraph_TopologicalSort_WithCycle(t *testing.T) {
	g := chain("a", "b")
	_ = g.AddEdge("b", "a")

	if _, err := g.TopologicalSort(); err == nil {
		t.Error("expected error for cyclic graph")
	}
	if _, err := g.Levels(); err == nil {
		t.Error("expected error for cyclic graph")
	}
}

func TestGraph_UpstreamDownstream(t *testing.T) {
	g := chain("a", "b", "c", "d")
	g.AddNode("x", "")
	_ = g.AddEdge("x", "c")

	if got, want := g.Upstream("c"), []string{"a", "b", "x"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Upstream(c) = %v, want %v", got, want)
	}
	if got, want := g.Downstream("b"), []string{"c", "d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Downstream(b) = %v, want %v", got, want)
	}
	if got := g.Downstream("d"); len(got) != 0 {
		t.Errorf("Downstream(d) = %v, want none", got)
	}
}

func TestGraph_Within(t *testing.T) {
	g := chain("a", "b", "c", "d", "e")

	sub := g.Within("c", 1)
	ids := make([]string, 0, sub.NodeCount())
	for _, n := range sub.Nodes() {
		ids = append(ids, n.ID)
	}
	if want := []string{"b", "c", "d"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Within(c, 1) = %v, want %v", ids, want)
	}
	if sub.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", sub.EdgeCount())
	}

	if n := g.Within("c", -1).NodeCount(); n != 5 {
		t.Errorf("unlimited depth should reach all 5 nodes, got %d", n)
	}
	if n := g.Within("missing", 2).NodeCount(); n != 0 {
		t.Errorf("unknown node should yield an empty graph, got %d", n)
	}
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := chain("a", "b")
	g.AddNode("lonely", "")

	if got, want := g.Roots(), []string{"a", "lonely"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Roots() = %v, want %v", got, want)
	}
	if got, want := g.Leaves(), []string{"b", "lonely"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Leaves() = %v, want %v", got, want)
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := chain("a", "b", "c")

	sub := g.Subgraph([]string{"a", "c", "unknown"})
	if sub.NodeCount() != 2 {
		t.Errorf("expected 2 nodes, got %d", sub.NodeCount())
	}
	if sub.EdgeCount() != 0 {
		t.Errorf("expected no edges between a and c, got %d", sub.EdgeCount())
	}
}
