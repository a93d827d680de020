// Package dag provides a directed graph of metric dependencies with cycle
// detection, ordering and depth-limited neighbourhood queries. An edge
// points from an input to the node that consumes it.
package dag

import (
	"fmt"
	"sort"
)

// Node is a graph node with its payload.
type Node[T any] struct {
	ID   string
	Data T
}

// Graph is a directed graph keyed by node id. It is not safe for concurrent
// mutation.
type Graph[T any] struct {
	nodes   map[string]*Node[T]
	edges   map[string][]string // input -> consumers
	parents map[string][]string // consumer -> inputs
}

// NewGraph creates an empty graph.
func NewGraph[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:   make(map[string]*Node[T]),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node or replaces the payload of an existing one.
func (g *Graph[T]) AddNode(id string, data T) {
	if n, ok := g.nodes[id]; ok {
		n.Data = data
		return
	}
	g.nodes[id] = &Node[T]{ID: id, Data: data}
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge records that to consumes from. Both nodes must exist.
func (g *Graph[T]) AddEdge(from, to string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("node %q does not exist", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("node %q does not exist", to)
	}
	if from == to {
		return fmt.Errorf("self-loop detected: %s", from)
	}
	if !contains(g.edges[from], to) {
		g.edges[from] = append(g.edges[from], to)
	}
	if !contains(g.parents[to], from) {
		g.parents[to] = append(g.parents[to], from)
	}
	return nil
}

// GetNode returns a node by id.
func (g *Graph[T]) GetNode(id string) (*Node[T], bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// GetParents returns the direct inputs of id.
func (g *Graph[T]) GetParents(id string) []string { return g.parents[id] }

// GetChildren returns the direct consumers of id.
func (g *Graph[T]) GetChildren(id string) []string { return g.edges[id] }

// Nodes returns every node sorted by id.
func (g *Graph[T]) Nodes() []*Node[T] {
	out := make([]*Node[T], 0, len(g.nodes))
	for _, id := range g.ids() {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph[T]) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph[T]) EdgeCount() int {
	n := 0
	for _, c := range g.edges {
		n += len(c)
	}
	return n
}

// HasCycle reports whether the graph has a cycle and, if so, one cycle path
// that starts and ends at the same node. Traversal is in id order so the
// reported path is stable.
func (g *Graph[T]) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)
		for _, next := range g.edges[id] {
			if onStack[next] {
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						break
					}
				}
				return true
			}
			if !visited[next] && dfs(next) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		onStack[id] = false
		return false
	}

	for _, id := range g.ids() {
		if !visited[id] && dfs(id) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns nodes with inputs before consumers.
func (g *Graph[T]) TopologicalSort() ([]*Node[T], error) {
	if cyclic, path := g.HasCycle(); cyclic {
		return nil, fmt.Errorf("cycle detected: %v", path)
	}
	visited := make(map[string]bool)
	var out []*Node[T]
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, p := range g.parents[id] {
			visit(p)
		}
		out = append(out, g.nodes[id])
	}
	for _, id := range g.ids() {
		visit(id)
	}
	return out, nil
}

// Levels groups node ids by depth: level 0 has no inputs, level N depends
// only on earlier levels.
func (g *Graph[T]) Levels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	level := make(map[string]int, len(order))
	var levels [][]string
	for _, n := range order {
		l := 0
		for _, p := range g.parents[n.ID] {
			if level[p]+1 > l {
				l = level[p] + 1
			}
		}
		level[n.ID] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], n.ID)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// Downstream returns every transitive consumer of id, sorted.
func (g *Graph[T]) Downstream(id string) []string {
	return g.walk(id, g.edges, -1)
}

// Upstream returns every transitive input of id, sorted.
func (g *Graph[T]) Upstream(id string) []string {
	return g.walk(id, g.parents, -1)
}

// Within returns the subgraph of id plus the nodes reachable from it in
// either direction within depth hops. A negative depth is unlimited.
func (g *Graph[T]) Within(id string, depth int) *Graph[T] {
	if _, ok := g.nodes[id]; !ok {
		return NewGraph[T]()
	}
	ids := []string{id}
	ids = append(ids, g.walk(id, g.parents, depth)...)
	ids = append(ids, g.walk(id, g.edges, depth)...)
	return g.Subgraph(ids)
}

func (g *Graph[T]) walk(start string, adj map[string][]string, depth int) []string {
	seen := map[string]bool{start: true}
	frontier := []string{start}
	var out []string
	for hop := 0; len(frontier) > 0 && (depth < 0 || hop < depth); hop++ {
		var next []string
		for _, id := range frontier {
			for _, n := range adj[id] {
				if seen[n] {
					continue
				}
				seen[n] = true
				out = append(out, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	sort.Strings(out)
	return out
}

// Roots returns nodes without inputs, sorted.
func (g *Graph[T]) Roots() []string {
	var out []string
	for _, id := range g.ids() {
		if len(g.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Leaves returns nodes without consumers, sorted.
func (g *Graph[T]) Leaves() []string {
	var out []string
	for _, id := range g.ids() {
		if len(g.edges[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Subgraph returns the graph induced by ids. Unknown ids are ignored.
func (g *Graph[T]) Subgraph(ids []string) *Graph[T] {
	sub := NewGraph[T]()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			keep[id] = true
			sub.AddNode(id, n.Data)
		}
	}
	for _, id := range sub.ids() {
		for _, c := range g.edges[id] {
			if keep[c] {
				_ = sub.AddEdge(id, c)
			}
		}
	}
	return sub
}

// Edges returns every edge as (from, to) in sorted order.
func (g *Graph[T]) Edges() [][2]string {
	var out [][2]string
	for _, id := range g.ids() {
		children := append([]string(nil), g.edges[id]...)
		sort.Strings(children)
		for _, c := range children {
			out = append(out, [2]string{id, c})
		}
	}
	return out
}

func (g *Graph[T]) ids() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(slice []string, s string) bool {
	for _, x := range slice {
		if x == s {
			return true
		}
	}
	return false
}
