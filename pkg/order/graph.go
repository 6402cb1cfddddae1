// Package order implements the interruptible comparison-sort engine.
//
// A sort over human judgements cannot call a comparator: every comparison is a
// question that gets answered later, often in another request. The engine is
// therefore a set of pure functions over an order-knowledge Graph (what is
// already known) and an item list. Each call replays the sort from scratch and
// either asks for exactly one more comparison or reports the final order.
//
// Example Usage:
//
//	g := order.Graph{}
//	items := []string{"3", "4", "1", "2"}
//
//	for {
//		status := order.HeapSort(g, items)
//		if status.Done {
//			fmt.Println(status.Sorted) // best first
//			break
//		}
//		larger, smaller := ask(status.Comparison.A, status.Comparison.B)
//		g = order.CacheWithUpdate(g, larger, smaller)
//	}
//
// Nothing in this package performs I/O or keeps state between calls; callers
// own the graph (or the decision log it is folded from) and persist it however
// they like.
package order

import (
	"slices"
	"sort"
)

// Graph records known "greater than" relationships between item identifiers.
//
// Graph[u] lists the items u is known to be strictly greater than. Graphs
// produced by this package are acyclic and transitively reduced: an edge u→v
// exists only if v is not reachable from u through another path. Nodes with no
// children have no key. Child order is insertion order.
//
// Graph values are treated as immutable. Every operation that changes the
// graph returns a new map and leaves its input untouched.
type Graph map[string][]string

// Group is a weakly connected set of items and its best-known member.
type Group struct {
	// Root has no incoming edge inside the group.
	Root string `json:"root"`
	// Connected lists every member, Root included.
	Connected []string `json:"connected"`
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for k, v := range g {
		if len(v) == 0 {
			continue
		}
		out[k] = slices.Clone(v)
	}
	return out
}

// Nodes returns every identifier that appears in g, sorted.
func (g Graph) Nodes() []string {
	seen := make(map[string]struct{}, len(g))
	for parent, children := range g {
		if len(children) == 0 {
			continue
		}
		seen[parent] = struct{}{}
		for _, c := range children {
			seen[c] = struct{}{}
		}
	}
	nodes := make([]string, 0, len(seen))
	for n := range seen {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// EdgeCount returns the number of direct edges.
func (g Graph) EdgeCount() int {
	n := 0
	for _, children := range g {
		n += len(children)
	}
	return n
}

// Equal reports whether a and b hold the same edge set. Child order and empty
// child lists are ignored.
func Equal(a, b Graph) bool {
	if a.EdgeCount() != b.EdgeCount() {
		return false
	}
	for parent, children := range a {
		other := b[parent]
		if len(children) != len(other) {
			return false
		}
		for _, c := range children {
			if !slices.Contains(other, c) {
				return false
			}
		}
	}
	return true
}

// IsDescendant reports whether target is reachable from parent by following
// edges. A node is not its own descendant unless the graph has a cycle.
func IsDescendant(g Graph, parent, target string) bool {
	stack := slices.Clone(g[parent])
	visited := make(map[string]struct{}, len(stack))
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if _, ok := visited[n]; ok {
			continue
		}
		visited[n] = struct{}{}
		stack = append(stack, g[n]...)
	}
	return false
}

// Relation is the known ordering between two items.
type Relation int

const (
	// Unknown means neither item is reachable from the other.
	Unknown Relation = iota
	// Greater means the first item is known to be greater.
	Greater
	// Less means the second item is known to be greater.
	Less
)

// Compare returns what g knows about a relative to b.
func Compare(g Graph, a, b string) Relation {
	switch {
	case IsDescendant(g, a, b):
		return Greater
	case IsDescendant(g, b, a):
		return Less
	default:
		return Unknown
	}
}

// WithEdge returns a copy of g with the edge parent→child added. If the edge
// already exists g itself is returned.
func WithEdge(g Graph, parent, child string) Graph {
	if slices.Contains(g[parent], child) {
		return g
	}
	out := g.Clone()
	out[parent] = append(out[parent], child)
	return out
}

// WithRemovedNode deletes node from g and connects each of its former parents
// directly to each of its former children, so reachability between the
// remaining nodes is unchanged.
func WithRemovedNode(g Graph, node string) Graph {
	children := g[node]
	out := make(Graph, len(g))
	for parent, kids := range g {
		if parent == node {
			continue
		}
		idx := slices.Index(kids, node)
		if idx < 0 {
			if len(kids) > 0 {
				out[parent] = slices.Clone(kids)
			}
			continue
		}
		bridged := make([]string, 0, len(kids)-1+len(children))
		bridged = append(bridged, kids[:idx]...)
		bridged = append(bridged, kids[idx+1:]...)
		for _, c := range children {
			if !slices.Contains(bridged, c) {
				bridged = append(bridged, c)
			}
		}
		if len(bridged) > 0 {
			out[parent] = bridged
		}
	}
	return TransitiveReduction(out)
}

// ConnectedNodes returns every node reachable from start when edge direction
// is ignored, start included.
func ConnectedNodes(g Graph, start string) map[string]struct{} {
	adj := undirected(g)
	seen := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, m := range adj[n] {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			stack = append(stack, m)
		}
	}
	return seen
}

func undirected(g Graph) map[string][]string {
	adj := make(map[string][]string, len(g))
	for parent, children := range g {
		for _, c := range children {
			adj[parent] = append(adj[parent], c)
			adj[c] = append(adj[c], parent)
		}
	}
	return adj
}

// SubgraphForNodes keeps only the edges whose endpoints are both in nodes.
func SubgraphForNodes(g Graph, nodes []string) Graph {
	keep := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		keep[n] = struct{}{}
	}
	out := make(Graph)
	for parent, children := range g {
		if _, ok := keep[parent]; !ok {
			continue
		}
		var kept []string
		for _, c := range children {
			if _, ok := keep[c]; ok {
				kept = append(kept, c)
			}
		}
		if len(kept) > 0 {
			out[parent] = kept
		}
	}
	return out
}

// FindTopNodesWithGroups partitions nodes into weakly connected groups of g.
//
// Groups come back in discovery order while scanning nodes. Each group's
// Connected slice follows the order of nodes, and its Root is the first member
// without an incoming edge from another member. Edges to identifiers outside
// nodes are ignored.
func FindTopNodesWithGroups(g Graph, nodes []string) []Group {
	sub := SubgraphForNodes(g, nodes)
	hasParent := make(map[string]bool, len(nodes))
	for _, children := range sub {
		for _, c := range children {
			hasParent[c] = true
		}
	}

	assigned := make(map[string]struct{}, len(nodes))
	var groups []Group
	for _, n := range nodes {
		if _, ok := assigned[n]; ok {
			continue
		}
		members := ConnectedNodes(sub, n)
		group := Group{}
		rooted := false
		for _, m := range nodes {
			if _, ok := members[m]; !ok {
				continue
			}
			if _, dup := assigned[m]; dup {
				continue
			}
			assigned[m] = struct{}{}
			group.Connected = append(group.Connected, m)
			if !rooted && !hasParent[m] {
				group.Root = m
				rooted = true
			}
		}
		if !rooted {
			// Only reachable with a cyclic graph.
			group.Root = group.Connected[0]
		}
		groups = append(groups, group)
	}
	return groups
}
