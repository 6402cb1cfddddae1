package order

import (
	"math/rand"
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameMap(a, b Graph) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// closure returns every (ancestor, descendant) pair of g.
func closure(g Graph) map[[2]string]bool {
	out := make(map[[2]string]bool)
	for _, n := range g.Nodes() {
		for m := range reachable(g, n) {
			out[[2]string{n, m}] = true
		}
	}
	return out
}

func randomDAG(r *rand.Rand, n int, density float64) Graph {
	g := Graph{}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if r.Float64() < density {
				from, to := strconv.Itoa(i), strconv.Itoa(j)
				g[from] = append(g[from], to)
			}
		}
	}
	return g
}

// =============================================================================
// Reachability
// =============================================================================

func TestIsDescendant(t *testing.T) {
	g := Graph{"a": {"b"}, "b": {"c"}, "x": {"c"}}

	t.Run("direct_edge", func(t *testing.T) {
		assert.True(t, IsDescendant(g, "a", "b"))
	})
	t.Run("transitive", func(t *testing.T) {
		assert.True(t, IsDescendant(g, "a", "c"))
	})
	t.Run("reverse_direction", func(t *testing.T) {
		assert.False(t, IsDescendant(g, "c", "a"))
	})
	t.Run("siblings_unrelated", func(t *testing.T) {
		assert.False(t, IsDescendant(g, "a", "x"))
		assert.False(t, IsDescendant(g, "x", "a"))
	})
	t.Run("not_own_descendant", func(t *testing.T) {
		assert.False(t, IsDescendant(g, "a", "a"))
	})
	t.Run("unknown_node", func(t *testing.T) {
		assert.False(t, IsDescendant(g, "zzz", "a"))
	})
	t.Run("terminates_on_cycle", func(t *testing.T) {
		cyclic := Graph{"a": {"b"}, "b": {"a"}}
		assert.True(t, IsDescendant(cyclic, "a", "a"))
		assert.False(t, IsDescendant(cyclic, "a", "c"))
	})
}

func TestCompare(t *testing.T) {
	g := Graph{"a": {"b"}}
	assert.Equal(t, Greater, Compare(g, "a", "b"))
	assert.Equal(t, Less, Compare(g, "b", "a"))
	assert.Equal(t, Unknown, Compare(g, "a", "c"))
}

// =============================================================================
// Graph construction
// =============================================================================

func TestWithEdge(t *testing.T) {
	t.Run("adds_edge_without_mutating_input", func(t *testing.T) {
		g := Graph{"a": {"b"}}
		out := WithEdge(g, "a", "c")

		assert.Equal(t, Graph{"a": {"b", "c"}}, out)
		assert.Equal(t, Graph{"a": {"b"}}, g)
	})

	t.Run("existing_edge_returns_same_map", func(t *testing.T) {
		g := Graph{"a": {"b"}}
		assert.True(t, sameMap(g, WithEdge(g, "a", "b")))
	})

	t.Run("new_parent", func(t *testing.T) {
		out := WithEdge(Graph{}, "x", "y")
		assert.Equal(t, Graph{"x": {"y"}}, out)
	})
}

func TestGraphHelpers(t *testing.T) {
	g := Graph{"c": {"a", "b"}, "b": {"a"}, "empty": {}}

	t.Run("nodes_sorted", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b", "c"}, g.Nodes())
	})
	t.Run("edge_count", func(t *testing.T) {
		assert.Equal(t, 3, g.EdgeCount())
	})
	t.Run("clone_is_deep", func(t *testing.T) {
		c := g.Clone()
		c["c"][0] = "z"
		assert.Equal(t, "a", g["c"][0])
		_, ok := c["empty"]
		assert.False(t, ok, "empty child lists are dropped")
	})
	t.Run("equal_ignores_order_and_empty_keys", func(t *testing.T) {
		assert.True(t, Equal(g, Graph{"b": {"a"}, "c": {"b", "a"}}))
		assert.False(t, Equal(g, Graph{"b": {"a"}, "c": {"b"}}))
		assert.False(t, Equal(Graph{"a": {"b"}}, Graph{"b": {"a"}}))
		assert.True(t, Equal(Graph{}, nil))
	})
}

// =============================================================================
// Transitive reduction
// =============================================================================

func TestTransitiveReduction(t *testing.T) {
	t.Run("removes_shortcut", func(t *testing.T) {
		g := Graph{"a": {"b", "c"}, "b": {"c"}}
		out := TransitiveReduction(g)

		assert.Equal(t, Graph{"a": {"b"}, "b": {"c"}}, out)
		assert.Equal(t, Graph{"a": {"b", "c"}, "b": {"c"}}, g, "input must not change")
	})

	t.Run("removes_long_shortcut", func(t *testing.T) {
		g := Graph{"a": {"e", "b"}, "b": {"c"}, "c": {"d"}, "d": {"e"}}
		out := TransitiveReduction(g)
		assert.Equal(t, Graph{"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"e"}}, out)
	})

	t.Run("keeps_child_order", func(t *testing.T) {
		g := Graph{"a": {"d", "x", "b", "c"}, "x": {"c"}}
		out := TransitiveReduction(g)
		assert.Equal(t, []string{"d", "x", "b"}, out["a"])
	})

	t.Run("already_reduced_returns_same_map", func(t *testing.T) {
		g := Graph{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}}
		assert.True(t, sameMap(g, TransitiveReduction(g)))
	})

	t.Run("empty_graph", func(t *testing.T) {
		g := Graph{}
		assert.True(t, sameMap(g, TransitiveReduction(g)))
	})

	t.Run("minimal_and_reachability_preserving", func(t *testing.T) {
		r := rand.New(rand.NewSource(7))
		for i := 0; i < 50; i++ {
			g := randomDAG(r, 12, 0.35)
			once := TransitiveReduction(g)
			twice := TransitiveReduction(once)

			require.True(t, Equal(once, twice), "reduction is not idempotent for %v", g)
			require.True(t, sameMap(once, twice))
			require.Equal(t, closure(g), closure(once))

			// Removing any remaining edge must lose reachability.
			for parent, children := range once {
				for _, c := range children {
					pruned := once.Clone()
					pruned[parent] = removeString(pruned[parent], c)
					assert.False(t, IsDescendant(pruned, parent, c),
						"edge %s->%s is redundant in %v", parent, c, once)
				}
			}
		}
	})
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// =============================================================================
// Node removal
// =============================================================================

func TestWithRemovedNode(t *testing.T) {
	t.Run("chain_middle", func(t *testing.T) {
		g := Graph{"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"e"}}
		out := WithRemovedNode(g, "b")

		assert.Equal(t, Graph{"a": {"c"}, "c": {"d"}, "d": {"e"}}, out)
		assert.Contains(t, g, "b", "input must not change")
	})

	t.Run("bridges_every_parent_to_every_child", func(t *testing.T) {
		g := Graph{"p1": {"m"}, "p2": {"m"}, "m": {"c1", "c2"}}
		out := WithRemovedNode(g, "m")

		assert.True(t, Equal(Graph{"p1": {"c1", "c2"}, "p2": {"c1", "c2"}}, out))
	})

	t.Run("bridge_is_reduced", func(t *testing.T) {
		g := Graph{"a": {"b", "x"}, "b": {"c"}, "x": {"c"}}
		out := WithRemovedNode(g, "b")

		assert.Equal(t, Graph{"a": {"x"}, "x": {"c"}}, out)
	})

	t.Run("leaf_and_root", func(t *testing.T) {
		g := Graph{"a": {"b"}, "b": {"c"}}
		assert.Equal(t, Graph{"a": {"b"}}, WithRemovedNode(g, "c"))
		assert.Equal(t, Graph{"b": {"c"}}, WithRemovedNode(g, "a"))
	})

	t.Run("absent_node", func(t *testing.T) {
		g := Graph{"a": {"b"}}
		assert.Equal(t, g, WithRemovedNode(g, "zzz"))
	})
}

// =============================================================================
// Grouping
// =============================================================================

func TestConnectedNodes(t *testing.T) {
	g := Graph{"a": {"b"}, "c": {"b"}, "x": {"y"}}

	got := ConnectedNodes(g, "a")
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}, "c": {}}, got)
	assert.Equal(t, map[string]struct{}{"lonely": {}}, ConnectedNodes(g, "lonely"))
}

func TestSubgraphForNodes(t *testing.T) {
	g := Graph{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}}
	out := SubgraphForNodes(g, []string{"a", "b", "d"})
	assert.Equal(t, Graph{"a": {"b"}, "b": {"d"}}, out)
}

func TestFindTopNodesWithGroups(t *testing.T) {
	t.Run("discovery_order_and_roots", func(t *testing.T) {
		g := Graph{"b": {"a"}, "d": {"c"}}
		groups := FindTopNodesWithGroups(g, []string{"a", "b", "e", "c", "d"})

		assert.Equal(t, []Group{
			{Root: "b", Connected: []string{"a", "b"}},
			{Root: "e", Connected: []string{"e"}},
			{Root: "d", Connected: []string{"c", "d"}},
		}, groups)
	})

	t.Run("edges_outside_nodes_ignored", func(t *testing.T) {
		g := Graph{"x": {"a"}, "a": {"b"}}
		groups := FindTopNodesWithGroups(g, []string{"a", "b"})

		assert.Equal(t, []Group{{Root: "a", Connected: []string{"a", "b"}}}, groups)
	})

	t.Run("empty_identifier_is_a_valid_root", func(t *testing.T) {
		g := Graph{"": {"a"}}
		groups := FindTopNodesWithGroups(g, []string{"a", ""})

		require.Len(t, groups, 1)
		assert.Equal(t, "", groups[0].Root)
	})

	t.Run("no_nodes", func(t *testing.T) {
		assert.Empty(t, FindTopNodesWithGroups(Graph{"a": {"b"}}, nil))
	})
}
