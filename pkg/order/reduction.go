package order

// descendantCache memoizes descendant sets during one reduction pass. Each
// entry is reference counted by the in-degree of its node and dropped once
// every parent has checked its children against it.
type descendantCache struct {
	g    Graph
	sets map[string]map[string]struct{}
	refs map[string]int
}

func newDescendantCache(g Graph) *descendantCache {
	refs := make(map[string]int)
	for _, children := range g {
		for _, c := range children {
			refs[c]++
		}
	}
	return &descendantCache{
		g:    g,
		sets: make(map[string]map[string]struct{}),
		refs: refs,
	}
}

// get returns every node reachable from n, n excluded.
func (c *descendantCache) get(n string) map[string]struct{} {
	if set, ok := c.sets[n]; ok {
		return set
	}
	set := make(map[string]struct{})
	stack := append([]string(nil), c.g[n]...)
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := set[m]; ok {
			continue
		}
		set[m] = struct{}{}
		if cached, ok := c.sets[m]; ok {
			for d := range cached {
				set[d] = struct{}{}
			}
			continue
		}
		stack = append(stack, c.g[m]...)
	}
	delete(set, n)
	c.sets[n] = set
	return set
}

// release records that one parent has finished with n.
func (c *descendantCache) release(n string) {
	c.refs[n]--
	if c.refs[n] <= 0 {
		delete(c.sets, n)
		delete(c.refs, n)
	}
}

// TransitiveReduction returns the graph with the fewest edges that has the
// same reachability as g.
//
// For every node the candidate children are its direct children; everything
// reachable through one of those children is struck from the candidates. The
// surviving children keep their relative order. When no edge is removed g
// itself is returned, so callers can detect "nothing changed" by comparing map
// identity.
func TransitiveReduction(g Graph) Graph {
	cache := newDescendantCache(g)
	var out Graph
	for parent, children := range g {
		redundant := make(map[string]struct{})
		for _, child := range children {
			for d := range cache.get(child) {
				redundant[d] = struct{}{}
			}
		}
		for _, child := range children {
			cache.release(child)
		}

		kept := make([]string, 0, len(children))
		seen := make(map[string]struct{}, len(children))
		for _, child := range children {
			if _, ok := redundant[child]; ok {
				continue
			}
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			kept = append(kept, child)
		}

		if len(kept) == len(children) {
			if out != nil && len(kept) > 0 {
				out[parent] = kept
			}
			continue
		}
		if out == nil {
			out = copyDone(g, parent)
		}
		if len(kept) > 0 {
			out[parent] = kept
		} else {
			delete(out, parent)
		}
	}
	if out == nil {
		return g
	}
	return out
}

// copyDone starts the result map the first time an edge is dropped. Every key
// of g is copied; keys not yet visited are overwritten later in the loop.
func copyDone(g Graph, current string) Graph {
	out := make(Graph, len(g))
	for k, v := range g {
		if k == current || len(v) == 0 {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}
