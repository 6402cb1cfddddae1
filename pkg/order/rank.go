package order

import (
	"container/heap"
	"sort"
)

// BestSorts splits items into a determined prefix, a partially ordered middle
// and the items with no order information at all.
//
// Only edges between members of items are considered. Sorted is filled when
// those edges connect every item and leave a single maximum: the walk starts
// there and follows nodes with exactly one child. A node with no children ends
// the walk and is included only when it is the last item left. Duplicate items
// are ignored after their first occurrence.
func BestSorts(g Graph, items []string) Ranking {
	items = dedupe(items)
	sub := SubgraphForNodes(g, items)

	indegree := make(map[string]int, len(items))
	touched := make(map[string]bool, len(items))
	for parent, children := range sub {
		touched[parent] = true
		for _, c := range children {
			indegree[c]++
			touched[c] = true
		}
	}

	sorted := chainFromTop(sub, items, indegree)

	inChain := make(map[string]struct{}, len(sorted))
	for _, n := range sorted {
		inChain[n] = struct{}{}
	}
	var partial []string
	notSorted := []string{}
	for _, n := range items {
		if _, ok := inChain[n]; ok {
			continue
		}
		if touched[n] {
			partial = append(partial, n)
		} else {
			notSorted = append(notSorted, n)
		}
	}
	sort.Strings(notSorted)

	return Ranking{
		Sorted:           sorted,
		IncompleteSorted: topologicalOrder(SubgraphForNodes(sub, partial), partial),
		NotSorted:        notSorted,
	}
}

func chainFromTop(sub Graph, items []string, indegree map[string]int) []string {
	sorted := []string{}
	if len(items) == 0 || len(ConnectedNodes(sub, items[0])) != len(items) {
		return sorted
	}
	top, tops := "", 0
	for _, n := range items {
		if indegree[n] == 0 {
			top = n
			tops++
		}
	}
	if tops != 1 {
		return sorted
	}
	for n := top; ; {
		children := sub[n]
		if len(children) == 1 {
			sorted = append(sorted, n)
			n = children[0]
			if len(sorted) == len(items) {
				// Cycle guard.
				return sorted
			}
			continue
		}
		if len(children) == 0 && len(sorted) == len(items)-1 {
			sorted = append(sorted, n)
		}
		return sorted
	}
}

// topologicalOrder runs Kahn's algorithm over nodes, always emitting the
// lexicographically smallest ready node.
func topologicalOrder(g Graph, nodes []string) []string {
	indegree := make(map[string]int, len(nodes))
	for _, children := range g {
		for _, c := range children {
			indegree[c]++
		}
	}
	ready := &stringHeap{}
	for _, n := range nodes {
		if indegree[n] == 0 {
			*ready = append(*ready, n)
		}
	}
	heap.Init(ready)

	out := make([]string, 0, len(nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(string)
		out = append(out, n)
		for _, c := range g[n] {
			indegree[c]--
			if indegree[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}
	return out
}

type stringHeap []string

func (h stringHeap) Len() int           { return len(h) }
func (h stringHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
