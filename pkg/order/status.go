package order

// Comparison is the next question the engine needs answered. A and B are
// distinct items the graph does not yet order.
type Comparison struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Ranking is the best-effort view of a partially sorted item list.
type Ranking struct {
	// Sorted is a prefix whose order is fully determined.
	Sorted []string `json:"sorted"`
	// IncompleteSorted holds items with some order information, greater first.
	IncompleteSorted []string `json:"incompleteSorted"`
	// NotSorted holds items the graph knows nothing about.
	NotSorted []string `json:"notSorted"`
}

// SortStatus is the result of one engine step.
//
// While sorting is in progress Done is false, Comparison is set and the
// partitions carry the current best-effort ranking. Once Done, Comparison is
// nil, Sorted holds every item best first and the other partitions are empty.
type SortStatus struct {
	Done             bool        `json:"done"`
	Comparison       *Comparison `json:"comparison"`
	Sorted           []string    `json:"sorted"`
	IncompleteSorted []string    `json:"incompleteSorted"`
	NotSorted        []string    `json:"notSorted"`
}

func doneStatus(sorted []string) SortStatus {
	if sorted == nil {
		sorted = []string{}
	}
	return SortStatus{
		Done:             true,
		Sorted:           sorted,
		IncompleteSorted: []string{},
		NotSorted:        []string{},
	}
}

func pendingStatus(a, b string, r Ranking) SortStatus {
	return SortStatus{
		Comparison:       &Comparison{A: a, B: b},
		Sorted:           r.Sorted,
		IncompleteSorted: r.IncompleteSorted,
		NotSorted:        r.NotSorted,
	}
}

// Progress counts how many item pairs the graph already orders.
type Progress struct {
	Known int `json:"known"`
	Total int `json:"total"`
}

// Ratio returns Known/Total, or 1 for lists with fewer than two items.
func (p Progress) Ratio() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Known) / float64(p.Total)
}

// MeasureProgress counts ordered pairs among items, including pairs ordered
// only through items outside the list. Duplicate items count once.
func MeasureProgress(g Graph, items []string) Progress {
	uniq := dedupe(items)
	in := make(map[string]struct{}, len(uniq))
	for _, n := range uniq {
		in[n] = struct{}{}
	}
	known := 0
	for _, n := range uniq {
		for m := range reachable(g, n) {
			if _, ok := in[m]; ok {
				known++
			}
		}
	}
	return Progress{Known: known, Total: len(uniq) * (len(uniq) - 1) / 2}
}

func reachable(g Graph, start string) map[string]struct{} {
	seen := make(map[string]struct{})
	stack := append([]string(nil), g[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, g[n]...)
	}
	delete(seen, start)
	return seen
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
