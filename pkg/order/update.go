package order

// Decision is one answered comparison: Larger was judged greater than Smaller.
type Decision struct {
	Larger  string `json:"larger"`
	Smaller string `json:"smaller"`
}

// Outcome describes what applying a Decision did to a graph.
type Outcome string

const (
	// OutcomeApplied means a new edge was recorded.
	OutcomeApplied Outcome = "applied"
	// OutcomeRedundant means the graph already implied the decision.
	OutcomeRedundant Outcome = "redundant"
	// OutcomeSelfComparison means Larger and Smaller were the same item.
	OutcomeSelfComparison Outcome = "self_comparison"
	// OutcomeContradiction means the graph already implied the opposite order.
	OutcomeContradiction Outcome = "contradiction"
)

// Changed reports whether the outcome produced a different graph.
func (o Outcome) Changed() bool {
	return o == OutcomeApplied
}

// ApplyDecision merges d into g and reports what happened.
//
// Self comparisons and contradictions leave g untouched. A decision the graph
// already implies is also a no-op, since the reduced graph would not change.
// Otherwise the edge Larger→Smaller is added and the result is transitively
// reduced again. The input graph is never mutated.
func ApplyDecision(g Graph, d Decision) (Graph, Outcome) {
	if d.Larger == d.Smaller {
		return g, OutcomeSelfComparison
	}
	if IsDescendant(g, d.Smaller, d.Larger) {
		return g, OutcomeContradiction
	}
	if IsDescendant(g, d.Larger, d.Smaller) {
		return g, OutcomeRedundant
	}
	return TransitiveReduction(WithEdge(g, d.Larger, d.Smaller)), OutcomeApplied
}

// CacheWithUpdate records that larger is greater than smaller.
//
// Self comparisons and decisions contradicting what g already knows are
// silently dropped. Use ApplyDecision to tell those cases apart.
func CacheWithUpdate(g Graph, larger, smaller string) Graph {
	out, _ := ApplyDecision(g, Decision{Larger: larger, Smaller: smaller})
	return out
}

// FoldDecisions replays a decision log onto an empty graph.
func FoldDecisions(decisions []Decision) Graph {
	g := Graph{}
	for _, d := range decisions {
		g, _ = ApplyDecision(g, d)
	}
	return g
}
