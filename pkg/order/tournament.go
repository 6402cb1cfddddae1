package order

import (
	"log/slog"
	"slices"
)

// DefaultImbalanceRatio is the largest size ratio between the two smallest
// groups that tournament pairing still accepts.
const DefaultImbalanceRatio = 2.0

// TournamentSort pairs the roots of the two smallest groups of unsorted items.
// It uses the default imbalance ratio and logs through slog.Default.
func TournamentSort(g Graph, items []string) SortStatus {
	return tournamentSort(g, items, DefaultImbalanceRatio, slog.Default())
}

func tournamentSort(g Graph, items []string, ratio float64, logger *slog.Logger) SortStatus {
	ranking := BestSorts(g, items)
	if len(ranking.Sorted) == len(dedupe(items)) {
		return doneStatus(ranking.Sorted)
	}

	rest := make([]string, 0, len(ranking.IncompleteSorted)+len(ranking.NotSorted))
	rest = append(rest, ranking.IncompleteSorted...)
	rest = append(rest, ranking.NotSorted...)
	sub := SubgraphForNodes(g, rest)

	groups := FindTopNodesWithGroups(sub, rest)
	// Among groups of equal size the one discovered last goes first.
	slices.Reverse(groups)
	slices.SortStableFunc(groups, func(a, b Group) int {
		return len(a.Connected) - len(b.Connected)
	})

	if len(groups) < 2 {
		logger.Warn("tournament sort found fewer than two groups, falling back to heap sort",
			"items", len(items),
			"sorted", len(ranking.Sorted),
			"groups", len(groups))
		return HeapSort(g, items)
	}
	if float64(len(groups[1].Connected)) > ratio*float64(len(groups[0].Connected)) {
		return HeapSort(g, items)
	}
	return pendingStatus(groups[0].Root, groups[1].Root, ranking)
}
