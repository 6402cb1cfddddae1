package order

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Errors returned by Validate and ParseStrategy.
var (
	ErrSelfComparison  = errors.New("item cannot be compared with itself")
	ErrUnknownItem     = errors.New("item is not in the list")
	ErrUnknownStrategy = errors.New("unknown sort strategy")
)

// Strategy selects which resumable algorithm picks the next comparison.
type Strategy string

const (
	// StrategyHeap replays heapsort. Predictable, O(n log n) questions.
	StrategyHeap Strategy = "heap"
	// StrategyTournament pairs the best items of small groups first and falls
	// back to heapsort when the groups are badly unbalanced.
	StrategyTournament Strategy = "tournament"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyHeap, StrategyTournament}

// ParseStrategy maps a name to a Strategy. The empty string selects
// StrategyHeap.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StrategyHeap), "heapsort":
		return StrategyHeap, nil
	case string(StrategyTournament):
		return StrategyTournament, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Engine computes sort steps with a fixed strategy.
type Engine struct {
	Strategy Strategy
	// ImbalanceRatio is used by StrategyTournament. Zero means
	// DefaultImbalanceRatio.
	ImbalanceRatio float64
	// Logger receives tournament fallback warnings. Nil means slog.Default.
	Logger *slog.Logger
}

// DefaultEngine returns a heapsort engine.
func DefaultEngine() Engine {
	return Engine{Strategy: StrategyHeap, ImbalanceRatio: DefaultImbalanceRatio}
}

// Sort runs one step of the configured strategy.
func (e Engine) Sort(g Graph, items []string) SortStatus {
	switch e.Strategy {
	case StrategyTournament:
		ratio := e.ImbalanceRatio
		if ratio <= 0 {
			ratio = DefaultImbalanceRatio
		}
		logger := e.Logger
		if logger == nil {
			logger = slog.Default()
		}
		return tournamentSort(g, items, ratio, logger)
	default:
		return HeapSort(g, items)
	}
}

// Validate checks that d compares two different members of items.
func Validate(items []string, d Decision) error {
	if d.Larger == d.Smaller {
		return fmt.Errorf("%w: %q", ErrSelfComparison, d.Larger)
	}
	for _, id := range []string{d.Larger, d.Smaller} {
		if !slices.Contains(items, id) {
			return fmt.Errorf("%w: %q", ErrUnknownItem, id)
		}
	}
	return nil
}
