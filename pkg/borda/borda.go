// Package borda merges several finished rankings into one.
//
// Two position-based methods are supported:
//
//   - Borda count (default): in a ranking of m items the item at position p
//     (0-based) scores m-1-p. Items missing from a ranking score nothing there.
//   - Reciprocal Rank Fusion: score = Σ 1/(k + rank) with 1-based rank,
//     k defaulting to 60. Flatter than Borda, so one enthusiastic voter moves
//     the result less.
//
// Results are ordered by score, highest first, ties broken by item name.
//
// Example:
//
//	results, err := borda.Aggregate([][]string{
//		{"Heat", "Alien", "Ran"},
//		{"Alien", "Heat"},
//	})
//	// Alien 1+1=2, Heat 2+0=2, Ran 0: ["Alien", "Heat", "Ran"]
package borda

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Errors returned by Aggregate.
var (
	ErrNoRankings    = errors.New("borda: no rankings")
	ErrDuplicateItem = errors.New("borda: item appears twice in one ranking")
	ErrBlankItem     = errors.New("borda: blank item")
	ErrUnknownMethod = errors.New("borda: unknown method")
)

// Method selects the scoring rule.
type Method string

const (
	MethodBorda Method = "borda"
	MethodRRF   Method = "rrf"
)

// DefaultRRFK is the RRF smoothing constant.
const DefaultRRFK = 60.0

// Options configures AggregateWith.
type Options struct {
	Method Method
	// RRFK is used by MethodRRF. Zero means DefaultRRFK.
	RRFK float64
}

// Result is one item of the merged ranking.
type Result struct {
	Item  string  `json:"item"`
	Score float64 `json:"score"`
	// Appearances counts the rankings that contain the item.
	Appearances int `json:"appearances"`
	// BestRank is the item's best 1-based position in any ranking.
	BestRank int `json:"bestRank"`
}

// ParseMethod maps a name to a Method. The empty string selects MethodBorda.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(MethodBorda):
		return MethodBorda, nil
	case string(MethodRRF):
		return MethodRRF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Aggregate merges rankings with the Borda count.
func Aggregate(rankings [][]string) ([]Result, error) {
	return AggregateWith(rankings, Options{Method: MethodBorda})
}

// AggregateWith merges rankings with the configured method. Each ranking is
// best first and must not repeat an item; empty rankings are allowed.
func AggregateWith(rankings [][]string, opts Options) ([]Result, error) {
	if len(rankings) == 0 {
		return nil, ErrNoRankings
	}
	method := opts.Method
	if method == "" {
		method = MethodBorda
	}
	if method != MethodBorda && method != MethodRRF {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	k := opts.RRFK
	if k <= 0 {
		k = DefaultRRFK
	}

	byItem := make(map[string]*Result)
	for i, ranking := range rankings {
		seen := make(map[string]struct{}, len(ranking))
		m := len(ranking)
		for p, item := range ranking {
			if strings.TrimSpace(item) == "" {
				return nil, fmt.Errorf("%w: ranking %d position %d", ErrBlankItem, i, p+1)
			}
			if _, dup := seen[item]; dup {
				return nil, fmt.Errorf("%w: %q in ranking %d", ErrDuplicateItem, item, i)
			}
			seen[item] = struct{}{}

			r, ok := byItem[item]
			if !ok {
				r = &Result{Item: item, BestRank: p + 1}
				byItem[item] = r
			}
			r.Appearances++
			r.BestRank = min(r.BestRank, p+1)
			switch method {
			case MethodRRF:
				r.Score += 1 / (k + float64(p+1))
			default:
				r.Score += float64(m - 1 - p)
			}
		}
	}

	results := make([]Result, 0, len(byItem))
	for _, r := range byItem {
		results = append(results, *r)
	}
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Item, b.Item)
	})
	return results, nil
}

// Items returns the item names of results in order.
func Items(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Item
	}
	return out
}
