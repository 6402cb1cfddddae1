// Package storage persists lists and their decision logs for pairsort.
//
// A list is a named set of items to rank. Its decision log is the append-only
// history of answered comparisons; the order graph is never stored, it is
// folded from the log on demand (see order.FoldDecisions). Keeping the raw log
// instead of the graph makes undo a truncation and lets every engine use the
// same replay path.
//
// Implementations:
//   - MemoryEngine: maps guarded by a RWMutex, for tests and ephemeral servers
//   - BadgerEngine: persistent BadgerDB storage with one transaction per call
//   - WALEngine: wraps any Engine and records each mutation in a write-ahead
//     log so a MemoryEngine can be rebuilt after a restart
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	list := &storage.List{ID: "films", Name: "Best films", Items: []string{"Alien", "Heat"}}
//	if err := engine.CreateList(ctx, list); err != nil {
//		return err
//	}
//	engine.AppendDecision(ctx, "films", order.Decision{Larger: "Heat", Smaller: "Alien"})
//
//	log, _ := engine.Decisions(ctx, "films")
//	g := order.FoldDecisions(log)
package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/orneryd/pairsort/pkg/order"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageClosed = errors.New("storage closed")
)

// List is a named collection of items being ranked.
//
// Items keeps insertion order. That order is the initial heap layout for the
// heap strategy, so it changes which questions are asked but never the final
// ranking.
type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Items     []string  `json:"items"`
	Strategy  string    `json:"strategy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of l.
func (l *List) Clone() *List {
	if l == nil {
		return nil
	}
	c := *l
	c.Items = slices.Clone(l.Items)
	return &c
}

// Engine stores lists and their decision logs. All implementations are safe
// for concurrent use.
type Engine interface {
	// List operations
	CreateList(ctx context.Context, list *List) error
	GetList(ctx context.Context, id string) (*List, error)
	UpdateList(ctx context.Context, list *List) error
	// DeleteList removes the list and its decision log.
	DeleteList(ctx context.Context, id string) error
	// AllLists returns every list ordered by ID.
	AllLists(ctx context.Context) ([]*List, error)

	// Decision log operations
	AppendDecision(ctx context.Context, listID string, d order.Decision) error
	Decisions(ctx context.Context, listID string) ([]order.Decision, error)
	// PopDecision removes and returns the newest decision. It returns
	// ErrNotFound when the log is empty.
	PopDecision(ctx context.Context, listID string) (order.Decision, error)
	// ReplaceDecisions swaps the whole log, e.g. after compaction or reset.
	ReplaceDecisions(ctx context.Context, listID string, decisions []order.Decision) error

	// Lifecycle
	Close() error

	// Stats
	ListCount(ctx context.Context) (int64, error)
	DecisionCount(ctx context.Context) (int64, error)
}

// validateList checks the fields every engine relies on.
func validateList(list *List) error {
	if list == nil {
		return ErrInvalidData
	}
	return validateID(list.ID)
}

// validateID rejects identifiers that would break key encoding.
func validateID(id string) error {
	if id == "" || strings.ContainsRune(id, 0) {
		return ErrInvalidID
	}
	return nil
}

func validateDecision(d order.Decision) error {
	if d.Larger == d.Smaller {
		return ErrInvalidData
	}
	return nil
}

// GraphFor loads the decision log of a list and folds it into a graph.
func GraphFor(ctx context.Context, engine Engine, listID string) (order.Graph, error) {
	decisions, err := engine.Decisions(ctx, listID)
	if err != nil {
		return nil, err
	}
	return order.FoldDecisions(decisions), nil
}
