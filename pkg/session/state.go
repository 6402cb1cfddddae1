package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/orneryd/pairsort/pkg/codec"
	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/storage"
)

// Export is a portable copy of a list and its order graph.
type Export struct {
	List  *storage.List `json:"list"`
	State string        `json:"state"`
}

// CanonicalDecisions returns one decision per edge of g, parents in sorted
// order and children in stored order. Folding the result rebuilds g.
func CanonicalDecisions(g order.Graph) []order.Decision {
	var out []order.Decision
	for _, parent := range slices.Sorted(maps.Keys(g)) {
		for _, child := range g[parent] {
			out = append(out, order.Decision{Larger: parent, Smaller: child})
		}
	}
	return out
}

// State encodes a list's current order graph.
func (s *Service) State(ctx context.Context, id string, format codec.Format) (string, error) {
	g, err := s.Graph(ctx, id)
	if err != nil {
		return "", err
	}
	return codec.EncodeGraph(g, format)
}

// LoadState replaces a list's decision log with the graph in an encoded
// state, as produced by State, and returns the resulting status.
func (s *Service) LoadState(ctx context.Context, id, state string) (*Status, error) {
	g, err := codec.DecodeGraph(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	err = s.mutate(id, func() error {
		if _, err := s.store.GetList(ctx, id); err != nil {
			return err
		}
		return s.store.ReplaceDecisions(ctx, id, CanonicalDecisions(g))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("state loaded", "list_id", id, "edges", g.EdgeCount())
	return s.Status(ctx, id)
}

// Export returns a list together with its encoded graph.
func (s *Service) Export(ctx context.Context, id string, format codec.Format) (*Export, error) {
	list, err := s.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := s.State(ctx, id, format)
	if err != nil {
		return nil, err
	}
	return &Export{List: list, State: state}, nil
}

// Import stores an exported list. The list keeps its ID unless that ID is
// empty or already taken, in which case a new one is assigned.
func (s *Service) Import(ctx context.Context, exp *Export) (*storage.List, error) {
	if exp == nil || exp.List == nil {
		return nil, fmt.Errorf("%w: missing list", ErrInvalidInput)
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	g, err := codec.DecodeGraph(exp.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	items, err := s.normalizeItems(exp.List.Items)
	if err != nil {
		return nil, err
	}
	strategy := s.config.DefaultStrategy
	if exp.List.Strategy != "" {
		if strategy, err = order.ParseStrategy(exp.List.Strategy); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	list := exp.List.Clone()
	list.Items = items
	list.Strategy = string(strategy)
	list.UpdatedAt = s.now()
	if list.CreatedAt.IsZero() {
		list.CreatedAt = list.UpdatedAt
	}
	if list.ID == "" {
		list.ID = uuid.NewString()
	}

	create := func() error {
		return s.mutate(list.ID, func() error {
			if err := s.store.CreateList(ctx, list); err != nil {
				return err
			}
			return s.store.ReplaceDecisions(ctx, list.ID, CanonicalDecisions(g))
		})
	}
	err = create()
	if errors.Is(err, storage.ErrAlreadyExists) || errors.Is(err, storage.ErrInvalidID) {
		list.ID = uuid.NewString()
		err = create()
	}
	if err != nil {
		return nil, err
	}

	listsCreated.Inc()
	s.logger.Info("list imported", "list_id", list.ID, "items", len(list.Items), "edges", g.EdgeCount())
	return list, nil
}
