package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/storage"
)

// CreateList stores a new list. Duplicate items are dropped after their first
// occurrence; blank items are rejected. An empty strategy selects the
// configured default.
func (s *Service) CreateList(ctx context.Context, name string, items []string, strategy string) (*storage.List, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	items, err := s.normalizeItems(items)
	if err != nil {
		return nil, err
	}
	parsed := s.config.DefaultStrategy
	if strategy != "" {
		if parsed, err = order.ParseStrategy(strategy); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	now := s.now()
	list := &storage.List{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Items:     items,
		Strategy:  string(parsed),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.mutate(list.ID, func() error {
		return s.store.CreateList(ctx, list)
	}); err != nil {
		return nil, err
	}

	listsCreated.Inc()
	s.logger.Info("list created", "list_id", list.ID, "items", len(items), "strategy", list.Strategy)
	return list, nil
}

// GetList returns a list by ID.
func (s *Service) GetList(ctx context.Context, id string) (*storage.List, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.GetList(ctx, id)
}

// Lists returns every list ordered by ID.
func (s *Service) Lists(ctx context.Context) ([]*storage.List, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.AllLists(ctx)
}

// DeleteList removes a list and its decision log.
func (s *Service) DeleteList(ctx context.Context, id string) error {
	return s.mutate(id, func() error {
		if err := s.store.DeleteList(ctx, id); err != nil {
			return err
		}
		s.logger.Info("list deleted", "list_id", id)
		return nil
	})
}

// AddItems appends items not already in the list. Existing decisions are
// kept, so the new items simply start out unsorted.
func (s *Service) AddItems(ctx context.Context, id string, items []string) (*storage.List, error) {
	items, err := s.normalizeItems(items)
	if err != nil {
		return nil, err
	}

	var updated *storage.List
	err = s.mutate(id, func() error {
		list, err := s.store.GetList(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range items {
			if !slices.Contains(list.Items, item) {
				list.Items = append(list.Items, item)
			}
		}
		if len(list.Items) > s.config.MaxItems {
			return fmt.Errorf("%w: %d exceeds the limit of %d", ErrTooManyItems, len(list.Items), s.config.MaxItems)
		}
		list.UpdatedAt = s.now()
		if err := s.store.UpdateList(ctx, list); err != nil {
			return err
		}
		updated = list
		return nil
	})
	return updated, err
}

// RemoveItems drops items from the list. Without prune the graph keeps what it
// learned about them, so re-adding an item restores its position. With prune
// each removed item is cut out of the graph (its parents inherit its children)
// and the decision log is rewritten to match.
func (s *Service) RemoveItems(ctx context.Context, id string, items []string, prune bool) (*storage.List, error) {
	var updated *storage.List
	err := s.mutate(id, func() error {
		list, err := s.store.GetList(ctx, id)
		if err != nil {
			return err
		}
		list.Items = slices.DeleteFunc(list.Items, func(item string) bool {
			return slices.Contains(items, item)
		})
		list.UpdatedAt = s.now()
		if err := s.store.UpdateList(ctx, list); err != nil {
			return err
		}
		if prune {
			if err := s.rewriteGraph(ctx, id, func(g order.Graph) order.Graph {
				for _, item := range items {
					g = order.WithRemovedNode(g, item)
				}
				return g
			}); err != nil {
				return err
			}
		}
		updated = list
		return nil
	})
	return updated, err
}

// ClearItemOrder forgets everything known about one item's position while
// keeping the order among the others, then returns the new status.
func (s *Service) ClearItemOrder(ctx context.Context, id, item string) (*Status, error) {
	err := s.mutate(id, func() error {
		list, err := s.store.GetList(ctx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(list.Items, item) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidInput, order.ErrUnknownItem, item)
		}
		return s.rewriteGraph(ctx, id, func(g order.Graph) order.Graph {
			return order.WithRemovedNode(g, item)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Status(ctx, id)
}

// rewriteGraph replaces a list's decision log with the canonical log of
// transform(current graph). Caller must hold the list lock.
func (s *Service) rewriteGraph(ctx context.Context, id string, transform func(order.Graph) order.Graph) error {
	log, err := s.store.Decisions(ctx, id)
	if err != nil {
		return err
	}
	g := transform(order.FoldDecisions(log))
	return s.store.ReplaceDecisions(ctx, id, CanonicalDecisions(g))
}

func (s *Service) normalizeItems(items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			return nil, fmt.Errorf("%w: blank item", ErrInvalidInput)
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	if len(out) > s.config.MaxItems {
		return nil, fmt.Errorf("%w: %d exceeds the limit of %d", ErrTooManyItems, len(out), s.config.MaxItems)
	}
	return out, nil
}
