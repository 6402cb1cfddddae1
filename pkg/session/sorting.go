package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orneryd/pairsort/pkg/cache"
	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/storage"
)

// Status is one sort step for a list plus bookkeeping for clients.
// The embedded SortStatus fields are flattened in JSON.
type Status struct {
	ListID   string         `json:"listId"`
	Strategy order.Strategy `json:"strategy"`
	order.SortStatus
	Progress  order.Progress `json:"progress"`
	Decisions int            `json:"decisions"`
	// ETag identifies this exact status. It changes whenever the list, the
	// graph or the strategy does.
	ETag string `json:"etag"`
}

// DecisionResult reports how a decision was applied and what comes next.
type DecisionResult struct {
	Outcome order.Outcome `json:"outcome"`
	Status  *Status       `json:"status"`
}

// Status computes the current sort step of a list.
func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	list, err := s.store.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	log, err := s.store.Decisions(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.status(list, log), nil
}

func (s *Service) status(list *storage.List, log []order.Decision) *Status {
	g := order.FoldDecisions(log)
	engine := s.engineFor(list)
	key := cache.Digest(engine, list.Items, g)

	st, cached := s.cache.GetOrCompute(key, func() order.SortStatus {
		start := time.Now()
		defer func() {
			statusDuration.WithLabelValues(string(engine.Strategy)).Observe(time.Since(start).Seconds())
		}()
		return engine.Sort(g, list.Items)
	})
	if cached {
		statusCacheLookups.WithLabelValues("hit").Inc()
	} else {
		statusCacheLookups.WithLabelValues("miss").Inc()
	}

	return &Status{
		ListID:     list.ID,
		Strategy:   engine.Strategy,
		SortStatus: st,
		Progress:   order.MeasureProgress(g, list.Items),
		Decisions:  len(log),
		ETag:       key,
	}
}

// Decide records the answer to a comparison and returns the next step.
//
// Both items must belong to the list. Decisions that add no information
// (already implied, or contradicting what is known) are not stored; a
// contradiction fails with ErrContradiction when RejectContradictions is set
// and is otherwise reported through the outcome only.
func (s *Service) Decide(ctx context.Context, id string, d order.Decision) (*DecisionResult, error) {
	var result *DecisionResult
	err := s.mutate(id, func() error {
		list, err := s.store.GetList(ctx, id)
		if err != nil {
			return err
		}
		if err := order.Validate(list.Items, d); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		log, err := s.store.Decisions(ctx, id)
		if err != nil {
			return err
		}

		_, outcome := order.ApplyDecision(order.FoldDecisions(log), d)
		decisionsTotal.WithLabelValues(string(outcome)).Inc()

		switch {
		case outcome == order.OutcomeContradiction && s.config.RejectContradictions:
			return fmt.Errorf("%w: %q > %q", ErrContradiction, d.Larger, d.Smaller)
		case outcome.Changed():
			if err := s.store.AppendDecision(ctx, id, d); err != nil {
				return err
			}
			log = append(log, d)
		default:
			s.logger.Debug("decision not recorded", "list_id", id, "outcome", outcome,
				"larger", d.Larger, "smaller", d.Smaller)
		}

		result = &DecisionResult{Outcome: outcome, Status: s.status(list, log)}
		return nil
	})
	return result, err
}

// Undo drops the most recent recorded decision and returns the new step.
func (s *Service) Undo(ctx context.Context, id string) (*Status, error) {
	var status *Status
	err := s.mutate(id, func() error {
		list, err := s.store.GetList(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.store.PopDecision(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNothingToUndo
			}
			return err
		}
		undoTotal.Inc()

		log, err := s.store.Decisions(ctx, id)
		if err != nil {
			return err
		}
		status = s.status(list, log)
		return nil
	})
	return status, err
}

// Reset clears a list's decision log.
func (s *Service) Reset(ctx context.Context, id string) (*Status, error) {
	var status *Status
	err := s.mutate(id, func() error {
		list, err := s.store.GetList(ctx, id)
		if err != nil {
			return err
		}
		if err := s.store.ReplaceDecisions(ctx, id, nil); err != nil {
			return err
		}
		s.logger.Info("decisions reset", "list_id", id)
		status = s.status(list, nil)
		return nil
	})
	return status, err
}

// Graph returns the order graph folded from a list's decision log.
func (s *Service) Graph(ctx context.Context, id string) (order.Graph, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return storage.GraphFor(ctx, s.store, id)
}

// Decisions returns a list's decision log, oldest first.
func (s *Service) Decisions(ctx context.Context, id string) ([]order.Decision, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.Decisions(ctx, id)
}
