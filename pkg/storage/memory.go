package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/orneryd/pairsort/pkg/order"
)

// MemoryEngine is a thread-safe in-memory Engine.
//
// Lists are deep-copied on the way in and on the way out, so callers can never
// mutate stored state through a returned pointer.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.CreateList(ctx, &storage.List{ID: "l1", Items: []string{"a", "b"}})
//	lists, _ := engine.AllLists(ctx)
//	fmt.Printf("Found %d lists\n", len(lists))
type MemoryEngine struct {
	mu        sync.RWMutex
	lists     map[string]*List
	decisions map[string][]order.Decision

	closed bool
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		lists:     make(map[string]*List),
		decisions: make(map[string][]order.Decision),
	}
}

// CreateList stores a new list.
func (m *MemoryEngine) CreateList(ctx context.Context, list *List) error {
	if err := validateList(list); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.lists[list.ID]; exists {
		return ErrAlreadyExists
	}
	m.lists[list.ID] = list.Clone()
	return nil
}

// GetList returns a copy of the list.
func (m *MemoryEngine) GetList(ctx context.Context, id string) (*List, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	list, ok := m.lists[id]
	if !ok {
		return nil, ErrNotFound
	}
	return list.Clone(), nil
}

// UpdateList replaces an existing list.
func (m *MemoryEngine) UpdateList(ctx context.Context, list *List) error {
	if err := validateList(list); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.lists[list.ID]; !ok {
		return ErrNotFound
	}
	m.lists[list.ID] = list.Clone()
	return nil
}

// DeleteList removes a list and its decision log.
func (m *MemoryEngine) DeleteList(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.lists[id]; !ok {
		return ErrNotFound
	}
	delete(m.lists, id)
	delete(m.decisions, id)
	return nil
}

// AllLists returns copies of every list ordered by ID.
func (m *MemoryEngine) AllLists(ctx context.Context) ([]*List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	lists := make([]*List, 0, len(m.lists))
	for _, l := range m.lists {
		lists = append(lists, l.Clone())
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].ID < lists[j].ID })
	return lists, nil
}

// AppendDecision adds d to the end of the list's log.
func (m *MemoryEngine) AppendDecision(ctx context.Context, listID string, d order.Decision) error {
	if err := validateID(listID); err != nil {
		return err
	}
	if err := validateDecision(d); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.lists[listID]; !ok {
		return ErrNotFound
	}
	m.decisions[listID] = append(m.decisions[listID], d)
	return nil
}

// Decisions returns a copy of the list's log, oldest first.
func (m *MemoryEngine) Decisions(ctx context.Context, listID string) ([]order.Decision, error) {
	if err := validateID(listID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.lists[listID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]order.Decision, len(m.decisions[listID]))
	copy(out, m.decisions[listID])
	return out, nil
}

// PopDecision removes the newest decision.
func (m *MemoryEngine) PopDecision(ctx context.Context, listID string) (order.Decision, error) {
	if err := validateID(listID); err != nil {
		return order.Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return order.Decision{}, ErrStorageClosed
	}
	if _, ok := m.lists[listID]; !ok {
		return order.Decision{}, ErrNotFound
	}
	log := m.decisions[listID]
	if len(log) == 0 {
		return order.Decision{}, ErrNotFound
	}
	last := log[len(log)-1]
	m.decisions[listID] = log[:len(log)-1]
	return last, nil
}

// ReplaceDecisions swaps the list's log for decisions.
func (m *MemoryEngine) ReplaceDecisions(ctx context.Context, listID string, decisions []order.Decision) error {
	if err := validateID(listID); err != nil {
		return err
	}
	for _, d := range decisions {
		if err := validateDecision(d); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.lists[listID]; !ok {
		return ErrNotFound
	}
	if len(decisions) == 0 {
		delete(m.decisions, listID)
		return nil
	}
	m.decisions[listID] = append([]order.Decision(nil), decisions...)
	return nil
}

// Close marks the engine closed. Later calls return ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ListCount returns the number of lists.
func (m *MemoryEngine) ListCount(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.lists)), nil
}

// DecisionCount returns the number of stored decisions across all lists.
func (m *MemoryEngine) DecisionCount(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	var n int64
	for _, log := range m.decisions {
		n += int64(len(log))
	}
	return n, nil
}

var _ Engine = (*MemoryEngine)(nil)
