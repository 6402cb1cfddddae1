package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/pairsort/pkg/codec"
	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestService(t *testing.T, mutate ...func(*Config)) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = quiet
	for _, m := range mutate {
		m(cfg)
	}
	svc := New(storage.NewMemoryEngine(), cfg)
	t.Cleanup(func() { svc.Close() })
	return svc
}

// byNumber answers a comparison by numeric value.
func byNumber(c *order.Comparison) order.Decision {
	a, _ := strconv.Atoi(c.A)
	b, _ := strconv.Atoi(c.B)
	if a > b {
		return order.Decision{Larger: c.A, Smaller: c.B}
	}
	return order.Decision{Larger: c.B, Smaller: c.A}
}

// finish answers every comparison of a list until it is sorted.
func finish(t *testing.T, svc *Service, id string) *Status {
	t.Helper()
	ctx := context.Background()
	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	for i := 0; !st.Done; i++ {
		require.Less(t, i, 200, "sort did not terminate")
		res, err := svc.Decide(ctx, id, byNumber(st.Comparison))
		require.NoError(t, err)
		require.Equal(t, order.OutcomeApplied, res.Outcome)
		st = res.Status
	}
	return st
}

func decideAll(t *testing.T, svc *Service, id string, ds ...order.Decision) {
	t.Helper()
	for _, d := range ds {
		_, err := svc.Decide(context.Background(), id, d)
		require.NoError(t, err)
	}
}

// =============================================================================
// Lists
// =============================================================================

func TestService_CreateList(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, func(c *Config) { c.MaxItems = 4 })

	t.Run("dedupes_and_defaults", func(t *testing.T) {
		list, err := svc.CreateList(ctx, "  Films ", []string{"b", "a", "b", "c"}, "")
		require.NoError(t, err)
		assert.NotEmpty(t, list.ID)
		assert.Equal(t, "Films", list.Name)
		assert.Equal(t, []string{"b", "a", "c"}, list.Items)
		assert.Equal(t, string(order.StrategyHeap), list.Strategy)
		assert.False(t, list.CreatedAt.IsZero())

		got, err := svc.GetList(ctx, list.ID)
		require.NoError(t, err)
		assert.Equal(t, list, got)
	})

	t.Run("strategy", func(t *testing.T) {
		list, err := svc.CreateList(ctx, "t", []string{"a"}, "Tournament")
		require.NoError(t, err)
		assert.Equal(t, "tournament", list.Strategy)

		_, err = svc.CreateList(ctx, "x", []string{"a"}, "bogo")
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, order.ErrUnknownStrategy)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := svc.CreateList(ctx, "x", []string{"a", " "}, "")
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = svc.CreateList(ctx, "x", []string{"1", "2", "3", "4", "5"}, "")
		assert.ErrorIs(t, err, ErrTooManyItems)

		_, err = svc.CreateList(ctx, "x", []string{"1", "2", "3", "4", "4"}, "")
		assert.NoError(t, err, "duplicates do not count against the limit")
	})

	t.Run("lists_and_delete", func(t *testing.T) {
		lists, err := svc.Lists(ctx)
		require.NoError(t, err)
		assert.Len(t, lists, 3)

		require.NoError(t, svc.DeleteList(ctx, lists[0].ID))
		_, err = svc.GetList(ctx, lists[0].ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, svc.DeleteList(ctx, lists[0].ID), storage.ErrNotFound)
	})
}

// =============================================================================
// Sorting
// =============================================================================

func TestService_HeapFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	list, err := svc.CreateList(ctx, "numbers", []string{"3", "4", "1", "2"}, "heap")
	require.NoError(t, err)

	st, err := svc.Status(ctx, list.ID)
	require.NoError(t, err)
	assert.False(t, st.Done)
	assert.Equal(t, &order.Comparison{A: "4", B: "2"}, st.Comparison)
	assert.Equal(t, order.Progress{Known: 0, Total: 6}, st.Progress)
	assert.Equal(t, list.ID, st.ListID)
	assert.Equal(t, order.StrategyHeap, st.Strategy)

	final := finish(t, svc, list.ID)
	assert.Equal(t, []string{"4", "3", "2", "1"}, final.Sorted)
	assert.Empty(t, final.IncompleteSorted)
	assert.Empty(t, final.NotSorted)
	assert.Nil(t, final.Comparison)
	assert.Equal(t, 6, final.Decisions)
	assert.Equal(t, order.Progress{Known: 6, Total: 6}, final.Progress)

	g, err := svc.Graph(ctx, list.ID)
	require.NoError(t, err)
	assert.True(t, order.Equal(order.Graph{"4": {"3"}, "3": {"2"}, "2": {"1"}}, g))
}

func TestService_TournamentFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	items := make([]string, 14)
	for i := range items {
		items[i] = strconv.Itoa(i + 1)
	}
	list, err := svc.CreateList(ctx, "fourteen", items, "tournament")
	require.NoError(t, err)

	final := finish(t, svc, list.ID)
	assert.Equal(t, 31, final.Decisions)
	assert.Equal(t, "14", final.Sorted[0])
	assert.Equal(t, "1", final.Sorted[13])
}

func TestService_Decide(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		svc := newTestService(t)
		list, err := svc.CreateList(ctx, "l", []string{"1", "2"}, "")
		require.NoError(t, err)

		_, err = svc.Decide(ctx, list.ID, order.Decision{Larger: "1", Smaller: "9"})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, order.ErrUnknownItem)

		_, err = svc.Decide(ctx, list.ID, order.Decision{Larger: "1", Smaller: "1"})
		assert.ErrorIs(t, err, order.ErrSelfComparison)

		_, err = svc.Decide(ctx, "missing", order.Decision{Larger: "1", Smaller: "2"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("redundant_is_not_stored", func(t *testing.T) {
		svc := newTestService(t)
		list, err := svc.CreateList(ctx, "l", []string{"1", "2", "3"}, "")
		require.NoError(t, err)
		decideAll(t, svc, list.ID,
			order.Decision{Larger: "3", Smaller: "2"},
			order.Decision{Larger: "2", Smaller: "1"})

		res, err := svc.Decide(ctx, list.ID, order.Decision{Larger: "3", Smaller: "1"})
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeRedundant, res.Outcome)
		assert.Equal(t, 2, res.Status.Decisions)
		assert.True(t, res.Status.Done)
	})

	t.Run("contradiction_is_reported", func(t *testing.T) {
		svc := newTestService(t)
		list, err := svc.CreateList(ctx, "l", []string{"1", "2", "3"}, "")
		require.NoError(t, err)
		decideAll(t, svc, list.ID, order.Decision{Larger: "2", Smaller: "1"})

		res, err := svc.Decide(ctx, list.ID, order.Decision{Larger: "1", Smaller: "2"})
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeContradiction, res.Outcome)
		assert.Equal(t, 1, res.Status.Decisions)
	})

	t.Run("contradiction_is_rejected_when_configured", func(t *testing.T) {
		svc := newTestService(t, func(c *Config) { c.RejectContradictions = true })
		list, err := svc.CreateList(ctx, "l", []string{"1", "2", "3"}, "")
		require.NoError(t, err)
		decideAll(t, svc, list.ID,
			order.Decision{Larger: "3", Smaller: "2"},
			order.Decision{Larger: "2", Smaller: "1"})

		_, err = svc.Decide(ctx, list.ID, order.Decision{Larger: "1", Smaller: "3"})
		assert.ErrorIs(t, err, ErrContradiction)

		log, err := svc.Decisions(ctx, list.ID)
		require.NoError(t, err)
		assert.Len(t, log, 2)
	})
}

func TestService_UndoReset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	list, err := svc.CreateList(ctx, "l", []string{"3", "4", "1", "2"}, "")
	require.NoError(t, err)

	_, err = svc.Undo(ctx, list.ID)
	assert.ErrorIs(t, err, ErrNothingToUndo)
	_, err = svc.Undo(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first, err := svc.Status(ctx, list.ID)
	require.NoError(t, err)
	res, err := svc.Decide(ctx, list.ID, byNumber(first.Comparison))
	require.NoError(t, err)
	assert.NotEqual(t, first.Comparison, res.Status.Comparison)

	undone, err := svc.Undo(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Comparison, undone.Comparison)
	assert.Equal(t, 0, undone.Decisions)
	assert.Equal(t, first.ETag, undone.ETag)

	finish(t, svc, list.ID)
	reset, err := svc.Reset(ctx, list.ID)
	require.NoError(t, err)
	assert.False(t, reset.Done)
	assert.Equal(t, 0, reset.Decisions)
	assert.Equal(t, first.Comparison, reset.Comparison)
}

func TestService_StatusCache(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	list, err := svc.CreateList(ctx, "l", []string{"1", "2", "3"}, "")
	require.NoError(t, err)

	a, err := svc.Status(ctx, list.ID)
	require.NoError(t, err)
	b, err := svc.Status(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ETag, b.ETag)
	assert.Len(t, a.ETag, 64)
	assert.GreaterOrEqual(t, svc.CacheStats().Hits, uint64(1))

	res, err := svc.Decide(ctx, list.ID, byNumber(a.Comparison))
	require.NoError(t, err)
	assert.NotEqual(t, a.ETag, res.Status.ETag)

	t.Run("disabled", func(t *testing.T) {
		svc := newTestService(t, func(c *Config) { c.CacheSize = -1 })
		list, err := svc.CreateList(ctx, "l", []string{"1", "2"}, "")
		require.NoError(t, err)
		_, err = svc.Status(ctx, list.ID)
		require.NoError(t, err)
		_, err = svc.Status(ctx, list.ID)
		require.NoError(t, err)
		assert.Zero(t, svc.CacheStats().Hits)
	})
}

// =============================================================================
// Item changes
// =============================================================================

func TestService_Items(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, mutate ...func(*Config)) (*Service, string) {
		svc := newTestService(t, mutate...)
		list, err := svc.CreateList(ctx, "l", []string{"3", "4", "1", "2"}, "")
		require.NoError(t, err)
		finish(t, svc, list.ID)
		return svc, list.ID
	}

	t.Run("add", func(t *testing.T) {
		svc, id := setup(t)
		list, err := svc.AddItems(ctx, id, []string{"5", "4"})
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "4", "1", "2", "5"}, list.Items)

		st, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.False(t, st.Done)
		assert.Contains(t, []string{st.Comparison.A, st.Comparison.B}, "5")
		assert.Equal(t, []string{"5"}, st.NotSorted)

		final := finish(t, svc, id)
		assert.Equal(t, []string{"5", "4", "3", "2", "1"}, final.Sorted)
	})

	t.Run("add_over_limit", func(t *testing.T) {
		svc, id := setup(t, func(c *Config) { c.MaxItems = 5 })
		_, err := svc.AddItems(ctx, id, []string{"5", "6"})
		assert.ErrorIs(t, err, ErrTooManyItems)

		list, err := svc.GetList(ctx, id)
		require.NoError(t, err)
		assert.Len(t, list.Items, 4, "failed add leaves the list untouched")
	})

	t.Run("remove_keeps_graph", func(t *testing.T) {
		svc, id := setup(t)
		list, err := svc.RemoveItems(ctx, id, []string{"3"}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"4", "1", "2"}, list.Items)

		st, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.True(t, st.Done)
		assert.Equal(t, []string{"4", "2", "1"}, st.Sorted)

		g, err := svc.Graph(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, g, "3")
	})

	t.Run("remove_with_prune", func(t *testing.T) {
		svc, id := setup(t)
		_, err := svc.RemoveItems(ctx, id, []string{"3"}, true)
		require.NoError(t, err)

		g, err := svc.Graph(ctx, id)
		require.NoError(t, err)
		assert.True(t, order.Equal(order.Graph{"4": {"2"}, "2": {"1"}}, g))

		st, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"4", "2", "1"}, st.Sorted)
		assert.Equal(t, 2, st.Decisions)
	})

	t.Run("clear_item_order", func(t *testing.T) {
		svc := newTestService(t)
		list, err := svc.CreateList(ctx, "chain", []string{"a", "b", "c", "d", "e"}, "")
		require.NoError(t, err)
		decideAll(t, svc, list.ID,
			order.Decision{Larger: "a", Smaller: "b"},
			order.Decision{Larger: "b", Smaller: "c"},
			order.Decision{Larger: "c", Smaller: "d"},
			order.Decision{Larger: "d", Smaller: "e"})

		st, err := svc.ClearItemOrder(ctx, list.ID, "b")
		require.NoError(t, err)
		assert.False(t, st.Done)
		assert.Equal(t, []string{"b"}, st.NotSorted)
		assert.Equal(t, 3, st.Decisions)

		g, err := svc.Graph(ctx, list.ID)
		require.NoError(t, err)
		assert.True(t, order.Equal(order.Graph{"a": {"c"}, "c": {"d"}, "d": {"e"}}, g))

		_, err = svc.ClearItemOrder(ctx, list.ID, "z")
		assert.ErrorIs(t, err, order.ErrUnknownItem)
	})
}

// =============================================================================
// State, export, import
// =============================================================================

func TestCanonicalDecisions(t *testing.T) {
	g := order.Graph{"b": {"d", "c"}, "a": {"b"}}
	ds := CanonicalDecisions(g)
	assert.Equal(t, []order.Decision{
		{Larger: "a", Smaller: "b"},
		{Larger: "b", Smaller: "d"},
		{Larger: "b", Smaller: "c"},
	}, ds)
	assert.Equal(t, g, order.FoldDecisions(ds))
	assert.Empty(t, CanonicalDecisions(order.Graph{}))
}

func TestService_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	list, err := svc.CreateList(ctx, "l", []string{"3", "4", "1", "2"}, "")
	require.NoError(t, err)
	decideAll(t, svc, list.ID,
		order.Decision{Larger: "4", Smaller: "2"},
		order.Decision{Larger: "3", Smaller: "4"})
	before, err := svc.Status(ctx, list.ID)
	require.NoError(t, err)

	for _, format := range []codec.Format{codec.FormatJSON, codec.FormatCompact} {
		t.Run(string(format), func(t *testing.T) {
			state, err := svc.State(ctx, list.ID, format)
			require.NoError(t, err)

			_, err = svc.Reset(ctx, list.ID)
			require.NoError(t, err)

			after, err := svc.LoadState(ctx, list.ID, state)
			require.NoError(t, err)
			assert.Equal(t, before.SortStatus, after.SortStatus)
			assert.Equal(t, before.ETag, after.ETag)
		})
	}

	t.Run("bad_state", func(t *testing.T) {
		_, err := svc.LoadState(ctx, list.ID, `j{"a":["b"],"b":["a"]}`)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, codec.ErrCyclicGraph)

		_, err = svc.LoadState(ctx, "missing", "j{}")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestService_ExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestService(t)
	list, err := src.CreateList(ctx, "numbers", []string{"3", "4", "1", "2"}, "tournament")
	require.NoError(t, err)
	decideAll(t, src, list.ID, order.Decision{Larger: "4", Smaller: "3"})

	exp, err := src.Export(ctx, list.ID, codec.FormatCompact)
	require.NoError(t, err)
	assert.Equal(t, list.ID, exp.List.ID)

	t.Run("keeps_id_when_free", func(t *testing.T) {
		dst := newTestService(t)
		imported, err := dst.Import(ctx, exp)
		require.NoError(t, err)
		assert.Equal(t, list.ID, imported.ID)
		assert.Equal(t, list.Items, imported.Items)
		assert.Equal(t, "tournament", imported.Strategy)

		g, err := dst.Graph(ctx, imported.ID)
		require.NoError(t, err)
		assert.True(t, order.Equal(order.Graph{"4": {"3"}}, g))
	})

	t.Run("new_id_on_collision", func(t *testing.T) {
		imported, err := src.Import(ctx, exp)
		require.NoError(t, err)
		assert.NotEqual(t, list.ID, imported.ID)

		a, err := src.Status(ctx, list.ID)
		require.NoError(t, err)
		b, err := src.Status(ctx, imported.ID)
		require.NoError(t, err)
		assert.Equal(t, a.SortStatus, b.SortStatus)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := src.Import(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = src.Import(ctx, &Export{List: exp.List, State: "qqq"})
		assert.ErrorIs(t, err, ErrInvalidInput)

		bad := exp.List.Clone()
		bad.Strategy = "bogo"
		_, err = src.Import(ctx, &Export{List: bad, State: exp.State})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, order.ErrUnknownStrategy)
	})
}

// =============================================================================
// Lifecycle and persistence
// =============================================================================

func TestService_Closed(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemoryEngine(), &Config{Logger: quiet})
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err := svc.CreateList(ctx, "l", []string{"a"}, "")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.Status(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.Decide(ctx, "x", order.Decision{Larger: "a", Smaller: "b"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	configs := map[string]*Config{
		"badger": {Backend: BackendBadger, Logger: quiet},
		"badger_wal": {Backend: BackendBadger, WALEnabled: true, WALSyncMode: "immediate", Logger: quiet},
		"memory_wal": {Backend: BackendMemory, WALEnabled: true, WALSyncMode: "immediate", Logger: quiet},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()

			svc, err := Open(dir, cfg)
			require.NoError(t, err)
			list, err := svc.CreateList(ctx, "l", []string{"3", "4", "1", "2"}, "")
			require.NoError(t, err)
			decideAll(t, svc, list.ID,
				order.Decision{Larger: "4", Smaller: "2"},
				order.Decision{Larger: "3", Smaller: "4"})
			before, err := svc.Status(ctx, list.ID)
			require.NoError(t, err)
			require.NoError(t, svc.Snapshot(ctx))
			_, err = svc.Undo(ctx, list.ID)
			require.NoError(t, err)
			decideAll(t, svc, list.ID, order.Decision{Larger: "3", Smaller: "4"})
			require.NoError(t, svc.Close())

			reopened, err := Open(dir, cfg)
			require.NoError(t, err)
			defer reopened.Close()

			after, err := reopened.Status(ctx, list.ID)
			require.NoError(t, err)
			assert.Equal(t, before.SortStatus, after.SortStatus)
			assert.Equal(t, 2, after.Decisions)
		})
	}

	t.Run("memory_without_dir", func(t *testing.T) {
		svc, err := Open("", &Config{Logger: quiet})
		require.NoError(t, err)
		defer svc.Close()
		_, isMemory := svc.Storage().(*storage.MemoryEngine)
		assert.True(t, isMemory)
		assert.NoError(t, svc.Snapshot(ctx), "snapshot without WAL is a no-op")
	})

	t.Run("unknown_backend", func(t *testing.T) {
		_, err := Open(t.TempDir(), &Config{Backend: "floppy", Logger: quiet})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestService_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	items := make([]string, 0, 40)
	for i := 0; i < 20; i++ {
		items = append(items, fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i))
	}
	list, err := svc.CreateList(ctx, "pairs", items, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Decide(ctx, list.ID, order.Decision{Larger: fmt.Sprintf("a%d", i), Smaller: fmt.Sprintf("b%d", i)})
			assert.NoError(t, err)
			_, err = svc.Status(ctx, list.ID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, err := svc.Status(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, st.Decisions)
	assert.Equal(t, 20, st.Progress.Known)
}
