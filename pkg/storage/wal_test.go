package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/pairsort/pkg/order"
)

func newTestWAL(t *testing.T, dir string) *WAL {
	t.Helper()
	wal, err := NewWAL(dir, &WALConfig{SyncMode: "immediate"})
	require.NoError(t, err)
	return wal
}

// =============================================================================
// WAL basics
// =============================================================================

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	wal := newTestWAL(t, dir)

	require.NoError(t, wal.Append(OpCreateList, WALListData{List: testList("l1", "a", "b")}))
	require.NoError(t, wal.Append(OpAppendDecision, WALDecisionData{ListID: "l1", Decision: order.Decision{Larger: "a", Smaller: "b"}}))
	assert.Equal(t, uint64(2), wal.Sequence())

	stats := wal.Stats()
	assert.Equal(t, int64(2), stats.EntryCount)
	assert.Equal(t, int64(2), stats.TotalWrites)
	assert.Positive(t, stats.BytesWritten)
	assert.False(t, stats.Closed)

	require.NoError(t, wal.Close())
	assert.True(t, wal.Stats().Closed)
	assert.ErrorIs(t, wal.Append(OpCheckpoint, nil), ErrWALClosed)

	entries, err := ReadWALEntries(filepath.Join(dir, walFileName))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpCreateList, entries[0].Operation)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, OpAppendDecision, entries[1].Operation)
}

func TestWAL_SequenceContinuesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	wal := newTestWAL(t, dir)
	require.NoError(t, wal.Append(OpCheckpoint, map[string]int{"n": 1}))
	require.NoError(t, wal.Append(OpCheckpoint, map[string]int{"n": 2}))
	require.NoError(t, wal.Close())

	reopened := newTestWAL(t, dir)
	defer reopened.Close()
	assert.Equal(t, uint64(2), reopened.Sequence())

	require.NoError(t, reopened.Append(OpCheckpoint, map[string]int{"n": 3}))
	assert.Equal(t, uint64(3), reopened.Sequence())
}

func TestWAL_BatchMode(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, nil)
	require.NoError(t, err)

	require.NoError(t, wal.Append(OpCheckpoint, nil))
	require.NoError(t, wal.Sync())
	require.NoError(t, wal.Close())

	entries, err := ReadWALEntries(filepath.Join(dir, walFileName))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// Corruption
// =============================================================================

func TestReadWALEntries_Corruption(t *testing.T) {
	dir := t.TempDir()
	wal := newTestWAL(t, dir)
	require.NoError(t, wal.Append(OpCreateList, WALListData{List: testList("l1", "a", "b")}))
	require.NoError(t, wal.Append(OpAppendDecision, WALDecisionData{ListID: "l1", Decision: order.Decision{Larger: "a", Smaller: "b"}}))
	require.NoError(t, wal.Close())

	path := filepath.Join(dir, walFileName)

	t.Run("truncated_tail", func(t *testing.T) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"seq":3,"op":"append_decision","data":{"listId"` + "\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		entries, err := ReadWALEntries(path)
		assert.ErrorIs(t, err, ErrWALCorrupted)
		assert.Len(t, entries, 2, "intact entries are still returned")
	})

	t.Run("checksum_mismatch", func(t *testing.T) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"seq":4,"op":"delete_list","data":{"id":"l1"},"checksum":1}` + "\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		entries, err := ReadWALEntries(path)
		assert.ErrorIs(t, err, ErrWALCorrupted)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.NotEqual(t, OpDeleteList, e.Operation)
		}
	})

	t.Run("recovery_skips_corruption", func(t *testing.T) {
		engine, err := RecoverFromWAL(context.Background(), dir, "", nil)
		require.NoError(t, err)

		list, err := engine.GetList(context.Background(), "l1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, list.Items)

		log, err := engine.Decisions(context.Background(), "l1")
		require.NoError(t, err)
		assert.Equal(t, []order.Decision{{Larger: "a", Smaller: "b"}}, log)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := ReadWALEntries(filepath.Join(dir, "nope.log"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrWALCorrupted)
	})
}

// =============================================================================
// WALEngine + recovery
// =============================================================================

func TestWALEngine_Recovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	engine := NewWALEngine(NewMemoryEngine(), newTestWAL(t, dir))
	require.NoError(t, engine.CreateList(ctx, testList("l1", "1", "2", "3")))
	require.NoError(t, engine.CreateList(ctx, testList("gone")))
	require.NoError(t, engine.AppendDecision(ctx, "l1", order.Decision{Larger: "3", Smaller: "2"}))
	require.NoError(t, engine.AppendDecision(ctx, "l1", order.Decision{Larger: "2", Smaller: "1"}))
	require.NoError(t, engine.AppendDecision(ctx, "l1", order.Decision{Larger: "1", Smaller: "3"}))
	_, err := engine.PopDecision(ctx, "l1")
	require.NoError(t, err)
	require.NoError(t, engine.DeleteList(ctx, "gone"))
	// Fails and is logged; replay must fail the same way.
	assert.ErrorIs(t, engine.CreateList(ctx, testList("l1")), ErrAlreadyExists)

	updated := testList("l1", "1", "2", "3", "4")
	require.NoError(t, engine.UpdateList(ctx, updated))
	require.NoError(t, engine.Close())

	recovered, err := RecoverFromWAL(ctx, dir, "", nil)
	require.NoError(t, err)

	lists, err := recovered.AllLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, updated, lists[0])

	log, err := recovered.Decisions(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []order.Decision{{Larger: "3", Smaller: "2"}, {Larger: "2", Smaller: "1"}}, log)
}

func TestWALEngine_SnapshotRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "snapshots", "latest.json")

	wal := newTestWAL(t, dir)
	engine := NewWALEngine(NewMemoryEngine(), wal)
	require.NoError(t, engine.CreateList(ctx, testList("l1", "a", "b", "c")))
	require.NoError(t, engine.AppendDecision(ctx, "l1", order.Decision{Larger: "a", Smaller: "b"}))

	snapshot, err := wal.CreateSnapshot(ctx, engine)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snapshot.Sequence)
	require.NoError(t, SaveSnapshot(snapshot, snapshotPath))

	require.NoError(t, engine.ReplaceDecisions(ctx, "l1", []order.Decision{{Larger: "c", Smaller: "a"}}))
	require.NoError(t, engine.AppendDecision(ctx, "l1", order.Decision{Larger: "a", Smaller: "b"}))
	require.NoError(t, engine.Close())

	loaded, err := LoadSnapshot(snapshotPath)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Decisions, loaded.Decisions)

	recovered, err := RecoverFromWAL(ctx, dir, snapshotPath, nil)
	require.NoError(t, err)
	log, err := recovered.Decisions(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []order.Decision{{Larger: "c", Smaller: "a"}, {Larger: "a", Smaller: "b"}}, log)

	t.Run("missing_snapshot_replays_everything", func(t *testing.T) {
		recovered, err := RecoverFromWAL(ctx, dir, filepath.Join(dir, "none.json"), nil)
		require.NoError(t, err)
		log, err := recovered.Decisions(ctx, "l1")
		require.NoError(t, err)
		assert.Len(t, log, 2)
	})

	t.Run("empty_dir", func(t *testing.T) {
		recovered, err := RecoverFromWAL(ctx, t.TempDir(), "", nil)
		require.NoError(t, err)
		n, err := recovered.ListCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestReplayWALEntry_UnknownOperation(t *testing.T) {
	err := ReplayWALEntry(context.Background(), NewMemoryEngine(), WALEntry{Operation: "explode"})
	assert.Error(t, err)
}
