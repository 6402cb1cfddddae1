// Package storage provides write-ahead logging for pairsort durability.
//
// The WAL records every mutation before it is applied to the wrapped engine.
// Combined with periodic snapshots this lets a MemoryEngine survive restarts:
//   - Durability: decisions are on disk before they are acknowledged
//   - Recovery: restore state from snapshot + WAL replay
//   - Audit trail: complete history of every answered comparison
//
// Usage:
//
//	engine := storage.NewMemoryEngine()
//	wal, err := storage.NewWAL("/path/to/wal", nil)
//	walEngine := storage.NewWALEngine(engine, wal)
//
//	// Operations are logged before execution
//	walEngine.AppendDecision(ctx, "l1", order.Decision{Larger: "a", Smaller: "b"})
//
//	// Recovery after a restart
//	engine, err = storage.RecoverFromWAL(ctx, "/path/to/wal", "/path/to/snapshot.json")
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/pairsort/pkg/order"
)

// OperationType names a logged mutation.
type OperationType string

// WAL operation types
const (
	OpCreateList       OperationType = "create_list"
	OpUpdateList       OperationType = "update_list"
	OpDeleteList       OperationType = "delete_list"
	OpAppendDecision   OperationType = "append_decision"
	OpPopDecision      OperationType = "pop_decision"
	OpReplaceDecisions OperationType = "replace_decisions"
	OpCheckpoint       OperationType = "checkpoint" // Marks snapshot boundaries
)

// Common WAL errors
var (
	ErrWALClosed      = errors.New("wal: closed")
	ErrWALCorrupted   = errors.New("wal: corrupted entry")
	ErrSnapshotFailed = errors.New("wal: snapshot creation failed")
)

const walFileName = "wal.log"

// WALEntry represents a single write-ahead log entry.
// Each mutating operation is recorded as an entry before execution.
type WALEntry struct {
	Sequence  uint64          `json:"seq"`      // Monotonically increasing sequence number
	Timestamp time.Time       `json:"ts"`       // When the operation occurred
	Operation OperationType   `json:"op"`       // Operation type (create_list, append_decision, etc.)
	Data      json.RawMessage `json:"data"`     // JSON-serialized operation data
	Checksum  uint32          `json:"checksum"` // CRC32 (IEEE) of Data
}

// WALListData holds list data for WAL entries.
type WALListData struct {
	List *List `json:"list"`
}

// WALDeleteData holds delete operation data.
type WALDeleteData struct {
	ID string `json:"id"`
}

// WALDecisionData holds one appended decision.
type WALDecisionData struct {
	ListID   string         `json:"listId"`
	Decision order.Decision `json:"decision"`
}

// WALDecisionsData holds a full replacement log.
type WALDecisionsData struct {
	ListID    string           `json:"listId"`
	Decisions []order.Decision `json:"decisions"`
}

// WALConfig configures WAL behavior.
type WALConfig struct {
	// Directory for WAL files
	Dir string

	// SyncMode controls when writes are synced to disk
	// "immediate": fsync after each write (safest, slowest)
	// "batch": fsync periodically (faster, some risk)
	// "none": no fsync (fastest, data loss on crash)
	SyncMode string

	// BatchSyncInterval for "batch" sync mode
	BatchSyncInterval time.Duration
}

// DefaultWALConfig returns sensible defaults.
func DefaultWALConfig() *WALConfig {
	return &WALConfig{
		Dir:               "data/wal",
		SyncMode:          "batch",
		BatchSyncInterval: 100 * time.Millisecond,
	}
}

// WAL provides write-ahead logging for durability.
// Thread-safe for concurrent writes.
type WAL struct {
	mu       sync.Mutex
	config   *WALConfig
	file     *os.File
	writer   *bufio.Writer
	sequence atomic.Uint64
	entries  atomic.Int64
	bytes    atomic.Int64
	closed   atomic.Bool

	// Background sync goroutine
	syncTicker *time.Ticker
	stopSync   chan struct{}

	// Stats
	totalWrites   atomic.Int64
	totalSyncs    atomic.Int64
	lastSyncTime  atomic.Int64
	lastEntryTime atomic.Int64
}

// WALStats provides observability into WAL state.
type WALStats struct {
	Sequence      uint64
	EntryCount    int64
	BytesWritten  int64
	TotalWrites   int64
	TotalSyncs    int64
	LastSyncTime  time.Time
	LastEntryTime time.Time
	Closed        bool
}

// NewWAL opens (or creates) the WAL in dir. Appends continue after the
// highest sequence number already on disk.
func NewWAL(dir string, cfg *WALConfig) (*WAL, error) {
	if cfg == nil {
		cfg = DefaultWALConfig()
	}
	c := *cfg
	if dir != "" {
		c.Dir = dir
	}

	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: failed to create directory: %w", err)
	}

	walPath := filepath.Join(c.Dir, walFileName)
	var lastSeq uint64
	if entries, err := ReadWALEntries(walPath); err == nil || errors.Is(err, ErrWALCorrupted) {
		for _, e := range entries {
			lastSeq = max(lastSeq, e.Sequence)
		}
	}

	file, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open file: %w", err)
	}

	w := &WAL{
		config:   &c,
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024), // 64KB buffer
		stopSync: make(chan struct{}),
	}
	w.sequence.Store(lastSeq)

	if c.SyncMode == "batch" && c.BatchSyncInterval > 0 {
		w.syncTicker = time.NewTicker(c.BatchSyncInterval)
		go w.batchSyncLoop()
	}

	return w, nil
}

// batchSyncLoop periodically syncs writes to disk.
func (w *WAL) batchSyncLoop() {
	for {
		select {
		case <-w.syncTicker.C:
			w.Sync()
		case <-w.stopSync:
			return
		}
	}
}

// Append writes a new entry to the WAL.
func (w *WAL) Append(op OperationType, data interface{}) error {
	if w.closed.Load() {
		return ErrWALClosed
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("wal: failed to marshal data: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Sequence is assigned under the lock so the file stays ordered.
	entry := WALEntry{
		Sequence:  w.sequence.Add(1),
		Timestamp: time.Now().UTC(),
		Operation: op,
		Data:      dataBytes,
		Checksum:  crc32.ChecksumIEEE(dataBytes),
	}
	line, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("wal: failed to encode entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("wal: failed to write entry: %w", err)
	}

	w.entries.Add(1)
	w.bytes.Add(int64(len(line)))
	w.totalWrites.Add(1)
	w.lastEntryTime.Store(time.Now().UnixNano())

	if w.config.SyncMode == "immediate" {
		return w.syncLocked()
	}
	return nil
}

// Sync flushes all buffered writes to disk.
func (w *WAL) Sync() error {
	if w.closed.Load() {
		return ErrWALClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush failed: %w", err)
	}

	if w.config.SyncMode != "none" {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync failed: %w", err)
		}
	}

	w.totalSyncs.Add(1)
	w.lastSyncTime.Store(time.Now().UnixNano())
	return nil
}

// Checkpoint creates a checkpoint marker for snapshot boundaries.
func (w *WAL) Checkpoint() error {
	return w.Append(OpCheckpoint, map[string]interface{}{
		"checkpoint_time": time.Now().UTC(),
		"sequence":        w.sequence.Load(),
	})
}

// Close flushes pending writes and closes the file.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	if w.syncTicker != nil {
		w.syncTicker.Stop()
		close(w.stopSync)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	syncErr := w.syncLocked()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close failed: %w", err)
	}
	return syncErr
}

// Stats returns current WAL statistics.
func (w *WAL) Stats() WALStats {
	var lastSync, lastEntry time.Time
	if t := w.lastSyncTime.Load(); t > 0 {
		lastSync = time.Unix(0, t)
	}
	if t := w.lastEntryTime.Load(); t > 0 {
		lastEntry = time.Unix(0, t)
	}

	return WALStats{
		Sequence:      w.sequence.Load(),
		EntryCount:    w.entries.Load(),
		BytesWritten:  w.bytes.Load(),
		TotalWrites:   w.totalWrites.Load(),
		TotalSyncs:    w.totalSyncs.Load(),
		LastSyncTime:  lastSync,
		LastEntryTime: lastEntry,
		Closed:        w.closed.Load(),
	}
}

// Sequence returns the current sequence number.
func (w *WAL) Sequence() uint64 {
	return w.sequence.Load()
}

// Path returns the WAL file path.
func (w *WAL) Path() string {
	return filepath.Join(w.config.Dir, walFileName)
}

// ============================================================================
// Snapshots
// ============================================================================

// Snapshot represents a point-in-time copy of every list and decision log.
type Snapshot struct {
	Sequence  uint64                      `json:"sequence"`
	Timestamp time.Time                   `json:"timestamp"`
	Lists     []*List                     `json:"lists"`
	Decisions map[string][]order.Decision `json:"decisions"`
	Version   string                      `json:"version"`
}

// CreateSnapshot captures the engine state and marks the boundary in the WAL.
func (w *WAL) CreateSnapshot(ctx context.Context, engine Engine) (*Snapshot, error) {
	if w.closed.Load() {
		return nil, ErrWALClosed
	}

	seq := w.sequence.Load()
	if err := w.Checkpoint(); err != nil {
		return nil, fmt.Errorf("%w: checkpoint: %v", ErrSnapshotFailed, err)
	}

	lists, err := engine.AllLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: lists: %v", ErrSnapshotFailed, err)
	}
	decisions := make(map[string][]order.Decision, len(lists))
	for _, l := range lists {
		log, err := engine.Decisions(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: decisions of %s: %v", ErrSnapshotFailed, l.ID, err)
		}
		if len(log) > 0 {
			decisions[l.ID] = log
		}
	}

	return &Snapshot{
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		Lists:     lists,
		Decisions: decisions,
		Version:   "1.0",
	}, nil
}

// SaveSnapshot writes a snapshot to disk atomically.
func SaveSnapshot(snapshot *Snapshot, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("wal: failed to create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("wal: failed to create snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to encode snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to sync snapshot: %w", err)
	}
	file.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open snapshot: %w", err)
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("wal: failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// ============================================================================
// Reading and replay
// ============================================================================

// ReadWALEntries reads every intact entry from a WAL file.
//
// Lines that fail to parse or whose checksum does not match are skipped. When
// any line was skipped the intact entries are still returned, together with an
// error wrapping ErrWALCorrupted.
func ReadWALEntries(walPath string) ([]WALEntry, error) {
	file, err := os.Open(walPath)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open: %w", err)
	}
	defer file.Close()

	var entries []WALEntry
	corrupted := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry WALEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			corrupted++
			continue
		}
		if entry.Checksum != crc32.ChecksumIEEE(entry.Data) {
			corrupted++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("wal: read failed: %w", err)
	}
	if corrupted > 0 {
		return entries, fmt.Errorf("%w: %d entries skipped", ErrWALCorrupted, corrupted)
	}
	return entries, nil
}

// ReadWALEntriesAfter reads entries after a given sequence number.
func ReadWALEntriesAfter(walPath string, afterSeq uint64) ([]WALEntry, error) {
	all, err := ReadWALEntries(walPath)
	var filtered []WALEntry
	for _, entry := range all {
		if entry.Sequence > afterSeq {
			filtered = append(filtered, entry)
		}
	}
	return filtered, err
}

// ReplayWALEntry applies a single WAL entry to the engine.
func ReplayWALEntry(ctx context.Context, engine Engine, entry WALEntry) error {
	switch entry.Operation {
	case OpCreateList:
		var data WALListData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("wal: failed to unmarshal list: %w", err)
		}
		return engine.CreateList(ctx, data.List)

	case OpUpdateList:
		var data WALListData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("wal: failed to unmarshal list: %w", err)
		}
		return engine.UpdateList(ctx, data.List)

	case OpDeleteList:
		var data WALDeleteData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("wal: failed to unmarshal delete: %w", err)
		}
		return engine.DeleteList(ctx, data.ID)

	case OpAppendDecision:
		var data WALDecisionData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("wal: failed to unmarshal decision: %w", err)
		}
		return engine.AppendDecision(ctx, data.ListID, data.Decision)

	case OpPopDecision:
		var data WALDeleteData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("wal: failed to unmarshal pop: %w", err)
		}
		_, err := engine.PopDecision(ctx, data.ID)
		return err

	case OpReplaceDecisions:
		var data WALDecisionsData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("wal: failed to unmarshal decisions: %w", err)
		}
		return engine.ReplaceDecisions(ctx, data.ListID, data.Decisions)

	case OpCheckpoint:
		// Checkpoints are markers, no action needed
		return nil

	default:
		return fmt.Errorf("wal: unknown operation: %s", entry.Operation)
	}
}

// RecoverFromWAL rebuilds a MemoryEngine from an optional snapshot plus the
// WAL entries written after it. Entries that fail to apply (for example a
// logged create of a list that already existed) are skipped, matching what
// happened when they were first executed. Corrupted lines are logged at warn
// level through logger (nil means slog.Default) and skipped.
func RecoverFromWAL(ctx context.Context, walDir, snapshotPath string, logger *slog.Logger) (*MemoryEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := NewMemoryEngine()

	var snapshotSeq uint64
	if snapshotPath != "" {
		snapshot, err := LoadSnapshot(snapshotPath)
		switch {
		case err == nil:
			snapshotSeq = snapshot.Sequence
			for _, l := range snapshot.Lists {
				if err := engine.CreateList(ctx, l); err != nil {
					return nil, fmt.Errorf("wal: failed to restore list %s: %w", l.ID, err)
				}
			}
			for id, log := range snapshot.Decisions {
				if err := engine.ReplaceDecisions(ctx, id, log); err != nil {
					return nil, fmt.Errorf("wal: failed to restore decisions of %s: %w", id, err)
				}
			}
		case errors.Is(err, os.ErrNotExist):
			// No snapshot yet, replay the whole log.
		default:
			return nil, err
		}
	}

	walPath := filepath.Join(walDir, walFileName)
	if _, err := os.Stat(walPath); errors.Is(err, os.ErrNotExist) {
		return engine, nil
	}

	entries, err := ReadWALEntriesAfter(walPath, snapshotSeq)
	if err != nil {
		if !errors.Is(err, ErrWALCorrupted) {
			return nil, err
		}
		logger.Warn("skipping corrupted WAL entries", "path", walPath, "error", err)
	}

	for _, entry := range entries {
		if err := ReplayWALEntry(ctx, engine, entry); err != nil {
			logger.Debug("WAL entry not applied", "seq", entry.Sequence, "op", entry.Operation, "error", err)
		}
	}
	return engine, nil
}

// ============================================================================
// WALEngine
// ============================================================================

// WALEngine wraps a storage engine with write-ahead logging.
// All mutating operations are logged before execution.
type WALEngine struct {
	engine Engine
	wal    *WAL
}

// NewWALEngine creates a WAL-backed storage engine.
func NewWALEngine(engine Engine, wal *WAL) *WALEngine {
	return &WALEngine{
		engine: engine,
		wal:    wal,
	}
}

// CreateList logs then executes list creation.
func (w *WALEngine) CreateList(ctx context.Context, list *List) error {
	if err := validateList(list); err != nil {
		return err
	}
	if err := w.wal.Append(OpCreateList, WALListData{List: list}); err != nil {
		return fmt.Errorf("wal: failed to log create_list: %w", err)
	}
	return w.engine.CreateList(ctx, list)
}

// UpdateList logs then executes a list update.
func (w *WALEngine) UpdateList(ctx context.Context, list *List) error {
	if err := validateList(list); err != nil {
		return err
	}
	if err := w.wal.Append(OpUpdateList, WALListData{List: list}); err != nil {
		return fmt.Errorf("wal: failed to log update_list: %w", err)
	}
	return w.engine.UpdateList(ctx, list)
}

// DeleteList logs then executes list deletion.
func (w *WALEngine) DeleteList(ctx context.Context, id string) error {
	if err := w.wal.Append(OpDeleteList, WALDeleteData{ID: id}); err != nil {
		return fmt.Errorf("wal: failed to log delete_list: %w", err)
	}
	return w.engine.DeleteList(ctx, id)
}

// AppendDecision logs then appends a decision.
func (w *WALEngine) AppendDecision(ctx context.Context, listID string, d order.Decision) error {
	if err := w.wal.Append(OpAppendDecision, WALDecisionData{ListID: listID, Decision: d}); err != nil {
		return fmt.Errorf("wal: failed to log append_decision: %w", err)
	}
	return w.engine.AppendDecision(ctx, listID, d)
}

// PopDecision logs then removes the newest decision.
func (w *WALEngine) PopDecision(ctx context.Context, listID string) (order.Decision, error) {
	if err := w.wal.Append(OpPopDecision, WALDeleteData{ID: listID}); err != nil {
		return order.Decision{}, fmt.Errorf("wal: failed to log pop_decision: %w", err)
	}
	return w.engine.PopDecision(ctx, listID)
}

// ReplaceDecisions logs then swaps a decision log.
func (w *WALEngine) ReplaceDecisions(ctx context.Context, listID string, decisions []order.Decision) error {
	if err := w.wal.Append(OpReplaceDecisions, WALDecisionsData{ListID: listID, Decisions: decisions}); err != nil {
		return fmt.Errorf("wal: failed to log replace_decisions: %w", err)
	}
	return w.engine.ReplaceDecisions(ctx, listID, decisions)
}

// Delegate read operations directly to underlying engine

// GetList delegates to underlying engine.
func (w *WALEngine) GetList(ctx context.Context, id string) (*List, error) {
	return w.engine.GetList(ctx, id)
}

// AllLists delegates to underlying engine.
func (w *WALEngine) AllLists(ctx context.Context) ([]*List, error) {
	return w.engine.AllLists(ctx)
}

// Decisions delegates to underlying engine.
func (w *WALEngine) Decisions(ctx context.Context, listID string) ([]order.Decision, error) {
	return w.engine.Decisions(ctx, listID)
}

// ListCount delegates to underlying engine.
func (w *WALEngine) ListCount(ctx context.Context) (int64, error) {
	return w.engine.ListCount(ctx)
}

// DecisionCount delegates to underlying engine.
func (w *WALEngine) DecisionCount(ctx context.Context) (int64, error) {
	return w.engine.DecisionCount(ctx)
}

// Close closes both the WAL and underlying engine.
func (w *WALEngine) Close() error {
	walErr := w.wal.Close()
	if err := w.engine.Close(); err != nil {
		return err
	}
	return walErr
}

// WAL returns the underlying WAL for direct access.
func (w *WALEngine) WAL() *WAL {
	return w.wal
}

// Engine returns the underlying engine.
func (w *WALEngine) Engine() Engine {
	return w.engine
}

// Verify WALEngine implements Engine interface
var _ Engine = (*WALEngine)(nil)
