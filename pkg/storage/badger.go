// Package storage provides storage engine implementations for pairsort.
//
// BadgerEngine provides persistent disk-based storage using BadgerDB.
// Every Engine call runs in a single Badger transaction.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/pairsort/pkg/order"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixList        = byte(0x01) // list:listID -> List
	prefixDecision    = byte(0x02) // decision:listID:seq -> Decision
	prefixDecisionSeq = byte(0x03) // seq:listID -> last assigned sequence
)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Lists: 0x01 + listID -> JSON(List)
//   - Decisions: 0x02 + listID + 0x00 + uint64be(seq) -> JSON(Decision)
//   - Sequence: 0x03 + listID -> uint64be(last seq)
//
// Sequence numbers only grow, so iterating the decision prefix yields the log
// oldest first and a reverse seek finds the newest entry in one step.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.CreateList(ctx, &storage.List{ID: "l1", Items: []string{"a", "b"}})
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex // Protects closed
	closed bool

	// listLocks holds one *sync.Mutex per list ID for write serialization.
	listLocks sync.Map
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives BadgerDB internal logging. Nil silences Badger.
	Logger *slog.Logger

	// LowMemory shrinks memtables and caches further.
	LowMemory bool
}

// NewBadgerEngine creates a persistent engine in dataDir with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Decision logs are tiny, so the defaults are tuned far below Badger's own
// (16MB memtables instead of 64MB, 64MB value log files instead of 1GB).
// LowMemory halves them again for constrained containers.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(&badgerLogger{log: opts.Logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{db: db}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// badgerLogger routes Badger's printf-style logging into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

// maxConflictRetries bounds retries of transactions that lost a write race.
const maxConflictRetries = 16

// conflictBackoff is the base delay between conflict retries.
const conflictBackoff = time.Millisecond

// update runs fn in a read-write transaction while holding listID's write
// lock. Writes to one list are serialized in-process; conflicts with other
// processes or cross-list races are retried with jittered backoff.
func (b *BadgerEngine) update(listID string, fn func(txn *badger.Txn) error) error {
	unlock := b.lockList(listID)
	defer unlock()

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		delay := conflictBackoff << min(attempt, 6)
		time.Sleep(delay/2 + rand.N(delay))
	}
	return err
}

// lockList acquires the write mutex of one list and returns its release.
func (b *BadgerEngine) lockList(listID string) func() {
	v, _ := b.listLocks.LoadOrStore(listID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// ============================================================================
// List operations
// ============================================================================

// CreateList stores a new list.
func (b *BadgerEngine) CreateList(ctx context.Context, list *List) error {
	if err := validateList(list); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := encodeList(list)
	if err != nil {
		return err
	}

	return b.update(list.ID, func(txn *badger.Txn) error {
		key := listKey(list.ID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetList loads a list.
func (b *BadgerEngine) GetList(ctx context.Context, id string) (*List, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var list *List
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		list, err = getList(txn, id)
		return err
	})
	return list, err
}

// UpdateList replaces an existing list.
func (b *BadgerEngine) UpdateList(ctx context.Context, list *List) error {
	if err := validateList(list); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := encodeList(list)
	if err != nil {
		return err
	}

	return b.update(list.ID, func(txn *badger.Txn) error {
		if err := requireList(txn, list.ID); err != nil {
			return err
		}
		return txn.Set(listKey(list.ID), data)
	})
}

// DeleteList removes a list, its decisions and its sequence counter.
func (b *BadgerEngine) DeleteList(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.update(id, func(txn *badger.Txn) error {
		if err := requireList(txn, id); err != nil {
			return err
		}
		if err := deletePrefix(txn, decisionPrefix(id)); err != nil {
			return err
		}
		if err := txn.Delete(seqKey(id)); err != nil {
			return err
		}
		return txn.Delete(listKey(id))
	})
}

// AllLists returns every list ordered by ID.
func (b *BadgerEngine) AllLists(ctx context.Context) ([]*List, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	lists := []*List{}
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixList}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var list *List
			if err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				list, decodeErr = decodeList(val)
				return decodeErr
			}); err != nil {
				return err
			}
			lists = append(lists, list)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lists, nil
}

// ============================================================================
// Decision log operations
// ============================================================================

// AppendDecision assigns the next sequence number and stores d.
func (b *BadgerEngine) AppendDecision(ctx context.Context, listID string, d order.Decision) error {
	if err := validateID(listID); err != nil {
		return err
	}
	if err := validateDecision(d); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := encodeDecision(d)
	if err != nil {
		return err
	}

	return b.update(listID, func(txn *badger.Txn) error {
		if err := requireList(txn, listID); err != nil {
			return err
		}
		seq, err := lastSeq(txn, listID)
		if err != nil {
			return err
		}
		seq++
		if err := txn.Set(decisionKey(listID, seq), data); err != nil {
			return err
		}
		return txn.Set(seqKey(listID), encodeSeq(seq))
	})
}

// Decisions returns the list's log, oldest first.
func (b *BadgerEngine) Decisions(ctx context.Context, listID string) ([]order.Decision, error) {
	if err := validateID(listID); err != nil {
		return nil, err
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	decisions := []order.Decision{}
	err := b.db.View(func(txn *badger.Txn) error {
		if err := requireList(txn, listID); err != nil {
			return err
		}
		prefix := decisionPrefix(listID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var d order.Decision
			if err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				d, decodeErr = decodeDecision(val)
				return decodeErr
			}); err != nil {
				return err
			}
			decisions = append(decisions, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decisions, nil
}

// PopDecision removes and returns the newest decision.
func (b *BadgerEngine) PopDecision(ctx context.Context, listID string) (order.Decision, error) {
	if err := validateID(listID); err != nil {
		return order.Decision{}, err
	}
	if err := b.checkOpen(); err != nil {
		return order.Decision{}, err
	}

	var popped order.Decision
	err := b.update(listID, func(txn *badger.Txn) error {
		if err := requireList(txn, listID); err != nil {
			return err
		}

		key, err := newestDecision(txn, listID, &popped)
		if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return popped, err
}

// ReplaceDecisions swaps the list's whole log in one transaction.
func (b *BadgerEngine) ReplaceDecisions(ctx context.Context, listID string, decisions []order.Decision) error {
	if err := validateID(listID); err != nil {
		return err
	}
	for _, d := range decisions {
		if err := validateDecision(d); err != nil {
			return err
		}
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.update(listID, func(txn *badger.Txn) error {
		if err := requireList(txn, listID); err != nil {
			return err
		}
		seq, err := lastSeq(txn, listID)
		if err != nil {
			return err
		}
		if err := deletePrefix(txn, decisionPrefix(listID)); err != nil {
			return err
		}
		for _, d := range decisions {
			data, err := encodeDecision(d)
			if err != nil {
				return err
			}
			seq++
			if err := txn.Set(decisionKey(listID, seq), data); err != nil {
				return err
			}
		}
		return txn.Set(seqKey(listID), encodeSeq(seq))
	})
}

// ============================================================================
// Lifecycle and stats
// ============================================================================

// Close closes the underlying database. Calling Close twice is a no-op.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.db.Close()
}

// Sync forces a sync of all data to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

// RunGC runs garbage collection on the BadgerDB value log.
// Should be called periodically for long-running applications. Having
// nothing to rewrite, or running in memory, is not an error.
func (b *BadgerEngine) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return err
	}
	return nil
}

// ListCount returns the number of lists.
func (b *BadgerEngine) ListCount(ctx context.Context) (int64, error) {
	return b.countPrefix([]byte{prefixList})
}

// DecisionCount returns the number of stored decisions across all lists.
func (b *BadgerEngine) DecisionCount(ctx context.Context) (int64, error) {
	return b.countPrefix([]byte{prefixDecision})
}

func (b *BadgerEngine) countPrefix(prefix []byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// ============================================================================
// Transaction helpers
// ============================================================================

func getList(txn *badger.Txn, id string) (*List, error) {
	item, err := txn.Get(listKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var list *List
	err = item.Value(func(val []byte) error {
		var decodeErr error
		list, decodeErr = decodeList(val)
		return decodeErr
	})
	return list, err
}

func requireList(txn *badger.Txn, id string) error {
	_, err := txn.Get(listKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func lastSeq(txn *badger.Txn, listID string) (uint64, error) {
	item, err := txn.Get(seqKey(listID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		var decodeErr error
		seq, decodeErr = decodeSeq(val)
		return decodeErr
	})
	return seq, err
}

// newestDecision decodes the last log entry into d and returns its key. The
// iterator is closed before returning so the caller may write.
func newestDecision(txn *badger.Txn, listID string, d *order.Decision) ([]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := decisionPrefix(listID)
	it.Seek(decisionSeekLast(listID))
	if !it.ValidForPrefix(prefix) {
		return nil, ErrNotFound
	}
	item := it.Item()
	err := item.Value(func(val []byte) error {
		var decodeErr error
		*d, decodeErr = decodeDecision(val)
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return item.KeyCopy(nil), nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

var _ Engine = (*BadgerEngine)(nil)
