// Package session is the pairsort service layer.
//
// A Service owns a storage engine and turns list operations into sort steps:
// it folds a list's decision log into an order graph, validates incoming
// decisions against the list, runs the configured sort strategy and caches
// the resulting status. Every call is stateless with respect to the engine;
// the decision log in storage is the only source of truth.
//
// Example:
//
//	svc, err := session.Open("./data", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//
//	list, _ := svc.CreateList(ctx, "Films", []string{"Alien", "Heat", "Ran"}, "")
//	status, _ := svc.Status(ctx, list.ID)
//	for !status.Done {
//		c := status.Comparison
//		res, _ := svc.Decide(ctx, list.ID, order.Decision{Larger: c.A, Smaller: c.B})
//		status = res.Status
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Mutations of one list are
//	serialized so its decision log stays linear.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/orneryd/pairsort/pkg/cache"
	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/storage"
)

// Errors returned by Service operations.
var (
	ErrClosed        = errors.New("session: service is closed")
	ErrInvalidInput  = errors.New("session: invalid input")
	ErrTooManyItems  = errors.New("session: too many items")
	ErrContradiction = errors.New("session: decision contradicts earlier decisions")
	ErrNothingToUndo = errors.New("session: no decision to undo")
)

// Storage backends understood by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config holds Service settings.
type Config struct {
	// Backend is BackendBadger or BackendMemory.
	Backend string `yaml:"backend"`
	// SyncWrites makes BadgerDB fsync every commit.
	SyncWrites bool `yaml:"sync_writes"`
	// WALEnabled records every mutation in DataDir/wal. With the memory
	// backend the log is replayed on Open, which makes it durable.
	WALEnabled bool `yaml:"wal_enabled"`
	// WALSyncMode is passed to storage.WALConfig.
	WALSyncMode string `yaml:"wal_sync_mode"`

	// DefaultStrategy is used for lists created without one.
	DefaultStrategy order.Strategy `yaml:"default_strategy"`
	// ImbalanceRatio tunes the tournament strategy.
	ImbalanceRatio float64 `yaml:"imbalance_ratio"`
	// MaxItems caps list size. Zero means DefaultMaxItems.
	MaxItems int `yaml:"max_items"`
	// RejectContradictions turns contradicting decisions into
	// ErrContradiction instead of silently ignoring them.
	RejectContradictions bool `yaml:"reject_contradictions"`

	// CacheSize and CacheTTL size the status cache. CacheSize < 0 disables it.
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultMaxItems is the list size limit when none is configured.
const DefaultMaxItems = 180

// DefaultConfig returns the settings used when Open is given nil.
func DefaultConfig() *Config {
	return &Config{
		Backend:         BackendBadger,
		WALEnabled:      true,
		WALSyncMode:     "batch",
		DefaultStrategy: order.StrategyHeap,
		ImbalanceRatio:  order.DefaultImbalanceRatio,
		MaxItems:        DefaultMaxItems,
		CacheSize:       1000,
		CacheTTL:        10 * time.Minute,
	}
}

// Service implements list and sorting operations on top of a storage engine.
type Service struct {
	config *Config
	logger *slog.Logger

	store   storage.Engine
	wal     *storage.WAL
	dataDir string
	cache   *cache.StatusCache

	locks listLocks
	// gate is held shared by mutations and exclusively by Snapshot.
	gate sync.RWMutex

	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// Open creates a Service with storage under dataDir.
//
// With the badger backend the data lives in dataDir itself. With the memory
// backend and the WAL enabled, state is rebuilt from dataDir/wal (and the
// latest snapshot, if any) before the service starts. An empty dataDir always
// selects in-memory storage without a WAL.
func Open(dataDir string, config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if dataDir == "" {
		logger.Warn("using in-memory storage, data will not persist")
		return New(storage.NewMemoryEngine(), config), nil
	}

	var engine storage.Engine
	switch config.Backend {
	case BackendBadger, "":
		badgerEngine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:    dataDir,
			SyncWrites: config.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		engine = badgerEngine
		logger.Info("using persistent storage", "backend", BackendBadger, "dir", dataDir, "wal", config.WALEnabled)
	case BackendMemory:
		if config.WALEnabled {
			recovered, err := storage.RecoverFromWAL(context.Background(), walDir(dataDir), snapshotPath(dataDir), logger)
			if err != nil {
				return nil, fmt.Errorf("failed to recover from WAL: %w", err)
			}
			engine = recovered
		} else {
			engine = storage.NewMemoryEngine()
		}
		logger.Info("using in-memory storage", "dir", dataDir, "wal", config.WALEnabled)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidInput, config.Backend)
	}

	if !config.WALEnabled {
		return New(engine, config), nil
	}

	walConfig := storage.DefaultWALConfig()
	if config.WALSyncMode != "" {
		walConfig.SyncMode = config.WALSyncMode
	}
	wal, err := storage.NewWAL(walDir(dataDir), walConfig)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to initialize WAL: %w", err)
	}

	svc := New(storage.NewWALEngine(engine, wal), config)
	svc.wal = wal
	svc.dataDir = dataDir
	return svc, nil
}

// New creates a Service over an existing engine. The Service takes ownership
// of the engine and closes it in Close.
func New(engine storage.Engine, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	c := *config
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = order.StrategyHeap
	}
	if c.ImbalanceRatio <= 0 {
		c.ImbalanceRatio = order.DefaultImbalanceRatio
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	statusCache := cache.NewStatusCache(c.CacheSize, c.CacheTTL)
	if c.CacheSize < 0 {
		statusCache.SetEnabled(false)
	}

	return &Service{
		config: &c,
		logger: logger,
		store:  engine,
		cache:  statusCache,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the underlying storage. Subsequent calls are no-ops.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.store.Close()
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Snapshot compacts storage. With the badger backend it runs value log GC.
// With a WAL it writes the full state to DataDir/snapshots/latest.json so the
// next memory-backend recovery only replays WAL entries written after it.
func (s *Service) Snapshot(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	base := s.store
	if w, ok := base.(*storage.WALEngine); ok {
		base = w.Engine()
	}
	if gc, ok := base.(interface{ RunGC() error }); ok {
		if err := gc.RunGC(); err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
	if s.wal == nil {
		return nil
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	snapshot, err := s.wal.CreateSnapshot(ctx, s.store)
	if err != nil {
		return err
	}
	if err := storage.SaveSnapshot(snapshot, snapshotPath(s.dataDir)); err != nil {
		return err
	}
	s.logger.Info("snapshot saved", "sequence", snapshot.Sequence, "lists", len(snapshot.Lists))
	return nil
}

// Config returns a copy of the effective configuration.
func (s *Service) Config() Config {
	return *s.config
}

// Storage returns the underlying engine.
func (s *Service) Storage() storage.Engine {
	return s.store
}

// CacheStats reports status cache performance.
func (s *Service) CacheStats() cache.CacheStats {
	return s.cache.Stats()
}

// engineFor builds the sort engine for a list's strategy name.
func (s *Service) engineFor(list *storage.List) order.Engine {
	strategy, err := order.ParseStrategy(list.Strategy)
	if err != nil || list.Strategy == "" {
		strategy = s.config.DefaultStrategy
	}
	return order.Engine{
		Strategy:       strategy,
		ImbalanceRatio: s.config.ImbalanceRatio,
		Logger:         s.logger.With("list_id", list.ID),
	}
}

// mutate runs fn while holding the list's lock.
func (s *Service) mutate(id string, fn func() error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.gate.RLock()
	defer s.gate.RUnlock()
	unlock := s.locks.lock(id)
	defer unlock()
	return fn()
}

func walDir(dataDir string) string {
	return filepath.Join(dataDir, "wal")
}

func snapshotPath(dataDir string) string {
	return filepath.Join(dataDir, "snapshots", "latest.json")
}

// listLocks hands out one mutex per list ID.
type listLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *listLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
