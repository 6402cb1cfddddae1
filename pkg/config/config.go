// Package config loads pairsort configuration from YAML files and
// environment variables.
//
// Settings resolve in three layers: built-in defaults, then an optional YAML
// file, then PAIRSORT_* environment variables.
//
// Example Usage:
//
//	cfg, err := config.LoadFromEnvOrFile("pairsort.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
// Server:
//   - PAIRSORT_HTTP_ADDRESS="127.0.0.1"
//   - PAIRSORT_HTTP_PORT=8080
//   - PAIRSORT_READ_TIMEOUT=30s, PAIRSORT_WRITE_TIMEOUT=30s
//   - PAIRSORT_CORS_ENABLED=true, PAIRSORT_CORS_ORIGINS="*"
//   - PAIRSORT_MAX_BODY_BYTES=1048576
//
// Storage:
//   - PAIRSORT_STORAGE_BACKEND="badger" or "memory"
//   - PAIRSORT_DATA_DIR="./data"
//   - PAIRSORT_SYNC_WRITES=false
//   - PAIRSORT_WAL_ENABLED=true, PAIRSORT_WAL_SYNC_MODE="batch"
//
// Sorting:
//   - PAIRSORT_SORT_STRATEGY="heap" or "tournament"
//   - PAIRSORT_IMBALANCE_RATIO=2
//   - PAIRSORT_MAX_ITEMS=180
//   - PAIRSORT_REJECT_CONTRADICTIONS=false
//
// Cache and logging:
//   - PAIRSORT_CACHE_SIZE=1000, PAIRSORT_CACHE_TTL=10m
//   - PAIRSORT_LOG_LEVEL="info", PAIRSORT_LOG_FORMAT="text" or "json"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/pairsort/pkg/order"
)

// Config holds all pairsort configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Sort    SortConfig    `yaml:"sort"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	CORSEnabled  bool     `yaml:"cors_enabled"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend string `yaml:"backend"`
	// DataDir holds BadgerDB files, the WAL and snapshots. Empty means
	// in-memory storage without a WAL regardless of Backend.
	DataDir    string `yaml:"data_dir"`
	SyncWrites bool   `yaml:"sync_writes"`
	WALEnabled bool   `yaml:"wal_enabled"`
	// WALSyncMode is "immediate", "batch" or "none".
	WALSyncMode string `yaml:"wal_sync_mode"`
}

// SortConfig holds sort engine settings.
type SortConfig struct {
	Strategy             string  `yaml:"strategy"`
	ImbalanceRatio       float64 `yaml:"imbalance_ratio"`
	MaxItems             int     `yaml:"max_items"`
	RejectContradictions bool    `yaml:"reject_contradictions"`
}

// CacheConfig sizes the status cache. Size < 0 disables it.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 1 << 20,
			CORSEnabled:  true,
			CORSOrigins:  []string{"*"},
		},
		Storage: StorageConfig{
			Backend:     "badger",
			DataDir:     "./data",
			WALEnabled:  true,
			WALSyncMode: "batch",
		},
		Sort: SortConfig{
			Strategy:       string(order.StrategyHeap),
			ImbalanceRatio: order.DefaultImbalanceRatio,
			MaxItems:       180,
		},
		Cache: CacheConfig{
			Size: 1000,
			TTL:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv returns the defaults overridden by PAIRSORT_* variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file on top of the defaults. Keys missing from the
// file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnvOrFile loads path if it exists, then applies environment
// overrides. Environment variables take precedence over file settings. A
// missing file is not an error; an unreadable or malformed one is.
func LoadFromEnvOrFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFile(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// WriteFile saves cfg as YAML, creating parent directories.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	c.Server.Address = getEnv("PAIRSORT_HTTP_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("PAIRSORT_HTTP_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("PAIRSORT_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("PAIRSORT_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("PAIRSORT_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.MaxBodyBytes = int64(getEnvInt("PAIRSORT_MAX_BODY_BYTES", int(c.Server.MaxBodyBytes)))
	c.Server.CORSEnabled = getEnvBool("PAIRSORT_CORS_ENABLED", c.Server.CORSEnabled)
	c.Server.CORSOrigins = getEnvStringSlice("PAIRSORT_CORS_ORIGINS", c.Server.CORSOrigins)

	c.Storage.Backend = getEnv("PAIRSORT_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DataDir = getEnv("PAIRSORT_DATA_DIR", c.Storage.DataDir)
	c.Storage.SyncWrites = getEnvBool("PAIRSORT_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.WALEnabled = getEnvBool("PAIRSORT_WAL_ENABLED", c.Storage.WALEnabled)
	c.Storage.WALSyncMode = getEnv("PAIRSORT_WAL_SYNC_MODE", c.Storage.WALSyncMode)

	c.Sort.Strategy = getEnv("PAIRSORT_SORT_STRATEGY", c.Sort.Strategy)
	c.Sort.ImbalanceRatio = getEnvFloat("PAIRSORT_IMBALANCE_RATIO", c.Sort.ImbalanceRatio)
	c.Sort.MaxItems = getEnvInt("PAIRSORT_MAX_ITEMS", c.Sort.MaxItems)
	c.Sort.RejectContradictions = getEnvBool("PAIRSORT_REJECT_CONTRADICTIONS", c.Sort.RejectContradictions)

	c.Cache.Size = getEnvInt("PAIRSORT_CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvDuration("PAIRSORT_CACHE_TTL", c.Cache.TTL)

	c.Logging.Level = getEnv("PAIRSORT_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("PAIRSORT_LOG_FORMAT", c.Logging.Format)
}

// Validate checks that the configuration is usable.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", c.Server.MaxBodyBytes)
	}

	switch c.Storage.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("invalid storage backend: %q", c.Storage.Backend)
	}
	switch c.Storage.WALSyncMode {
	case "immediate", "batch", "none":
	default:
		return fmt.Errorf("invalid WAL sync mode: %q", c.Storage.WALSyncMode)
	}

	if _, err := order.ParseStrategy(c.Sort.Strategy); err != nil {
		return err
	}
	if c.Sort.ImbalanceRatio < 1 {
		return fmt.Errorf("imbalance ratio must be at least 1, got %g", c.Sort.ImbalanceRatio)
	}
	if c.Sort.MaxItems < 2 {
		return fmt.Errorf("max items must be at least 2, got %d", c.Sort.MaxItems)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache TTL: %v", c.Cache.TTL)
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{HTTP: %s:%d, Storage: %s, DataDir: %s, WAL: %v, Strategy: %s, MaxItems: %d}",
		c.Server.Address, c.Server.Port,
		c.Storage.Backend, c.Storage.DataDir, c.Storage.WALEnabled,
		c.Sort.Strategy, c.Sort.MaxItems,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
