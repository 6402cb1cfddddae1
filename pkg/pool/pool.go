// Package pool provides object pooling for pairsort's hot paths.
//
// Status lookups hash every graph key (cache.Digest) and state transfers
// compress and decompress whole graphs (codec). Both run on every request,
// so their scratch space is reused instead of reallocated.
//
// Pooled objects:
//   - Byte buffers (zstd scratch for compact states)
//   - String slices (sorted graph keys)
//
// Usage:
//
//	keys := pool.GetStringSlice()
//	defer pool.PutStringSlice(keys)
//
//	keys = append(keys, "a", "b")
package pool

import (
	"sync"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxBufferSize is the largest buffer capacity returned to the pool.
	MaxBufferSize int

	// MaxSliceSize is the largest string slice capacity returned to the pool.
	MaxSliceSize int
}

var (
	configMu     sync.RWMutex
	globalConfig = DefaultConfig()
)

// DefaultConfig returns pooling enabled with 1MB buffers and 4096-entry
// slices as the retention limits.
func DefaultConfig() PoolConfig {
	return PoolConfig{
		Enabled:       true,
		MaxBufferSize: 1 << 20,
		MaxSliceSize:  4096,
	}
}

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	configMu.Lock()
	globalConfig = config
	configMu.Unlock()
}

func current() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return current().Enabled
}

// =============================================================================
// Byte Buffer Pool
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 1024)
		return &b
	},
}

// GetByteBuffer returns an empty byte buffer from the pool.
func GetByteBuffer() []byte {
	if !IsEnabled() {
		return make([]byte, 0, 1024)
	}
	return (*byteBufferPool.Get().(*[]byte))[:0]
}

// PutByteBuffer returns a byte buffer to the pool. The caller must not use
// buf afterwards.
func PutByteBuffer(buf []byte) {
	cfg := current()
	if !cfg.Enabled || buf == nil || cap(buf) > cfg.MaxBufferSize {
		return
	}
	buf = buf[:0]
	byteBufferPool.Put(&buf)
}

// =============================================================================
// String Slice Pool
// =============================================================================

var stringSlicePool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 64)
		return &s
	},
}

// GetStringSlice returns an empty string slice from the pool.
func GetStringSlice() []string {
	if !IsEnabled() {
		return make([]string, 0, 64)
	}
	return (*stringSlicePool.Get().(*[]string))[:0]
}

// PutStringSlice returns a string slice to the pool. Elements are cleared so
// pooled slices do not pin item names.
func PutStringSlice(s []string) {
	cfg := current()
	if !cfg.Enabled || s == nil || cap(s) > cfg.MaxSliceSize {
		return
	}
	clear(s[:cap(s)])
	s = s[:0]
	stringSlicePool.Put(&s)
}
