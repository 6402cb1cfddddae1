package cache

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"slices"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/pool"
)

// Digest returns a hex BLAKE2b-256 digest of everything a sort status
// depends on: the engine's strategy and imbalance ratio, the item list in
// order, and the graph. Graph keys are hashed in sorted order and child lists
// in stored order, so equal graphs built in different map iteration orders
// share a digest. The same value doubles as the HTTP ETag of a status.
func Digest(engine order.Engine, items []string, g order.Graph) string {
	h, _ := blake2b.New256(nil) // only fails for oversized keys

	writeString(h, string(engine.Strategy))
	var ratio [8]byte
	binary.BigEndian.PutUint64(ratio[:], math.Float64bits(engine.ImbalanceRatio))
	h.Write(ratio[:])

	writeLen(h, len(items))
	for _, item := range items {
		writeString(h, item)
	}

	keys := pool.GetStringSlice()
	defer func() { pool.PutStringSlice(keys) }()
	for k, children := range g {
		if len(children) > 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	writeLen(h, len(keys))
	for _, k := range keys {
		writeString(h, k)
		writeLen(h, len(g[k]))
		for _, child := range g[k] {
			writeString(h, child)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Length prefixes keep ["ab","c"] and ["a","bc"] apart.
func writeString(h hash.Hash, s string) {
	writeLen(h, len(s))
	h.Write([]byte(s))
}

func writeLen(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
