package dedup

import (
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/sha3"
)

// hashCache memoizes string -> int64 hashes. Scope and feed names repeat on
// every poll cycle; URLs repeat far less often but the cache still pays for
// itself within a single process lifetime. Collision risk is accepted per
// the engine's dedup design: the only consequence of a collision is a single
// suppressed post.
type hashCache struct {
	mu    sync.RWMutex
	cache map[string]int64
}

func newHashCache() *hashCache {
	return &hashCache{cache: make(map[string]int64, 1024)}
}

func (h *hashCache) hash(s string) int64 {
	h.mu.RLock()
	v, ok := h.cache[s]
	h.mu.RUnlock()
	if ok {
		return v
	}

	v = hashString(s)

	h.mu.Lock()
	h.cache[s] = v
	h.mu.Unlock()
	return v
}

// hashString computes a SHAKE-128 digest of s, truncates it to the first 8
// bytes, and reinterprets those bytes as a big-endian signed int64. This is
// the fixed-width key the post table is indexed on.
func hashString(s string) int64 {
	var digest [8]byte
	sha3.ShakeSum128(digest[:], []byte(s))
	return int64(binary.BigEndian.Uint64(digest[:]))
}
