package transport

import "sync"

// NonceCache is a bounded, mutex-guarded set of recently-seen nonces used
// to reject replayed frames. It evicts an arbitrary entry once it grows
// past MaxSeenNonces — acceptable because the clock-skew check already
// bounds how long a frame (and therefore its nonce) stays relevant
// (spec.md §4.3 step 4).
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewNonceCache returns an empty cache.
func NewNonceCache() *NonceCache {
	return &NonceCache{seen: make(map[string]struct{})}
}

// CheckAndAdd returns false if nonce was already present (a replay);
// otherwise it records nonce and returns true.
func (c *NonceCache) CheckAndAdd(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[nonce]; ok {
		return false
	}
	c.seen[nonce] = struct{}{}

	if len(c.seen) > MaxSeenNonces {
		for k := range c.seen {
			delete(c.seen, k)
			break
		}
	}
	return true
}
