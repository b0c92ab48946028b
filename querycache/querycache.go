// Package querycache caches query embeddings for the retrieval pipeline's
// Stage 1, avoiding a redundant embed call when a user repeats (or a UI
// retries) the same query. Entries are namespaced by user so a cache hit
// can never leak one user's embedding into another's retrieval.
package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is a single cached query embedding.
type entry struct {
	vector    []float32
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a bounded, per-user-keyed LRU cache of query embeddings. Safe
// for concurrent use.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *entry]
	ttl time.Duration
}

// New creates a Cache holding at most maxEntries query embeddings, each
// valid for ttl before it is treated as a miss.
func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	l, err := lru.New[string, *entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, ttl: ttl}, nil
}

// key derives the cache key from userID and query. Hashing keeps the key
// bounded in length regardless of query size and avoids storing raw query
// text as a map key.
func key(userID, query string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached embedding for (userID, query), or (nil, false) on
// a miss or an expired entry.
func (c *Cache) Get(userID, query string) ([]float32, bool) {
	k := key(userID, query)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(k)
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.lru.Remove(k)
		return nil, false
	}
	return e.vector, true
}

// Set stores vector as the embedding for (userID, query).
func (c *Cache) Set(userID, query string, vector []float32) {
	k := key(userID, query)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(k, &entry{vector: vector, expiresAt: time.Now().Add(c.ttl)})
}

// Purge evicts all expired entries. Intended to be called periodically by
// a background goroutine; a cache with a modest maxEntries and TTL works
// correctly even if Purge is never called, since Get evicts lazily.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && e.expired(now) {
			c.lru.Remove(k)
		}
	}
}

// Len returns the current number of cached entries, including any not yet
// lazily evicted despite being expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
