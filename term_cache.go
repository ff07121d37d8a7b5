package rdfgraph

import (
	"sync"
)

// termCache is a sharded LRU of decoded terms. It saves a bbolt lookup and
// a msgpack decode for IDs that appear in many result rows (classes,
// common objects). Each shard has its own mutex.
type termCache struct {
	shards   []termCacheShard
	capacity int
}

type termCacheKey struct {
	id    ID
	space TermSpace
}

type termCacheShard struct {
	mu  sync.Mutex
	lru *lru[termCacheKey, string]
}

// termCacheShardCount must be a power of two.
const termCacheShardCount = 16

// newTermCache returns a cache of the given total capacity. With
// capacity <= 0 every method is a no-op.
func newTermCache(capacity int) *termCache {
	tc := &termCache{
		shards:   make([]termCacheShard, termCacheShardCount),
		capacity: capacity,
	}
	perShard := max(capacity/termCacheShardCount, 1)
	for i := range tc.shards {
		tc.shards[i].lru = newLRU[termCacheKey, string](perShard)
	}
	return tc
}

func (tc *termCache) shard(k termCacheKey) *termCacheShard {
	return &tc.shards[(uint64(k.id)^uint64(k.space))&(termCacheShardCount-1)]
}

// Get returns the cached term of id.
func (tc *termCache) Get(id ID, space TermSpace) (string, bool) {
	if tc.capacity <= 0 {
		return "", false
	}
	k := termCacheKey{id: id, space: space}
	s := tc.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.get(k)
}

// Put caches the term of id, evicting the shard's LRU entry when full.
func (tc *termCache) Put(id ID, space TermSpace, term string) {
	if tc.capacity <= 0 {
		return
	}
	k := termCacheKey{id: id, space: space}
	s := tc.shard(k)
	s.mu.Lock()
	s.lru.put(k, term)
	s.mu.Unlock()
}

// Len returns the number of cached terms.
func (tc *termCache) Len() int {
	if tc.capacity <= 0 {
		return 0
	}
	total := 0
	for i := range tc.shards {
		tc.shards[i].mu.Lock()
		total += tc.shards[i].lru.len()
		tc.shards[i].mu.Unlock()
	}
	return total
}
