package rdfgraph

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Prepared query cache: avoids re-validating and re-planning queries.
//
// The cache is a bounded LRU keyed by Query.String(). Engine.Query consults
// it automatically; Engine.Prepare returns the entry for repeated use.
//
//	pq, err := eng.Prepare(q)
//	res, err := eng.ExecutePrepared(ctx, pq)
// ---------------------------------------------------------------------------

// PreparedQuery is a validated query with its evaluation path decided and,
// for the planner path, its plan generated. Immutable and safe for
// concurrent use.
type PreparedQuery struct {
	raw           string
	query         *Query
	plan          *Plan // nil on the rewrite path
	predicateVars Varset
}

// String returns the canonical query text.
func (pq *PreparedQuery) String() string { return pq.raw }

// Path returns "rewrite" or "plan".
func (pq *PreparedQuery) Path() string {
	if pq.plan == nil {
		return pathRewrite
	}
	return pathPlan
}

// Plan returns the generated plan, nil on the rewrite path.
func (pq *PreparedQuery) Plan() *Plan { return pq.plan }

// CacheStats holds prepared query cache statistics.
type CacheStats struct {
	Entries  int    `json:"entries" yaml:"entries"`
	Capacity int    `json:"capacity" yaml:"capacity"`
	Hits     uint64 `json:"hits" yaml:"hits"`
	Misses   uint64 `json:"misses" yaml:"misses"`
}

const defaultQueryCacheCapacity = 10_000

// queryCache maps canonical query text to prepared queries.
type queryCache struct {
	mu       sync.Mutex
	lru      *lru[string, *PreparedQuery]
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
}

func newQueryCache(capacity int) *queryCache {
	if capacity <= 0 {
		capacity = defaultQueryCacheCapacity
	}
	return &queryCache{
		lru:      newLRU[string, *PreparedQuery](capacity),
		capacity: capacity,
	}
}

func (c *queryCache) get(key string) *PreparedQuery {
	c.mu.Lock()
	pq, ok := c.lru.get(key)
	c.mu.Unlock()
	if !ok {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return pq
}

func (c *queryCache) put(key string, pq *PreparedQuery) {
	c.mu.Lock()
	c.lru.put(key, pq)
	c.mu.Unlock()
}

func (c *queryCache) stats() CacheStats {
	c.mu.Lock()
	n := c.lru.len()
	c.mu.Unlock()
	return CacheStats{
		Entries:  n,
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}
