package rdfgraph

import (
	"fmt"
	"testing"
)

func TestQueryCache_HitMiss(t *testing.T) {
	c := newQueryCache(10)
	pq := &PreparedQuery{raw: "q1"}

	if c.get("q1") != nil {
		t.Fatal("expected miss on empty cache")
	}
	c.put("q1", pq)
	if got := c.get("q1"); got != pq {
		t.Fatalf("got %p, want %p", got, pq)
	}

	st := c.stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 || st.Capacity != 10 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestQueryCache_EvictsLRU(t *testing.T) {
	c := newQueryCache(3)
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("q%d", i)
		c.put(key, &PreparedQuery{raw: key})
	}
	c.get("q0") // q1 is now least recently used
	c.put("q3", &PreparedQuery{raw: "q3"})

	if c.get("q1") != nil {
		t.Fatal("q1 should have been evicted")
	}
	for _, k := range []string{"q0", "q2", "q3"} {
		if c.get(k) == nil {
			t.Fatalf("%s should still be cached", k)
		}
	}
	if n := c.stats().Entries; n != 3 {
		t.Fatalf("entries = %d, want 3", n)
	}
}

func TestQueryCache_PutReplaces(t *testing.T) {
	c := newQueryCache(2)
	a, b := &PreparedQuery{raw: "a"}, &PreparedQuery{raw: "a"}
	c.put("a", a)
	c.put("a", b)
	if c.get("a") != b {
		t.Fatal("put did not replace the entry")
	}
	if n := c.stats().Entries; n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}
}

func TestQueryCache_DefaultCapacity(t *testing.T) {
	if c := newQueryCache(0); c.capacity != defaultQueryCacheCapacity {
		t.Fatalf("capacity = %d, want %d", c.capacity, defaultQueryCacheCapacity)
	}
}

func TestPreparedQueryPath(t *testing.T) {
	pq := &PreparedQuery{raw: "SELECT * WHERE { }"}
	if pq.Path() != pathRewrite || pq.Plan() != nil {
		t.Fatal("a prepared query without a plan is rewritten")
	}
	pq.plan = GeneratePlan(NewGroup())
	if pq.Path() != pathPlan {
		t.Fatal("a prepared query with a plan uses the planner")
	}
	if pq.String() != "SELECT * WHERE { }" {
		t.Fatalf("String = %q", pq.String())
	}
}
