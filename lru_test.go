package rdfgraph

import "testing"

func TestLRU(t *testing.T) {
	l := newLRU[string, int](2)
	if l.put("a", 1) || l.put("b", 2) {
		t.Fatal("eviction below capacity")
	}
	if v, ok := l.get("a"); !ok || v != 1 {
		t.Fatalf("get(a) = %d, %v", v, ok)
	}
	// b is least recently used.
	if !l.put("c", 3) {
		t.Fatal("expected an eviction")
	}
	if _, ok := l.get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if l.put("a", 10) {
		t.Fatal("replacing a key must not evict")
	}
	if v, _ := l.get("a"); v != 10 {
		t.Fatalf("get(a) = %d, want 10", v)
	}
	if l.len() != 2 {
		t.Fatalf("len = %d, want 2", l.len())
	}
}

func TestLRUSingleEntry(t *testing.T) {
	l := newLRU[int, string](1)
	l.put(1, "x")
	l.put(2, "y")
	if _, ok := l.get(1); ok {
		t.Fatal("1 should have been evicted")
	}
	if v, ok := l.get(2); !ok || v != "y" {
		t.Fatalf("get(2) = %q, %v", v, ok)
	}
	if l.head != l.tail {
		t.Fatal("single entry must be both head and tail")
	}
}
