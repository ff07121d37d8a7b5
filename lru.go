package rdfgraph

// lru is a bounded map with least-recently-used eviction. It is not safe
// for concurrent use; termCache and queryCache guard it with a mutex.
type lru[K comparable, V any] struct {
	items    map[K]*lruEntry[K, V]
	head     *lruEntry[K, V] // most recently used
	tail     *lruEntry[K, V] // least recently used
	capacity int
}

type lruEntry[K comparable, V any] struct {
	key        K
	val        V
	prev, next *lruEntry[K, V]
}

func newLRU[K comparable, V any](capacity int) *lru[K, V] {
	return &lru[K, V]{
		items:    make(map[K]*lruEntry[K, V], min(capacity, 1024)),
		capacity: capacity,
	}
}

func (l *lru[K, V]) get(k K) (V, bool) {
	e, ok := l.items[k]
	if !ok {
		var zero V
		return zero, false
	}
	l.touch(e)
	return e.val, true
}

// put inserts or replaces k and reports whether an entry was evicted.
func (l *lru[K, V]) put(k K, v V) bool {
	if e, ok := l.items[k]; ok {
		e.val = v
		l.touch(e)
		return false
	}
	e := &lruEntry[K, V]{key: k, val: v}
	l.items[k] = e
	l.link(e)
	if len(l.items) <= l.capacity || l.tail == nil {
		return false
	}
	victim := l.tail
	l.unlink(victim)
	delete(l.items, victim.key)
	return true
}

func (l *lru[K, V]) len() int { return len(l.items) }

func (l *lru[K, V]) touch(e *lruEntry[K, V]) {
	if l.head != e {
		l.unlink(e)
		l.link(e)
	}
}

// link puts e at the head.
func (l *lru[K, V]) link(e *lruEntry[K, V]) {
	e.prev, e.next = nil, l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
}

func (l *lru[K, V]) unlink(e *lruEntry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
