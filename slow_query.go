package rdfgraph

import (
	"sync"
	"time"
)

// SlowQueryEntry records one evaluation that exceeded SlowQueryThreshold.
type SlowQueryEntry struct {
	Seq        uint64        `json:"seq" yaml:"seq"`
	QueryID    string        `json:"query_id" yaml:"query_id"`
	Query      string        `json:"query" yaml:"query"`
	Path       string        `json:"path" yaml:"path"`
	Duration   time.Duration `json:"-" yaml:"-"`
	DurationMs float64       `json:"duration_ms" yaml:"duration_ms"`
	Rows       int           `json:"rows" yaml:"rows"`
	Timestamp  time.Time     `json:"timestamp" yaml:"timestamp"`
}

const (
	defaultSlowLogSize = 100
	slowLogQueryLen    = 500 // bytes of query text kept per entry
	slowLogLogLen      = 200 // bytes of query text in the warning
)

// slowQueryLog keeps the most recent slow queries. Entry i lives at
// ring[i % len(ring)], so the write position is implied by seq.
type slowQueryLog struct {
	mu   sync.Mutex
	ring []SlowQueryEntry
	seq  uint64 // entries ever recorded
}

func newSlowQueryLog(size int) *slowQueryLog {
	if size <= 0 {
		size = defaultSlowLogSize
	}
	return &slowQueryLog{ring: make([]SlowQueryEntry, size)}
}

func (l *slowQueryLog) add(e SlowQueryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Seq = l.seq
	l.ring[l.seq%uint64(len(l.ring))] = e
	l.seq++
}

// Recent returns up to n entries, newest first. n <= 0 returns all kept.
func (l *slowQueryLog) Recent(n int) []SlowQueryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := min(l.seq, uint64(len(l.ring)))
	if n <= 0 || uint64(n) > kept {
		n = int(kept)
	}
	out := make([]SlowQueryEntry, 0, n)
	for s := l.seq; len(out) < n; s-- {
		out = append(out, l.ring[(s-1)%uint64(len(l.ring))])
	}
	return out
}

// slowQueryCheck records an evaluation that took at least the threshold.
func (e *Engine) slowQueryCheck(queryID, query, path string, duration time.Duration, rowCount int) {
	threshold := e.opts.SlowQueryThreshold
	if threshold <= 0 || duration < threshold {
		return
	}

	e.metrics.SlowQueries.Add(1)
	e.slowLog.add(SlowQueryEntry{
		QueryID:    queryID,
		Query:      truncateQuery(query, slowLogQueryLen),
		Path:       path,
		Duration:   duration,
		DurationMs: float64(duration.Microseconds()) / 1000.0,
		Rows:       rowCount,
		Timestamp:  time.Now(),
	})
	e.log.Warn("slow query",
		"query_id", queryID,
		"path", path,
		"duration", duration,
		"threshold", threshold,
		"rows", rowCount,
		"query", truncateQuery(query, slowLogLogLen),
	)
}

// SlowQueries returns up to n recent slow queries, newest first.
func (e *Engine) SlowQueries(n int) []SlowQueryEntry {
	return e.slowLog.Recent(n)
}

func truncateQuery(q string, maxLen int) string {
	if len(q) <= maxLen {
		return q
	}
	return q[:maxLen] + "..."
}
