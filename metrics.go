package rdfgraph

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Metrics holds operational counters of an Engine. All fields are atomic.
// Prometheus exposition is written by hand so the library does not depend
// on a metrics client.
type Metrics struct {
	// Query counters
	QueriesTotal    atomic.Uint64 // Query, ExecutePrepared and QueryBatch items
	SlowQueries     atomic.Uint64 // queries exceeding SlowQueryThreshold
	QueryErrorTotal atomic.Uint64 // queries that returned an error
	RewritePath     atomic.Uint64 // evaluations answered by the rewriter
	PlannerPath     atomic.Uint64 // evaluations answered by a plan

	// Query duration tracking (for histogram approximation)
	QueryDurationSum atomic.Int64 // cumulative microseconds
	QueryDurationMax atomic.Int64 // max observed microseconds

	// Prepared query cache
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64

	// Matcher traffic
	MatcherCalls atomic.Uint64
	RowsMatched  atomic.Uint64 // rows returned by the matcher before projection
	RowsReturned atomic.Uint64 // rows of final results

	engine *Engine
}

func newMetrics(e *Engine) *Metrics {
	return &Metrics{engine: e}
}

// recordQueryDuration records a query's wall-clock duration.
func (m *Metrics) recordQueryDuration(d time.Duration) {
	us := d.Microseconds()
	m.QueryDurationSum.Add(us)
	for {
		cur := m.QueryDurationMax.Load()
		if us <= cur {
			break
		}
		if m.QueryDurationMax.CompareAndSwap(cur, us) {
			break
		}
	}
}

// Snapshot returns a point-in-time copy of all metrics as a map.
func (m *Metrics) Snapshot() map[string]any {
	snap := map[string]any{
		"queries_total":         m.QueriesTotal.Load(),
		"slow_queries_total":    m.SlowQueries.Load(),
		"query_errors_total":    m.QueryErrorTotal.Load(),
		"rewrite_path_total":    m.RewritePath.Load(),
		"planner_path_total":    m.PlannerPath.Load(),
		"query_duration_sum_us": m.QueryDurationSum.Load(),
		"query_duration_max_us": m.QueryDurationMax.Load(),
		"cache_hits_total":      m.CacheHits.Load(),
		"cache_misses_total":    m.CacheMisses.Load(),
		"matcher_calls_total":   m.MatcherCalls.Load(),
		"rows_matched_total":    m.RowsMatched.Load(),
		"rows_returned_total":   m.RowsReturned.Load(),
	}
	if m.engine != nil {
		cs := m.engine.cache.stats()
		snap["query_cache_entries"] = cs.Entries
		snap["query_cache_capacity"] = cs.Capacity
	}
	return snap
}

// WritePrometheus writes all metrics in Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	pCounter(w, "rdfgraph_queries_total", "Total number of query evaluations", m.QueriesTotal.Load())
	pCounter(w, "rdfgraph_slow_queries_total", "Total number of slow queries", m.SlowQueries.Load())
	pCounter(w, "rdfgraph_query_errors_total", "Total number of query errors", m.QueryErrorTotal.Load())
	pCounter(w, "rdfgraph_rewrite_path_total", "Evaluations answered by the well-designed rewriter", m.RewritePath.Load())
	pCounter(w, "rdfgraph_planner_path_total", "Evaluations answered by a generated plan", m.PlannerPath.Load())
	pCounter(w, "rdfgraph_query_duration_microseconds_sum", "Cumulative query duration in microseconds", uint64(m.QueryDurationSum.Load()))
	pCounter(w, "rdfgraph_cache_hits_total", "Total prepared query cache hits", m.CacheHits.Load())
	pCounter(w, "rdfgraph_cache_misses_total", "Total prepared query cache misses", m.CacheMisses.Load())
	pCounter(w, "rdfgraph_matcher_calls_total", "Total basic graph pattern matcher calls", m.MatcherCalls.Load())
	pCounter(w, "rdfgraph_rows_matched_total", "Rows returned by the matcher", m.RowsMatched.Load())
	pCounter(w, "rdfgraph_rows_returned_total", "Rows of final results", m.RowsReturned.Load())

	if m.engine != nil {
		cs := m.engine.cache.stats()
		pGauge(w, "rdfgraph_query_cache_entries", "Current prepared query cache entries", float64(cs.Entries))
		pGauge(w, "rdfgraph_query_cache_capacity", "Prepared query cache capacity", float64(cs.Capacity))
	}

	pGauge(w, "rdfgraph_query_duration_microseconds_max", "Maximum observed query duration in microseconds", float64(m.QueryDurationMax.Load()))
}

// ---------------------------------------------------------------------------
// Prometheus text format helpers
// ---------------------------------------------------------------------------

func pCounter(w io.Writer, name, help string, val uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, val)
}

func pGauge(w io.Writer, name, help string, val float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, val)
}
