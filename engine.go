package rdfgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrEngineClosed is returned by every Engine method after Close.
var ErrEngineClosed = errors.New("rdfgraph: engine is closed")

const (
	pathRewrite = "rewrite"
	pathPlan    = "plan"
)

// Engine evaluates queries over a Matcher and a StringIndex.
//
// Concurrency model:
//   - Independent queries may run concurrently; each evaluation owns its
//     executor, relations and filter caches.
//   - Prepared queries and plans are immutable and shared.
//   - The closed flag is an atomic.Bool checked by every entry point.
type Engine struct {
	opts     Options
	matcher  Matcher
	index    StringIndex
	log      *slog.Logger
	metrics  *Metrics
	slowLog  *slowQueryLog
	governor *queryGovernor
	cache    *queryCache
	pool     *workerPool
	closed   atomic.Bool
}

// NewEngine returns an engine over m and idx. A *Store serves as both.
func NewEngine(m Matcher, idx StringIndex, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		opts:    opts,
		matcher: m,
		index:   idx,
		log:     logger,
		slowLog: newSlowQueryLog(opts.SlowQueryLogSize),
		governor: &queryGovernor{
			maxRows:        opts.MaxResultRows,
			defaultTimeout: opts.DefaultQueryTimeout,
		},
		cache: newQueryCache(opts.PlanCacheSize),
		pool:  newWorkerPool(opts.WorkerPoolSize),
	}
	e.metrics = newMetrics(e)
	e.log.Debug("engine created",
		"max_result_rows", opts.MaxResultRows,
		"default_query_timeout", opts.DefaultQueryTimeout,
		"workers", e.pool.workers,
		"rewrite", !opts.DisableRewrite,
	)
	return e
}

// Close stops the worker pool. The matcher and index are not closed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.pool.stop()
	return nil
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// QueryCacheStats returns prepared query cache statistics.
func (e *Engine) QueryCacheStats() CacheStats { return e.cache.stats() }

// ---------------------------------------------------------------------------
// Preparation
// ---------------------------------------------------------------------------

// Prepare validates q, decides its evaluation path and generates its plan.
// The result is cached; Query benefits from it automatically.
func (e *Engine) Prepare(q *Query) (*PreparedQuery, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.prepare(q)
}

func (e *Engine) prepare(q *Query) (*PreparedQuery, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", ErrIllFormedQuery)
	}
	key := q.String()
	if pq := e.cache.get(key); pq != nil {
		e.metrics.CacheHits.Add(1)
		return pq, nil
	}
	e.metrics.CacheMisses.Add(1)

	if err := q.validate(); err != nil {
		return nil, err
	}
	pq := &PreparedQuery{raw: key, query: q, predicateVars: q.predicateVars()}

	rewrite := false
	if q.Form == FormSelect && !e.opts.DisableRewrite {
		err := checkWellDesigned(q.Where)
		rewrite = err == nil
		if err != nil {
			e.log.Debug("query not rewritable", "reason", err)
		}
	}
	if !rewrite {
		pq.plan = GeneratePlan(q.Where)
		e.log.Debug("plan generated", "instructions", len(pq.plan.Instructions))
	}

	e.cache.put(key, pq)
	return pq, nil
}

// CheckWellDesigned reports nil when gp is evaluated by the rewriter, and
// otherwise why it is not. Connectivity failures wrap ErrNotConnected.
func (e *Engine) CheckWellDesigned(gp *GroupPattern) error {
	return checkWellDesigned(gp)
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Query evaluates q. Panics during evaluation are returned as
// ErrQueryPanic.
func (e *Engine) Query(ctx context.Context, q *Query) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return safeExecuteResult(func() (*Result, error) {
		pq, err := e.prepare(q)
		if err != nil {
			e.metrics.QueriesTotal.Add(1)
			e.metrics.QueryErrorTotal.Add(1)
			return nil, err
		}
		res, _, err := e.execute(ctx, pq, false)
		return res, err
	})
}

// ExecutePrepared evaluates a prepared query.
func (e *Engine) ExecutePrepared(ctx context.Context, pq *PreparedQuery) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return safeExecuteResult(func() (*Result, error) {
		res, _, err := e.execute(ctx, pq, false)
		return res, err
	})
}

// BatchResult is the outcome of one query of a batch.
type BatchResult struct {
	Result *Result
	Err    error
}

// QueryBatch evaluates independent queries on the worker pool and returns
// their outcomes in order.
func (e *Engine) QueryBatch(ctx context.Context, queries []*Query) ([]BatchResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	tasks := make([]Task, len(queries))
	for i, q := range queries {
		q := q
		tasks[i] = func() (any, error) { return e.Query(ctx, q) }
	}
	out := make([]BatchResult, len(queries))
	for i, r := range e.pool.ExecuteConcurrent(ctx, tasks) {
		out[i].Err = r.Err
		if res, ok := r.Value.(*Result); ok {
			out[i].Result = res
		}
	}
	return out, nil
}

// Explain returns the operator tree of q without evaluating it.
func (e *Engine) Explain(q *Query) (*QueryPlan, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	pq, err := e.prepare(q)
	if err != nil {
		return nil, err
	}
	var root *PlanNode
	if pq.plan != nil {
		root = pq.plan.Explain()
	} else {
		root = e.newRewriter(nil, q).explain(q.Where, nil)
	}
	return &QueryPlan{Root: wrapModifiers(root, q), Path: pq.Path()}, nil
}

// Profile evaluates q and returns its operator tree with the rows and time
// of every plan instruction. Rewritten queries report totals only.
func (e *Engine) Profile(ctx context.Context, q *Query) (*QueryPlan, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return safeExecuteResult(func() (*QueryPlan, error) {
		pq, err := e.prepare(q)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		res, stats, err := e.execute(ctx, pq, true)
		if err != nil {
			return nil, err
		}
		var root *PlanNode
		if pq.plan != nil {
			root = pq.plan.tree(stats)
		} else {
			root = e.newRewriter(nil, q).explain(q.Where, nil)
		}
		top := wrapModifiers(root, q)
		top.ActualRows, top.ElapsedTime, top.Profiled = res.Len(), time.Since(start), true
		return &QueryPlan{Root: top, Path: pq.Path(), Profile: true, Result: res}, nil
	})
}

func (e *Engine) newRewriter(ex *executor, q *Query) *rewriter {
	return &rewriter{exec: ex, projection: NewVarset(q.Projection...), distinct: q.Distinct}
}

// execute runs one evaluation of pq. stats is set for profiled planner runs.
func (e *Engine) execute(ctx context.Context, pq *PreparedQuery, profile bool) (*Result, []instructionStats, error) {
	queryID := uuid.NewString()
	log := e.log.With("query_id", queryID)
	start := time.Now()
	e.metrics.QueriesTotal.Add(1)

	ex := newExecutor(e.matcher, e.index, pq.predicateVars, log)
	ex.metrics = e.metrics
	ex.governor = e.governor
	if profile && pq.plan != nil {
		ex.profile = make([]instructionStats, len(pq.plan.Instructions))
	}

	q := pq.query
	var (
		set *RelationSet
		err error
	)
	if pq.plan == nil {
		e.metrics.RewritePath.Add(1)
		set, err = e.newRewriter(ex, q).evaluate(ctx, q.Where, nil)
	} else {
		e.metrics.PlannerPath.Add(1)
		set, err = ex.run(ctx, pq.plan)
	}
	if err != nil {
		e.metrics.QueryErrorTotal.Add(1)
		log.Debug("query failed", "path", pq.Path(), "error", err)
		return nil, nil, err
	}

	res, err := e.shape(set, q, ex.fc)
	set.Release()
	if err != nil {
		e.metrics.QueryErrorTotal.Add(1)
		return nil, nil, err
	}
	res.QueryID = queryID
	res.Path = pq.Path()

	elapsed := time.Since(start)
	e.metrics.recordQueryDuration(elapsed)
	e.metrics.RowsReturned.Add(uint64(res.Len()))
	e.slowQueryCheck(queryID, pq.raw, res.Path, elapsed, res.Len())
	log.Debug("query executed",
		"path", res.Path,
		"rows", res.Len(),
		"duration", elapsed,
	)
	return res, ex.profile, nil
}
