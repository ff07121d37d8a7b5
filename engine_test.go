package rdfgraph

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const xsdInteger = "^^<http://www.w3.org/2001/XMLSchema#integer>"

func intLit(n string) string { return `"` + n + `"` + xsdInteger }

// peopleGraph: alice knows bob and carol, bob knows carol; bob is 30,
// carol is 25, dave is 41 and knows nobody.
func peopleGraph() *memGraph {
	return newMemGraph(
		[3]string{"<http://ex/alice>", exKnows, "<http://ex/bob>"},
		[3]string{"<http://ex/alice>", exKnows, "<http://ex/carol>"},
		[3]string{"<http://ex/bob>", exKnows, "<http://ex/carol>"},
		[3]string{"<http://ex/bob>", exAge, intLit("30")},
		[3]string{"<http://ex/carol>", exAge, intLit("25")},
		[3]string{"<http://ex/dave>", exAge, intLit("41")},
	)
}

// bothPaths runs fn against an engine with rewriting on and off.
func bothPaths(t *testing.T, g *memGraph, fn func(t *testing.T, e *Engine)) {
	t.Run("rewrite", func(t *testing.T) {
		fn(t, newTestEngine(t, g, g))
	})
	t.Run("plan", func(t *testing.T) {
		opts := DefaultOptions()
		opts.DisableRewrite = true
		fn(t, newTestEngine(t, g, g, opts))
	})
}

func TestEngineFilterOverStubMatcher(t *testing.T) {
	m := stubMatcher{fn: func(bgp *EncodedBGP) [][]ID {
		return [][]ID{{1, 2, 5}, {1, 3, 6}}
	}}
	idx := stubIndex{
		SpaceValue: {
			1: "<http://ex/s>",
			5: `"5"^^xsd:integer`,
			6: `"6"^^xsd:integer`,
		},
		SpacePredicate: {
			2: "<http://ex/p2>",
			3: "<http://ex/p3>",
		},
	}
	where := NewGroup().
		AddTriple("?s", "?p", "?o").
		AddFilter(Eq(Var("?o"), Const(`"5"^^xsd:integer`)))

	for _, disable := range []bool{false, true} {
		opts := DefaultOptions()
		opts.DisableRewrite = disable
		e := newTestEngine(t, m, idx, opts)

		res, err := e.Query(context.Background(), NewSelect(where))
		require.NoError(t, err)
		assert.Equal(t, []string{"?s", "?p", "?o"}, res.Vars)
		assert.Equal(t, [][]ID{{1, 2, 5}}, res.Rows)

		terms, err := res.Terms()
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"<http://ex/s>", "<http://ex/p2>", `"5"^^xsd:integer`}}, terms)
	}
}

func TestEngineOptional(t *testing.T) {
	g := newMemGraph(
		[3]string{"<http://ex/alice>", exKnows, "<http://ex/bob>"},
		[3]string{"<http://ex/alice>", exKnows, "<http://ex/carol>"},
		[3]string{"<http://ex/bob>", exAge, intLit("30")},
	)
	where := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().AddTriple("?o", exAge, "?a"))

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?s", "?o", "?a"))
		require.NoError(t, err)
		require.Equal(t, 2, res.Len())

		unbound := 0
		for _, row := range res.Rows {
			if row[2] == Unbound {
				unbound++
			}
		}
		assert.Equal(t, 1, unbound)
		assert.Equal(t, [][]string{
			{"<http://ex/alice>", "<http://ex/bob>", intLit("30")},
			{"<http://ex/alice>", "<http://ex/carol>", ""},
		}, decoded(t, res))
	})
}

func TestEngineUnion(t *testing.T) {
	c := "<http://ex/c>"
	g := newMemGraph(
		[3]string{"<http://ex/x1>", exP, c},
		[3]string{"<http://ex/x2>", exP, c},
		[3]string{"<http://ex/y1>", exQ, c},
		[3]string{"<http://ex/y2>", exQ, c},
		[3]string{"<http://ex/y3>", exQ, c},
	)
	where := NewGroup().AddUnion(
		NewGroup().AddTriple("?x", exP, c),
		NewGroup().AddTriple("?y", exQ, c),
	)

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?x", "?y"))
		require.NoError(t, err)
		require.Equal(t, 5, res.Len())
		for _, row := range res.Rows {
			assert.True(t, (row[0] == Unbound) != (row[1] == Unbound), "row %v", row)
		}
	})
}

func TestEngineSelectStarUsesEveryVariable(t *testing.T) {
	g := peopleGraph()
	res, err := newTestEngine(t, g, g).Query(context.Background(),
		NewSelect(NewGroup().AddTriple("?s", exAge, "?a")))
	require.NoError(t, err)
	assert.Equal(t, []string{"?s", "?a"}, res.Vars)
	assert.Equal(t, 3, res.Len())
}

func TestEngineOrderLimitOffset(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().AddTriple("?s", exAge, "?a")

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		ctx := context.Background()

		res, err := e.Query(ctx, NewSelect(where, "?s").OrderAsc("?a"))
		require.NoError(t, err)
		terms, _ := res.Terms()
		assert.Equal(t, [][]string{{"<http://ex/carol>"}, {"<http://ex/bob>"}, {"<http://ex/dave>"}}, terms)

		res, err = e.Query(ctx, NewSelect(where, "?s").OrderDesc("?a").WithLimit(2))
		require.NoError(t, err)
		terms, _ = res.Terms()
		assert.Equal(t, [][]string{{"<http://ex/dave>"}, {"<http://ex/bob>"}}, terms)

		res, err = e.Query(ctx, NewSelect(where, "?s").OrderAsc("?a").WithOffset(1).WithLimit(1))
		require.NoError(t, err)
		terms, _ = res.Terms()
		assert.Equal(t, [][]string{{"<http://ex/bob>"}}, terms)

		res, err = e.Query(ctx, NewSelect(where, "?s").WithOffset(10))
		require.NoError(t, err)
		assert.Equal(t, 0, res.Len())
	})
}

func TestEngineOrderUnboundFirst(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().AddTriple("?o", exKnows, "?z"))

	res, err := newTestEngine(t, g, g).Query(context.Background(), NewSelect(where, "?o", "?z").OrderAsc("?z"))
	require.NoError(t, err)
	require.Equal(t, 3, res.Len())
	assert.Equal(t, Unbound, res.Rows[0][1])
	assert.Equal(t, Unbound, res.Rows[1][1])
	assert.NotEqual(t, Unbound, res.Rows[2][1])
}

func TestEngineDistinct(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().AddTriple("?s", exKnows, "?o")

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?s").WithDistinct())
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"<http://ex/alice>"}, {"<http://ex/bob>"}}, decoded(t, res))

		res, err = e.Query(context.Background(), NewSelect(where, "?s"))
		require.NoError(t, err)
		assert.Equal(t, 3, res.Len())
	})
}

func TestEngineDistinctKeepsOrder(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().AddTriple("?s", exKnows, "?o")

	res, err := newTestEngine(t, g, g).Query(context.Background(),
		NewSelect(where, "?o").WithDistinct().OrderDesc("?o"))
	require.NoError(t, err)
	terms, _ := res.Terms()
	assert.Equal(t, [][]string{{"<http://ex/carol>"}, {"<http://ex/bob>"}}, terms)
}

func TestEngineDistinctOrderedOutsideProjection(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().AddTriple("?s", exKnows, "?o")

	res, err := newTestEngine(t, g, g).Query(context.Background(),
		NewSelect(where, "?s").WithDistinct().OrderAsc("?o"))
	require.NoError(t, err)
	terms, _ := res.Terms()
	assert.Equal(t, [][]string{{"<http://ex/alice>"}, {"<http://ex/bob>"}}, terms)
}

func TestEngineDistinctWithUnboundColumns(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().AddTriple("?o", exAge, "?a"))

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?a", "?missing").WithDistinct())
		require.NoError(t, err)
		assert.Equal(t, [][]string{{intLit("25"), ""}, {intLit("30"), ""}}, decoded(t, res))
	})
}

func TestEngineFilterInsideOptionalScope(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().
			AddTriple("?o", exAge, "?a").
			AddFilter(Gt(Var("?a"), Const(`"26"^^xsd:integer`))))

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?s", "?o", "?a"))
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"<http://ex/alice>", "<http://ex/bob>", intLit("30")},
			{"<http://ex/alice>", "<http://ex/carol>", ""},
			{"<http://ex/bob>", "<http://ex/carol>", ""},
		}, decoded(t, res))
	})
}

// A filter inside an OPTIONAL sees only the OPTIONAL's own variables, so a
// reference to an outer variable is an error and the block never binds.
func TestEngineOptionalFilterOnOuterVariable(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().
		AddTriple("?s", exAge, "?a").
		AddOptional(NewGroup().
			AddTriple("?s", exKnows, "?o").
			AddFilter(Gt(Var("?a"), Const(intLit("3")))))
	require.NoError(t, checkWellDesigned(where))

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?s", "?a", "?o"))
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"<http://ex/bob>", intLit("30"), ""},
			{"<http://ex/carol>", intLit("25"), ""},
			{"<http://ex/dave>", intLit("41"), ""},
		}, decoded(t, res))
	})
}

func TestEngineFilterOnOptionalVariable(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().AddTriple("?o", exAge, "?a")).
		AddFilter(Not(Bound("?a")))

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?s", "?o"))
		require.NoError(t, err)
		assert.Equal(t, 0, res.Len(), "every known person has an age")
	})
}

func TestEngineNestedOptional(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().
		AddTriple("?s", exAge, "?a").
		AddOptional(NewGroup().
			AddTriple("?s", exKnows, "?o").
			AddOptional(NewGroup().AddTriple("?o", exAge, "?b")))

	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewSelect(where, "?s", "?o", "?b"))
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"<http://ex/bob>", "<http://ex/carol>", intLit("25")},
			{"<http://ex/carol>", "", ""},
			{"<http://ex/dave>", "", ""},
		}, decoded(t, res))
	})
}

func TestEngineMinus(t *testing.T) {
	g := peopleGraph()
	where := NewGroup().
		AddTriple("?s", exAge, "?a").
		AddMinus(NewGroup().AddTriple("?s", exKnows, "?o"))

	e := newTestEngine(t, g, g)
	res, err := e.Query(context.Background(), NewSelect(where, "?s"))
	require.NoError(t, err)
	assert.Equal(t, pathPlan, res.Path)
	assert.Equal(t, [][]string{{"<http://ex/carol>"}, {"<http://ex/dave>"}}, decoded(t, res))
}

func TestEngineExists(t *testing.T) {
	g := peopleGraph()
	knowsSomeone := NewGroup().AddTriple("?s", exKnows, "?x")

	e := newTestEngine(t, g, g)
	res, err := e.Query(context.Background(), NewSelect(
		NewGroup().AddTriple("?s", exAge, "?a").AddFilter(Exists(knowsSomeone)), "?s"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"<http://ex/bob>"}}, decoded(t, res))

	res, err = e.Query(context.Background(), NewSelect(
		NewGroup().AddTriple("?s", exAge, "?a").AddFilter(NotExists(knowsSomeone)), "?s"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"<http://ex/carol>"}, {"<http://ex/dave>"}}, decoded(t, res))
}

func TestEngineAsk(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	res, err := e.Query(context.Background(), NewAsk(NewGroup().AddTriple("<http://ex/alice>", exKnows, "?o")))
	require.NoError(t, err)
	assert.True(t, res.Ask)
	assert.Equal(t, "true\n", res.String())

	res, err = e.Query(context.Background(), NewAsk(NewGroup().AddTriple("<http://ex/dave>", exKnows, "?o")))
	require.NoError(t, err)
	assert.False(t, res.Ask)
}

func TestEngineUnknownConstantSkipsMatcher(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	res, err := e.Query(context.Background(), NewSelect(NewGroup().AddTriple("?s", "<http://ex/unknown>", "?o")))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.Equal(t, int64(0), g.calls.Load())
}

func TestEngineIllFormedQuery(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	where := NewGroup().
		AddTriple("?s", "?p", "?o").
		AddTriple("?p", exAge, "?a")
	_, err := e.Query(context.Background(), NewSelect(where))
	assert.ErrorIs(t, err, ErrIllFormedQuery)

	_, err = e.Query(context.Background(), NewSelect(nil))
	assert.ErrorIs(t, err, ErrIllFormedQuery)

	_, err = e.Query(context.Background(), NewSelect(NewGroup(), "s"))
	assert.ErrorIs(t, err, ErrIllFormedQuery)

	_, err = e.Query(context.Background(), NewSelect(NewGroup()).WithLimit(-1))
	assert.ErrorIs(t, err, ErrIllFormedQuery)

	assert.Equal(t, uint64(4), e.Metrics().QueryErrorTotal.Load())
}

func TestEngineEmptyGroupHasOneSolution(t *testing.T) {
	g := peopleGraph()
	bothPaths(t, g, func(t *testing.T, e *Engine) {
		res, err := e.Query(context.Background(), NewAsk(NewGroup()))
		require.NoError(t, err)
		assert.True(t, res.Ask)
	})
}

func TestEngineResultTooLarge(t *testing.T) {
	g := peopleGraph()
	opts := DefaultOptions()
	opts.MaxResultRows = 2
	e := newTestEngine(t, g, g, opts)

	_, err := e.Query(context.Background(), NewSelect(NewGroup().AddTriple("?s", exAge, "?a")))
	assert.ErrorIs(t, err, ErrResultTooLarge)

	res, err := e.Query(context.Background(), NewSelect(NewGroup().AddTriple("?s", exAge, "?a")).WithLimit(2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Len())
}

func TestEngineCanceledContext(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Query(ctx, NewSelect(NewGroup().AddTriple("?s", exAge, "?a")))
	assert.ErrorIs(t, err, context.Canceled)
}

type panicMatcher struct{}

func (panicMatcher) Match(context.Context, *EncodedBGP) ([][]ID, error) {
	panic("matcher exploded")
}

func TestEnginePanicIsReturned(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, panicMatcher{}, g)

	_, err := e.Query(context.Background(), NewSelect(NewGroup().AddTriple("?s", exAge, "?a")))
	require.ErrorIs(t, err, ErrQueryPanic)
	assert.Contains(t, err.Error(), "matcher exploded")
}

type failingMatcher struct{ err error }

func (m failingMatcher) Match(context.Context, *EncodedBGP) ([][]ID, error) { return nil, m.err }

func TestEngineMatcherErrorIsWrapped(t *testing.T) {
	g := peopleGraph()
	boom := errors.New("disk on fire")
	e := newTestEngine(t, failingMatcher{err: boom}, g)

	_, err := e.Query(context.Background(), NewSelect(NewGroup().AddTriple("?s", exAge, "?a")))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "match [")
}

func TestEngineClosed(t *testing.T) {
	g := peopleGraph()
	e := NewEngine(g, g, Options{Logger: quietLogger()})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	q := NewSelect(NewGroup().AddTriple("?s", exAge, "?a"))
	_, err := e.Query(context.Background(), q)
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.Prepare(q)
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.Explain(q)
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.QueryBatch(context.Background(), []*Query{q})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestEnginePrepareCachesAndPicksPath(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	q := NewSelect(NewGroup().AddTriple("?s", exAge, "?a"), "?s")
	pq, err := e.Prepare(q)
	require.NoError(t, err)
	assert.Equal(t, pathRewrite, pq.Path())
	assert.Nil(t, pq.Plan())

	again, err := e.Prepare(NewSelect(NewGroup().AddTriple("?s", exAge, "?a"), "?s"))
	require.NoError(t, err)
	assert.Same(t, pq, again)
	assert.Equal(t, uint64(1), e.Metrics().CacheHits.Load())

	ask, err := e.Prepare(NewAsk(NewGroup().AddTriple("?s", exAge, "?a")))
	require.NoError(t, err)
	assert.Equal(t, pathPlan, ask.Path())
	assert.NotNil(t, ask.Plan())

	res, err := e.ExecutePrepared(context.Background(), pq)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Len())

	st := e.QueryCacheStats()
	assert.Equal(t, 2, st.Entries)
}

func TestEngineQueryBatch(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	queries := []*Query{
		NewSelect(NewGroup().AddTriple("?s", exAge, "?a")),
		NewSelect(NewGroup().AddTriple("?s", "?p", "?o"), "?s", "?p", "?o").WithDistinct(),
		NewSelect(nil),
		NewAsk(NewGroup().AddTriple("<http://ex/dave>", exKnows, "?o")),
	}
	out, err := e.QueryBatch(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, out, 4)

	require.NoError(t, out[0].Err)
	assert.Equal(t, 3, out[0].Result.Len())
	require.NoError(t, out[1].Err)
	assert.Equal(t, 6, out[1].Result.Len())
	assert.ErrorIs(t, out[2].Err, ErrIllFormedQuery)
	assert.Nil(t, out[2].Result)
	require.NoError(t, out[3].Err)
	assert.False(t, out[3].Result.Ask)
}

func TestEngineProfile(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	where := NewGroup().
		AddTriple("?s", exAge, "?a").
		AddMinus(NewGroup().AddTriple("?s", exKnows, "?o"))
	qp, err := e.Profile(context.Background(), NewSelect(where, "?s"))
	require.NoError(t, err)
	assert.True(t, qp.Profile)
	assert.Equal(t, 2, qp.Result.Len())

	out := qp.String()
	assert.True(t, strings.HasPrefix(out, "PROFILE:\n"))
	assert.Contains(t, out, "Minus")
	assert.Contains(t, out, "[rows=2, time=")
	assert.Contains(t, out, "[rows=3, time=")
}

func TestEngineSlowQueryLog(t *testing.T) {
	g := peopleGraph()
	opts := DefaultOptions()
	opts.SlowQueryThreshold = time.Nanosecond
	e := newTestEngine(t, g, g, opts)

	res, err := e.Query(context.Background(), NewSelect(NewGroup().AddTriple("?s", exAge, "?a")))
	require.NoError(t, err)

	slow := e.SlowQueries(10)
	require.Len(t, slow, 1)
	assert.Equal(t, res.QueryID, slow[0].QueryID)
	assert.Equal(t, 3, slow[0].Rows)
	assert.Contains(t, slow[0].Query, "SELECT * WHERE")
	assert.Equal(t, uint64(1), e.Metrics().SlowQueries.Load())
}

func TestEngineMetrics(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	q := NewSelect(NewGroup().AddTriple("?s", exAge, "?a"))
	for i := 0; i < 2; i++ {
		_, err := e.Query(context.Background(), q)
		require.NoError(t, err)
	}

	snap := e.Metrics().Snapshot()
	assert.Equal(t, uint64(2), snap["queries_total"])
	assert.Equal(t, uint64(2), snap["rewrite_path_total"])
	assert.Equal(t, uint64(2), snap["matcher_calls_total"])
	assert.Equal(t, uint64(6), snap["rows_returned_total"])
	assert.Equal(t, 1, snap["query_cache_entries"])

	var buf bytes.Buffer
	e.Metrics().WritePrometheus(&buf)
	assert.Contains(t, buf.String(), "rdfgraph_queries_total 2\n")
	assert.Contains(t, buf.String(), "# TYPE rdfgraph_query_cache_entries gauge\n")
}

func TestEngineCheckWellDesigned(t *testing.T) {
	g := peopleGraph()
	e := newTestEngine(t, g, g)

	ok := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().AddTriple("?o", exAge, "?a"))
	assert.NoError(t, e.CheckWellDesigned(ok))

	withMinus := NewGroup().AddTriple("?s", exAge, "?a").AddMinus(NewGroup().AddTriple("?s", exKnows, "?o"))
	assert.Error(t, e.CheckWellDesigned(withMinus))
}
