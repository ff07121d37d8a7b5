package rdfgraph

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
	"testing"
)

// quietLogger discards everything.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// memGraph: an in-memory Matcher and StringIndex.
// ---------------------------------------------------------------------------

type memGraph struct {
	terms   map[TermSpace][]string // ID-1 → term
	ids     map[TermSpace]map[string]ID
	triples [][3]ID
	calls   atomic.Int64
}

func newMemGraph(triples ...[3]string) *memGraph {
	g := &memGraph{
		terms: map[TermSpace][]string{},
		ids:   map[TermSpace]map[string]ID{SpaceValue: {}, SpacePredicate: {}},
	}
	for _, t := range triples {
		g.add(t[0], t[1], t[2])
	}
	return g
}

func (g *memGraph) intern(term string, space TermSpace) ID {
	if id, ok := g.ids[space][term]; ok {
		return id
	}
	g.terms[space] = append(g.terms[space], term)
	id := ID(len(g.terms[space]))
	g.ids[space][term] = id
	return id
}

func (g *memGraph) add(s, p, o string) {
	g.triples = append(g.triples, [3]ID{
		g.intern(s, SpaceValue),
		g.intern(p, SpacePredicate),
		g.intern(o, SpaceValue),
	})
}

func (g *memGraph) Encode(term string, space TermSpace) (ID, bool) {
	id, ok := g.ids[space][term]
	return id, ok
}

func (g *memGraph) Decode(id ID, space TermSpace) (string, bool) {
	if id < 1 || int(id) > len(g.terms[space]) {
		return "", false
	}
	return g.terms[space][id-1], true
}

// Match is a naive nested loop over every stored triple.
func (g *memGraph) Match(ctx context.Context, bgp *EncodedBGP) ([][]ID, error) {
	g.calls.Add(1)
	var out [][]ID
	row := make([]ID, bgp.Vars.Len())
	for i := range row {
		row[i] = Unbound
	}

	var step func(k int) error
	step = func(k int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if k == len(bgp.Triples) {
			out = append(out, append([]ID(nil), row...))
			return nil
		}
		t := bgp.Triples[k]
		for _, tr := range g.triples {
			var set []int
			ok := true
			for i, sl := range [3]Slot{t.S, t.P, t.O} {
				if !ok {
					break
				}
				switch {
				case sl.Var < 0:
					ok = sl.ID == tr[i]
				case row[sl.Var] == Unbound:
					row[sl.Var] = tr[i]
					set = append(set, sl.Var)
				default:
					ok = row[sl.Var] == tr[i]
				}
			}
			var err error
			if ok {
				err = step(k + 1)
			}
			for _, v := range set {
				row[v] = Unbound
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
	if err := step(0); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// stubMatcher: canned rows.
// ---------------------------------------------------------------------------

type stubMatcher struct {
	fn func(bgp *EncodedBGP) [][]ID
}

func (m stubMatcher) Match(_ context.Context, bgp *EncodedBGP) ([][]ID, error) {
	return m.fn(bgp), nil
}

// stubIndex maps IDs to terms in both spaces.
type stubIndex map[TermSpace]map[ID]string

func (x stubIndex) Encode(term string, space TermSpace) (ID, bool) {
	for id, t := range x[space] {
		if t == term {
			return id, true
		}
	}
	return 0, false
}

func (x stubIndex) Decode(id ID, space TermSpace) (string, bool) {
	t, ok := x[space][id]
	return t, ok
}

// ---------------------------------------------------------------------------
// Relation helpers
// ---------------------------------------------------------------------------

func relationOf(vs Varset, rows ...[]ID) *Relation {
	r := NewRelation(vs)
	for _, row := range rows {
		r.Append(row)
	}
	return r
}

func setOf(rels ...*Relation) *RelationSet {
	s := NewRelationSet()
	for _, r := range rels {
		r.appendTo(s.FindOrCreate(r.vars))
	}
	return s
}

// sortedRows returns a sorted copy of rows for order-independent checks.
func sortedRows(rows [][]ID) [][]ID {
	out := make([][]ID, len(rows))
	for i, r := range rows {
		out[i] = append([]ID(nil), r...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}

// newTestEngine returns an engine over g that is closed with the test.
func newTestEngine(t *testing.T, m Matcher, idx StringIndex, opts ...Options) *Engine {
	t.Helper()
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	opt.Logger = quietLogger()
	e := NewEngine(m, idx, opt)
	t.Cleanup(func() { e.Close() })
	return e
}

// decoded returns the result rows as terms, sorted.
func decoded(t *testing.T, res *Result) [][]string {
	t.Helper()
	rows, err := res.Terms()
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	out := append([][]string(nil), rows...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}
