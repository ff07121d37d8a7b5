package rdfgraph

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Result is the answer to a Query. Rows hold term IDs over Vars, Unbound
// where a variable has no value. Terms are decoded on first use.
type Result struct {
	QueryID string
	Vars    []string
	Rows    [][]ID
	Ask     bool   // ASK queries only
	Path    string // "rewrite" or "plan"

	form   QueryForm
	index  StringIndex
	spaces []TermSpace

	once  sync.Once
	terms [][]string
	err   error
}

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.Rows) }

// Terms returns the rows decoded to N-Triples terms ("" for unbound).
// When the index implements BatchDecoder each column is decoded in one
// call.
func (r *Result) Terms() ([][]string, error) {
	r.once.Do(func() {
		r.terms, r.err = r.decode()
	})
	return r.terms, r.err
}

func (r *Result) decode() ([][]string, error) {
	out := make([][]string, len(r.Rows))
	for i := range out {
		out[i] = make([]string, len(r.Vars))
	}
	if len(r.Rows) == 0 {
		return out, nil
	}
	if r.index == nil {
		return nil, fmt.Errorf("rdfgraph: result has no string index")
	}
	batch, _ := r.index.(BatchDecoder)

	ids := make([]ID, 0, len(r.Rows))
	for c := range r.Vars {
		ids = ids[:0]
		for _, row := range r.Rows {
			if row[c] != Unbound {
				ids = append(ids, row[c])
			}
		}
		if len(ids) == 0 {
			continue
		}

		var terms []string
		if batch != nil {
			var err error
			if terms, err = batch.DecodeBatch(ids, r.spaces[c]); err != nil {
				return nil, fmt.Errorf("rdfgraph: decode %s: %w", r.Vars[c], err)
			}
		} else {
			terms = make([]string, len(ids))
			for k, id := range ids {
				terms[k], _ = r.index.Decode(id, r.spaces[c])
			}
		}

		k := 0
		for i, row := range r.Rows {
			if row[c] != Unbound {
				out[i][c] = terms[k]
				k++
			}
		}
	}
	return out, nil
}

// String renders the result as a tab-separated table of decoded terms.
func (r *Result) String() string {
	var sb strings.Builder
	if r.form == FormAsk {
		fmt.Fprintf(&sb, "%t\n", r.Ask)
		return sb.String()
	}
	sb.WriteString(strings.Join(r.Vars, "\t"))
	sb.WriteString("\n")
	terms, err := r.Terms()
	if err != nil {
		fmt.Fprintf(&sb, "error: %v\n", err)
		return sb.String()
	}
	for _, row := range terms {
		sb.WriteString(strings.Join(row, "\t"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Solution modifiers
//
// Applied in SPARQL order: ORDER BY over the full solutions, projection,
// DISTINCT (first occurrence wins, so the order survives), OFFSET, LIMIT.
// DISTINCT is evaluated by RelationSet.Distinct.
// ---------------------------------------------------------------------------

// shape turns the evaluated set into a Result.
func (e *Engine) shape(set *RelationSet, q *Query, fc *filterContext) (*Result, error) {
	res := &Result{form: q.Form, index: e.index}
	if q.Form == FormAsk {
		res.Ask = set.RowCount() > 0
		return res, nil
	}

	proj := NewVarset(q.Projection...)
	if proj.Empty() {
		proj = set.Varset()
	}
	full := proj
	for _, k := range q.OrderBy {
		full = full.Union(NewVarset(k.Var))
	}

	// DISTINCT runs before sorting: duplicate rows of full sort equal, so
	// dropping them early cannot change the order. When ORDER BY reaches
	// outside the projection, rows still differing on the order keys are
	// reduced after sorting, keeping the first occurrence.
	var (
		flat *Relation
		seen map[string]struct{}
	)
	if q.Distinct {
		ds := set.Distinct(full)
		defer ds.Release()
		flat = ds.Relations()[0]
		if !full.Equal(proj) {
			seen = make(map[string]struct{}, flat.Len())
		}
	} else {
		flat = set.project(full)
		defer flat.Release()
	}
	rows := flat.Rows()

	if len(q.OrderBy) > 0 {
		sortSolutions(rows, full, q.OrderBy, fc)
	}

	cols := proj.MapTo(full)
	key := make([]byte, 0, 8*len(cols))
	skipped := 0
	for _, row := range rows {
		out := make([]ID, len(cols))
		for k, c := range cols {
			out[k] = row[c]
		}
		if seen != nil {
			key = key[:0]
			for _, id := range out {
				key = binary.BigEndian.AppendUint64(key, uint64(id))
			}
			if _, dup := seen[string(key)]; dup {
				continue
			}
			seen[string(key)] = struct{}{}
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		res.Rows = append(res.Rows, out)
		if err := e.governor.checkRowCount(len(res.Rows)); err != nil {
			return nil, err
		}
		if q.Limit > 0 && len(res.Rows) == q.Limit {
			break
		}
	}

	res.Vars = proj.Vars()
	res.spaces = make([]TermSpace, proj.Len())
	for i, v := range res.Vars {
		res.spaces[i] = fc.spaceOf(v)
	}
	return res, nil
}

// sortSolutions orders rows by the ORDER BY keys. Unbound sorts first;
// values without a common order fall back to kind, then to the term text.
func sortSolutions(rows [][]ID, vs Varset, keys []OrderKey, fc *filterContext) {
	type sortKey struct {
		pos   int
		space TermSpace
		desc  bool
	}
	sk := make([]sortKey, len(keys))
	for i, k := range keys {
		sk[i] = sortKey{pos: vs.Index(k.Var), space: fc.spaceOf(k.Var), desc: k.Desc}
	}
	slices.SortStableFunc(rows, func(a, b []ID) int {
		for _, k := range sk {
			c := compareSolutionValues(a[k.pos], b[k.pos], k.space, fc)
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func compareSolutionValues(a, b ID, space TermSpace, fc *filterContext) int {
	switch {
	case a == b:
		return 0
	case a == Unbound:
		return -1
	case b == Unbound:
		return 1
	}
	va, vb := fc.value(a, space), fc.value(b, space)
	if c, ok := order(va, vb); ok {
		return c
	}
	if c := sortRank(va.Kind) - sortRank(vb.Kind); c != 0 {
		return c
	}
	return strings.Compare(va.Term(), vb.Term())
}

// sortRank places IRIs before literals and undecodable terms last.
func sortRank(k ValueKind) int {
	switch {
	case k == KindIRI:
		return 0
	case k == KindError:
		return 3
	case k == KindTerm:
		return 2
	}
	return 1
}
