package rdfgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// ---------------------------------------------------------------------------
// Well-designed rewriting
//
// A well-designed SELECT pattern is evaluated scope by scope instead of as
// one plan:
//
//  1. Each scope is expanded into union-free candidates by splicing the
//     branches of its first UNION into copies of the scope, repeatedly.
//  2. A candidate's triples, together with the triples of enclosing scopes
//     that share a variable with it, are matched as one BGP. The extra
//     triples only restrict the candidate's rows.
//  3. OPTIONAL scopes of the candidate are evaluated the same way,
//     recursively, and left-outer-joined into it.
//  4. Candidate results are unioned.
//
// The ancestor chain is passed down explicitly; the pattern tree is never
// modified. Which filters of a candidate have run is tracked in a bitmap
// owned by that candidate's evaluation.
// ---------------------------------------------------------------------------

// ErrNotConnected reports that an OPTIONAL scope does not stay connected
// when the triples of its enclosing scopes are pulled in.
var ErrNotConnected = errors.New("rdfgraph: optional scope is not connected")

// scopeFrame is one enclosing scope of the candidate being evaluated.
type scopeFrame struct {
	group *GroupPattern // the expanded candidate of that scope
}

// checkWellDesigned reports nil when the rewriter can evaluate gp.
func checkWellDesigned(gp *GroupPattern) error {
	var err error
	gp.walk(func(g *GroupPattern) {
		if err != nil {
			return
		}
		for _, o := range g.Optionals {
			if o.Kind == BlockMinus {
				err = errors.New("rdfgraph: MINUS is evaluated by the planner")
				return
			}
		}
		for _, f := range g.Filters {
			if len(f.ExistsPatterns()) > 0 {
				err = errors.New("rdfgraph: EXISTS is evaluated by the planner")
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if err := checkOptionalSafety(gp, gp, Varset{}); err != nil {
		return err
	}
	return checkConnectivity(gp, nil)
}

// checkOptionalSafety enforces the classic condition: every variable of an
// OPTIONAL block that also occurs outside the block is bound before it,
// either by the triples and unions that precede it in its group or by the
// enclosing scopes. A variable shared only with later triples would make
// the rewriter join those triples before the left-outer join.
func checkOptionalSafety(root, g *GroupPattern, enclosing Varset) error {
	for _, o := range g.Optionals {
		left := enclosing.Union(g.varsetBefore(o.LastPattern, o.LastUnion))
		inner := o.Pattern.MaximalVarset()
		outside := varsOutside(root, o.Pattern)
		if shared := inner.Intersect(outside); !shared.BelongTo(left) {
			return fmt.Errorf("rdfgraph: optional variables %s escape their scope", shared.Minus(left))
		}
		if err := checkOptionalSafety(root, o.Pattern, left); err != nil {
			return err
		}
	}
	for _, u := range g.Unions {
		left := enclosing.Union(g.varsetBefore(u.LastPattern, -1))
		for _, b := range u.Branches {
			if err := checkOptionalSafety(root, b, left); err != nil {
				return err
			}
		}
	}
	return nil
}

// varsetBefore returns the variables bound in every solution of the
// triples g.Patterns[:lastPattern+1] and unions g.Unions[:lastUnion+1].
func (g *GroupPattern) varsetBefore(lastPattern, lastUnion int) Varset {
	var vs Varset
	for _, t := range g.Patterns[:lastPattern+1] {
		vs = vs.Union(t.Varset())
	}
	for _, u := range g.Unions[:lastUnion+1] {
		vs = vs.Union(unionMinimalVarset(u))
	}
	return vs
}

// varsOutside returns every variable of root that occurs outside skip,
// including filter variables.
func varsOutside(root, skip *GroupPattern) Varset {
	var vs Varset
	var visit func(g *GroupPattern)
	visit = func(g *GroupPattern) {
		if g == skip {
			return
		}
		vs = vs.Union(g.TripleVarset())
		for _, f := range g.Filters {
			vs = vs.Union(f.Varset())
		}
		for _, u := range g.Unions {
			for _, b := range u.Branches {
				visit(b)
			}
		}
		for _, o := range g.Optionals {
			visit(o.Pattern)
		}
	}
	visit(root)
	return vs
}

// checkConnectivity verifies, scope by scope, that every expanded candidate
// forms a single connected component once ancestor triples sharing one of
// its variables are added.
func checkConnectivity(g *GroupPattern, ancestors []scopeFrame) error {
	for _, cand := range expandUnions(g) {
		triples := withAncestorTriples(cand, ancestors)
		if len(components(triples, 0, len(triples)-1)) > 1 {
			return fmt.Errorf("%w: %s", ErrNotConnected, cand)
		}
		frames := append(append([]scopeFrame(nil), ancestors...), scopeFrame{group: candidateWith(cand, triples)})
		for _, o := range cand.Optionals {
			if err := checkConnectivity(o.Pattern, frames); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandUnions returns the union-free candidates of g in branch order.
func expandUnions(g *GroupPattern) []*GroupPattern {
	var out []*GroupPattern
	queue := []*GroupPattern{g}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.Unions) == 0 {
			out = append(out, cur)
			continue
		}
		queue = append(queue, expandFirstUnion(cur)...)
	}
	return out
}

// expandFirstUnion replaces g's first UNION by each of its branches.
func expandFirstUnion(g *GroupPattern) []*GroupPattern {
	u := g.Unions[0]
	out := make([]*GroupPattern, 0, len(u.Branches))
	for _, b := range u.Branches {
		c := g.clone()
		c.Unions = c.Unions[1:]
		c.Patterns = append(c.Patterns, b.Patterns...)
		c.Unions = append(c.Unions, b.Unions...)
		c.Optionals = append(c.Optionals, b.Optionals...)
		c.Filters = append(c.Filters, b.Filters...)
		out = append(out, c)
	}
	return out
}

// withAncestorTriples returns cand's triples followed by every ancestor
// triple that shares a variable with cand's triples.
func withAncestorTriples(cand *GroupPattern, ancestors []scopeFrame) []TriplePattern {
	triples := append([]TriplePattern(nil), cand.Patterns...)
	vs := cand.TripleVarset()
	for _, a := range ancestors {
		for _, t := range a.group.Patterns {
			if t.Varset().HasCommonVar(vs) {
				triples = append(triples, t)
			}
		}
	}
	return triples
}

func candidateWith(cand *GroupPattern, triples []TriplePattern) *GroupPattern {
	c := cand.clone()
	c.Patterns = triples
	return c
}

// rewriter evaluates well-designed patterns.
type rewriter struct {
	exec       *executor
	projection Varset // empty for SELECT *
	distinct   bool
}

// evaluate returns the solutions of g below the given ancestors.
func (rw *rewriter) evaluate(ctx context.Context, g *GroupPattern, ancestors []scopeFrame) (*RelationSet, error) {
	result := NewRelationSet()
	for _, cand := range expandUnions(g) {
		part, err := rw.evaluateCandidate(ctx, cand, ancestors)
		if err != nil {
			result.Release()
			return nil, err
		}
		merged := result.Union(part)
		result.Release()
		part.Release()
		result = merged
	}
	return result, nil
}

func (rw *rewriter) evaluateCandidate(ctx context.Context, cand *GroupPattern, ancestors []scopeFrame) (*RelationSet, error) {
	triples := withAncestorTriples(cand, ancestors)

	var set *RelationSet
	if len(cand.Patterns) == 0 {
		set = emptyRelationSet()
	} else {
		q := newBasicQuery(triples)
		q.Vars = rw.outputVars(cand, ancestors)
		var err error
		if set, err = rw.exec.retrieve(ctx, q); err != nil {
			return nil, err
		}
	}

	done := roaring.New()
	minimal := cand.MinimalVarset()
	for i, f := range cand.Filters {
		if f.Varset().BelongTo(minimal) {
			set = rw.filter(set, f)
			done.Add(uint32(i))
		}
	}

	if set.RowCount() > 0 && len(cand.Optionals) > 0 {
		frames := append(append([]scopeFrame(nil), ancestors...), scopeFrame{group: candidateWith(cand, triples)})
		for _, o := range cand.Optionals {
			sub, err := rw.evaluate(ctx, o.Pattern, frames)
			if err != nil {
				set.Release()
				return nil, err
			}
			joined := set.Optional(sub)
			set.Release()
			sub.Release()
			set = joined
		}
	}

	for i, f := range cand.Filters {
		if !done.Contains(uint32(i)) {
			set = rw.filter(set, f)
		}
	}
	return set, nil
}

func (rw *rewriter) filter(set *RelationSet, f *Filter) *RelationSet {
	out := set.Filter(f, nil, rw.exec.fc)
	set.Release()
	return out
}

// outputVars returns the columns kept for a candidate. Ancestor-only
// variables are always dropped. Under DISTINCT, variables that are neither
// projected nor needed by ancestors, filters or optional scopes are dropped
// as well; without DISTINCT they are kept to preserve multiplicities.
func (rw *rewriter) outputVars(cand *GroupPattern, ancestors []scopeFrame) Varset {
	vs := cand.TripleVarset()
	if !rw.distinct || rw.projection.Empty() {
		return vs
	}
	useful := rw.projection
	for _, a := range ancestors {
		useful = useful.Union(a.group.TripleVarset())
		for _, f := range a.group.Filters {
			useful = useful.Union(f.Varset())
		}
	}
	for _, o := range cand.Optionals {
		useful = useful.Union(o.Pattern.MaximalVarset())
	}
	for _, f := range cand.Filters {
		useful = useful.Union(f.Varset())
	}
	return vs.Intersect(useful)
}
