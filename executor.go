package rdfgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCorruptPlan is returned when a plan does not leave exactly one result
// on the execution stack.
var ErrCorruptPlan = errors.New("rdfgraph: corrupt plan")

// instructionStats records what one instruction produced (PROFILE).
type instructionStats struct {
	Rows    int
	Elapsed time.Duration
}

// executor runs plans. It is single-threaded: one executor serves one
// evaluation and is discarded afterwards.
type executor struct {
	matcher  Matcher
	index    StringIndex
	fc       *filterContext
	log      *slog.Logger
	metrics  *Metrics
	governor *queryGovernor
	profile  []instructionStats // nil unless profiling
}

func newExecutor(m Matcher, idx StringIndex, predicateVars Varset, log *slog.Logger) *executor {
	if log == nil {
		log = slog.Default()
	}
	return &executor{
		matcher: m,
		index:   idx,
		fc:      newFilterContext(idx, predicateVars),
		log:     log,
	}
}

// run executes p and returns its single result. Operands are released as
// soon as the instruction consuming them has produced its output.
func (e *executor) run(ctx context.Context, p *Plan) (*RelationSet, error) {
	var stack []*RelationSet
	pop := func() *RelationSet {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return s
	}
	fail := func(err error) (*RelationSet, error) {
		for _, s := range stack {
			s.Release()
		}
		return nil, err
	}
	if e.profile != nil && len(e.profile) < len(p.Instructions) {
		e.profile = make([]instructionStats, len(p.Instructions))
	}

	for i, in := range p.Instructions {
		start := time.Now()
		var res *RelationSet

		switch in.Op {
		case OpRetrieve:
			r, err := e.retrieve(ctx, in.Query)
			if err != nil {
				return fail(err)
			}
			res = r

		case OpJoin, OpOptional, OpMinus, OpUnion:
			if len(stack) < 2 {
				return fail(fmt.Errorf("%w: %s at %d needs 2 operands, stack has %d", ErrCorruptPlan, in.Op, i, len(stack)))
			}
			b, a := pop(), pop()
			switch in.Op {
			case OpJoin:
				res = a.Join(b)
			case OpOptional:
				res = a.Optional(b)
			case OpMinus:
				res = a.Minus(b)
			case OpUnion:
				res = a.Union(b)
			}
			a.Release()
			b.Release()

		case OpFilter:
			n := len(in.Filter.ExistsPatterns())
			if len(stack) < n+1 {
				return fail(fmt.Errorf("%w: filter at %d needs %d operands, stack has %d", ErrCorruptPlan, i, n+1, len(stack)))
			}
			exists := make([]*RelationSet, n)
			for k := n - 1; k >= 0; k-- {
				exists[k] = pop()
			}
			operand := pop()
			res = operand.Filter(in.Filter, exists, e.fc)
			operand.Release()
			for _, s := range exists {
				s.Release()
			}

		default:
			return fail(fmt.Errorf("%w: unknown instruction %s", ErrCorruptPlan, in.Op))
		}

		stack = append(stack, res)
		elapsed := time.Since(start)
		if e.profile != nil {
			e.profile[i] = instructionStats{Rows: res.RowCount(), Elapsed: elapsed}
		}
		e.log.Debug("instruction executed",
			"step", i,
			"op", in.Op.String(),
			"rows", res.RowCount(),
			"relations", len(res.Relations()),
			"elapsed", elapsed,
		)
	}

	if len(stack) != 1 {
		return fail(fmt.Errorf("%w: %d results left on the stack", ErrCorruptPlan, len(stack)))
	}
	return stack[0], nil
}

// retrieve evaluates a basic query through the matcher. A nil query yields
// the one-row empty relation; a constant unknown to the index yields no rows
// without calling the matcher.
func (e *executor) retrieve(ctx context.Context, q *BasicQuery) (*RelationSet, error) {
	if q == nil {
		return emptyRelationSet(), nil
	}

	set := NewRelationSet()
	out := set.FindOrCreate(q.Vars)
	bgp, ok := e.encode(q)
	if !ok {
		return set, nil
	}

	if e.governor != nil {
		var cancel context.CancelFunc
		ctx, cancel = e.governor.wrapContext(ctx)
		defer cancel()
	}
	rows, err := e.matcher.Match(ctx, bgp)
	if err != nil {
		return nil, fmt.Errorf("rdfgraph: match [%s]: %w", q, err)
	}
	if e.metrics != nil {
		e.metrics.MatcherCalls.Add(1)
		e.metrics.RowsMatched.Add(uint64(len(rows)))
	}

	raw := NewRelation(bgp.Vars)
	w := bgp.Vars.Len()
	for _, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("rdfgraph: matcher returned a row of width %d for %s", len(row), bgp.Vars)
		}
		raw.Append(row)
	}
	if w == q.Vars.Len() {
		raw.appendTo(out)
	} else {
		raw.Distinct(out)
	}
	raw.Release()
	return set, nil
}

// encode interns the constants of q. It reports false when a constant is
// not in the index, in which case q has no solutions.
func (e *executor) encode(q *BasicQuery) (*EncodedBGP, bool) {
	bgp := &EncodedBGP{}
	for _, t := range q.Triples {
		bgp.Vars = bgp.Vars.Union(t.Varset())
	}
	slot := func(term string, space TermSpace) (Slot, bool) {
		if IsVar(term) {
			return Slot{Var: bgp.Vars.Index(term)}, true
		}
		if e.index == nil {
			return Slot{}, false
		}
		id, ok := e.index.Encode(term, space)
		return Slot{Var: -1, ID: id}, ok
	}

	bgp.Triples = make([]EncodedTriple, len(q.Triples))
	for i, t := range q.Triples {
		var ok [3]bool
		et := &bgp.Triples[i]
		et.S, ok[0] = slot(t.Subject, SpaceValue)
		et.P, ok[1] = slot(t.Predicate, SpacePredicate)
		et.O, ok[2] = slot(t.Object, SpaceValue)
		if !ok[0] || !ok[1] || !ok[2] {
			return nil, false
		}
	}
	return bgp, true
}
