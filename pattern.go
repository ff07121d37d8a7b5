package rdfgraph

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Group patterns: the tree handed to the engine by a query front end.
//
//	{ ?s :knows ?o . OPTIONAL { ?o :age ?a } FILTER(?a > 20) }
//
// is represented as:
//
//	Patterns:  [?s :knows ?o]
//	Optionals: [{Kind: BlockOptional, Pattern: {?o :age ?a}, LastPattern: 0, LastUnion: -1}]
//	Filters:   [(?a > 20)]
//
// LastPattern/LastUnion record how many triples and unions precede a block
// in source order, so OPTIONAL keeps its left-to-right meaning. The tree is
// never mutated by evaluation and may be shared between goroutines.
// --------------------------------------------------------------------------

// TriplePattern is one subject/predicate/object pattern. Each position is
// a variable ("?x") or an RDF term in N-Triples notation.
type TriplePattern struct {
	Subject   string
	Predicate string
	Object    string
}

// IsVar reports whether a pattern position holds a variable.
func IsVar(s string) bool { return len(s) > 1 && (s[0] == '?' || s[0] == '$') }

// Varset returns the variables of the triple in S, P, O order.
func (t TriplePattern) Varset() Varset {
	var names []string
	for _, x := range [3]string{t.Subject, t.Predicate, t.Object} {
		if IsVar(x) {
			names = append(names, x)
		}
	}
	return NewVarset(names...)
}

func (t TriplePattern) String() string {
	return t.Subject + " " + t.Predicate + " " + t.Object
}

// BlockKind distinguishes OPTIONAL from MINUS blocks.
type BlockKind uint8

const (
	BlockOptional BlockKind = iota
	BlockMinus
)

// UnionBlock is { B1 } UNION { B2 } UNION ...
type UnionBlock struct {
	Branches    []*GroupPattern
	LastPattern int // index of the last triple before the union, -1 if none
}

// OptionalBlock is an OPTIONAL or MINUS sub-pattern.
type OptionalBlock struct {
	Kind        BlockKind
	Pattern     *GroupPattern
	LastPattern int // index of the last triple before the block, -1 if none
	LastUnion   int // index of the last union before the block, -1 if none
}

// GroupPattern is a { ... } group.
type GroupPattern struct {
	Patterns  []TriplePattern
	Unions    []UnionBlock
	Optionals []OptionalBlock
	Filters   []*Filter
}

// NewGroup returns an empty group pattern.
func NewGroup() *GroupPattern { return &GroupPattern{} }

// AddTriple appends a triple pattern and returns g for chaining.
func (g *GroupPattern) AddTriple(s, p, o string) *GroupPattern {
	g.Patterns = append(g.Patterns, TriplePattern{Subject: s, Predicate: p, Object: o})
	return g
}

// AddUnion appends a UNION of the given branches.
func (g *GroupPattern) AddUnion(branches ...*GroupPattern) *GroupPattern {
	g.Unions = append(g.Unions, UnionBlock{Branches: branches, LastPattern: len(g.Patterns) - 1})
	return g
}

// AddOptional appends an OPTIONAL block.
func (g *GroupPattern) AddOptional(p *GroupPattern) *GroupPattern {
	return g.addBlock(BlockOptional, p)
}

// AddMinus appends a MINUS block.
func (g *GroupPattern) AddMinus(p *GroupPattern) *GroupPattern {
	return g.addBlock(BlockMinus, p)
}

func (g *GroupPattern) addBlock(kind BlockKind, p *GroupPattern) *GroupPattern {
	g.Optionals = append(g.Optionals, OptionalBlock{
		Kind:        kind,
		Pattern:     p,
		LastPattern: len(g.Patterns) - 1,
		LastUnion:   len(g.Unions) - 1,
	})
	return g
}

// AddFilter appends a FILTER over the expression tree.
func (g *GroupPattern) AddFilter(root *FilterNode) *GroupPattern {
	g.Filters = append(g.Filters, NewFilter(root))
	return g
}

// IsEmpty reports whether the group has no triples, unions or blocks.
func (g *GroupPattern) IsEmpty() bool {
	return len(g.Patterns) == 0 && len(g.Unions) == 0 && len(g.Optionals) == 0
}

// ---------------------------------------------------------------------------
// Variable sets
// ---------------------------------------------------------------------------

// TripleVarset returns the variables of the group's own triples.
func (g *GroupPattern) TripleVarset() Varset {
	var vs Varset
	for _, t := range g.Patterns {
		vs = vs.Union(t.Varset())
	}
	return vs
}

// MinimalVarset returns the variables bound in every solution of g:
// its triples plus what every branch of each union binds.
func (g *GroupPattern) MinimalVarset() Varset {
	vs := g.TripleVarset()
	for _, u := range g.Unions {
		vs = vs.Union(unionMinimalVarset(u))
	}
	return vs
}

func unionMinimalVarset(u UnionBlock) Varset {
	var vs Varset
	for i, b := range u.Branches {
		if i == 0 {
			vs = b.MinimalVarset()
		} else {
			vs = vs.Intersect(b.MinimalVarset())
		}
	}
	return vs
}

// MaximalVarset returns every variable a solution of g may bind.
// MINUS blocks and EXISTS patterns never bind.
func (g *GroupPattern) MaximalVarset() Varset {
	vs := g.TripleVarset()
	for _, u := range g.Unions {
		for _, b := range u.Branches {
			vs = vs.Union(b.MaximalVarset())
		}
	}
	for _, o := range g.Optionals {
		if o.Kind == BlockOptional {
			vs = vs.Union(o.Pattern.MaximalVarset())
		}
	}
	return vs
}

// PositionVarsets returns the variables used in subject/object position
// and in predicate position anywhere in g, including nested groups and
// EXISTS patterns.
func (g *GroupPattern) PositionVarsets() (subjectObject, predicate Varset) {
	g.walk(func(gp *GroupPattern) {
		for _, t := range gp.Patterns {
			for _, x := range [2]string{t.Subject, t.Object} {
				if IsVar(x) {
					subjectObject = subjectObject.Union(NewVarset(x))
				}
			}
			if IsVar(t.Predicate) {
				predicate = predicate.Union(NewVarset(t.Predicate))
			}
		}
	})
	return subjectObject, predicate
}

// walk visits g and every nested group in pre-order.
func (g *GroupPattern) walk(fn func(*GroupPattern)) {
	fn(g)
	for _, u := range g.Unions {
		for _, b := range u.Branches {
			b.walk(fn)
		}
	}
	for _, o := range g.Optionals {
		o.Pattern.walk(fn)
	}
	for _, f := range g.Filters {
		for _, ep := range f.ExistsPatterns() {
			ep.walk(fn)
		}
	}
}

// clone returns a copy of g whose slices can be modified without touching
// g. Nested groups and filters are shared.
func (g *GroupPattern) clone() *GroupPattern {
	c := &GroupPattern{
		Patterns:  append([]TriplePattern(nil), g.Patterns...),
		Unions:    append([]UnionBlock(nil), g.Unions...),
		Optionals: append([]OptionalBlock(nil), g.Optionals...),
		Filters:   append([]*Filter(nil), g.Filters...),
	}
	return c
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// String renders g in SPARQL-like syntax. Blocks appear at the position
// recorded by LastPattern/LastUnion.
func (g *GroupPattern) String() string {
	var sb strings.Builder
	g.format(&sb)
	return sb.String()
}

func (g *GroupPattern) format(sb *strings.Builder) {
	sb.WriteString("{")
	nextUnion, nextBlock := 0, 0
	flush := func(upto int) {
		for {
			switch {
			case nextUnion < len(g.Unions) && g.Unions[nextUnion].LastPattern < upto &&
				(nextBlock >= len(g.Optionals) || g.Optionals[nextBlock].LastUnion >= nextUnion):
				for i, b := range g.Unions[nextUnion].Branches {
					if i > 0 {
						sb.WriteString(" UNION")
					}
					sb.WriteString(" ")
					b.format(sb)
				}
				nextUnion++
			case nextBlock < len(g.Optionals) && g.Optionals[nextBlock].LastPattern < upto &&
				g.Optionals[nextBlock].LastUnion < nextUnion:
				o := g.Optionals[nextBlock]
				if o.Kind == BlockMinus {
					sb.WriteString(" MINUS ")
				} else {
					sb.WriteString(" OPTIONAL ")
				}
				o.Pattern.format(sb)
				nextBlock++
			default:
				return
			}
		}
	}
	for i, t := range g.Patterns {
		flush(i)
		fmt.Fprintf(sb, " %s .", t)
	}
	flush(len(g.Patterns))
	for _, f := range g.Filters {
		sb.WriteString(" FILTER(")
		sb.WriteString(f.Root.String())
		sb.WriteString(")")
	}
	sb.WriteString(" }")
}
