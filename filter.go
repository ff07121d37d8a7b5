package rdfgraph

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Filter expressions
// ---------------------------------------------------------------------------

// FilterOp distinguishes filter expression node types.
type FilterOp uint8

const (
	FilterVar   FilterOp = iota // ?x
	FilterConst                 // "5"^^xsd:integer, <iri>
	FilterNot                   // !expr
	FilterOr                    // expr || expr
	FilterAnd                   // expr && expr
	FilterEq                    // =
	FilterNe                    // !=
	FilterLt                    // <
	FilterLe                    // <=
	FilterGt                    // >
	FilterGe                    // >=
	FilterRegex                 // REGEX(text, pattern[, flags])
	FilterLang                  // LANG(x)
	FilterLangMatches           // LANGMATCHES(tag, range)
	FilterBound                 // BOUND(?x)
	FilterIn                    // x IN (a, b, ...)
	FilterExists                // EXISTS { ... }
)

var filterOpNames = [...]string{
	FilterVar:         "var",
	FilterConst:       "const",
	FilterNot:         "!",
	FilterOr:          "||",
	FilterAnd:         "&&",
	FilterEq:          "=",
	FilterNe:          "!=",
	FilterLt:          "<",
	FilterLe:          "<=",
	FilterGt:          ">",
	FilterGe:          ">=",
	FilterRegex:       "REGEX",
	FilterLang:        "LANG",
	FilterLangMatches: "LANGMATCHES",
	FilterBound:       "BOUND",
	FilterIn:          "IN",
	FilterExists:      "EXISTS",
}

func (op FilterOp) String() string {
	if int(op) < len(filterOpNames) {
		return filterOpNames[op]
	}
	return "?"
}

// FilterNode is a polymorphic filter expression node.
// Only the fields relevant to Op are populated.
type FilterNode struct {
	Op FilterOp

	// FilterVar / FilterConst
	Var   string
	Const string // RDF term in N-Triples notation

	// operators and functions
	Args []*FilterNode

	// FilterExists
	Pattern *GroupPattern
}

// Filter is one FILTER clause. Its EXISTS patterns are numbered in
// pre-order; the plan evaluates them in that order right before the filter.
type Filter struct {
	Root   *FilterNode
	exists []*GroupPattern
}

// NewFilter wraps an expression tree.
func NewFilter(root *FilterNode) *Filter {
	f := &Filter{Root: root}
	root.collectExists(&f.exists)
	return f
}

// ExistsPatterns returns the EXISTS sub-patterns in pre-order.
func (f *Filter) ExistsPatterns() []*GroupPattern { return f.exists }

// Varset returns the variables the expression reads directly. Variables
// that only occur inside EXISTS patterns are not included.
func (f *Filter) Varset() Varset {
	var vs Varset
	f.Root.visit(func(n *FilterNode) {
		if n.Op == FilterVar {
			vs = vs.Union(NewVarset(n.Var))
		}
	})
	return vs
}

func (n *FilterNode) collectExists(out *[]*GroupPattern) {
	if n.Op == FilterExists {
		*out = append(*out, n.Pattern)
		return
	}
	for _, a := range n.Args {
		a.collectExists(out)
	}
}

func (n *FilterNode) visit(fn func(*FilterNode)) {
	fn(n)
	for _, a := range n.Args {
		a.visit(fn)
	}
}

// Convenience constructors ------------------------------------------------

// Var references a variable.
func Var(name string) *FilterNode { return &FilterNode{Op: FilterVar, Var: name} }

// Const is an RDF term constant.
func Const(term string) *FilterNode { return &FilterNode{Op: FilterConst, Const: term} }

// Not negates an expression.
func Not(x *FilterNode) *FilterNode { return &FilterNode{Op: FilterNot, Args: []*FilterNode{x}} }

// Or is the logical disjunction of its operands.
func Or(xs ...*FilterNode) *FilterNode { return &FilterNode{Op: FilterOr, Args: xs} }

// And is the logical conjunction of its operands.
func And(xs ...*FilterNode) *FilterNode { return &FilterNode{Op: FilterAnd, Args: xs} }

// Eq builds a = b.
func Eq(a, b *FilterNode) *FilterNode { return binaryNode(FilterEq, a, b) }

// Ne builds a != b.
func Ne(a, b *FilterNode) *FilterNode { return binaryNode(FilterNe, a, b) }

// Lt builds a < b.
func Lt(a, b *FilterNode) *FilterNode { return binaryNode(FilterLt, a, b) }

// Le builds a <= b.
func Le(a, b *FilterNode) *FilterNode { return binaryNode(FilterLe, a, b) }

// Gt builds a > b.
func Gt(a, b *FilterNode) *FilterNode { return binaryNode(FilterGt, a, b) }

// Ge builds a >= b.
func Ge(a, b *FilterNode) *FilterNode { return binaryNode(FilterGe, a, b) }

func binaryNode(op FilterOp, a, b *FilterNode) *FilterNode {
	return &FilterNode{Op: op, Args: []*FilterNode{a, b}}
}

// Regex matches text against pattern. flags may be nil.
func Regex(text, pattern, flags *FilterNode) *FilterNode {
	args := []*FilterNode{text, pattern}
	if flags != nil {
		args = append(args, flags)
	}
	return &FilterNode{Op: FilterRegex, Args: args}
}

// Lang returns the language tag of x.
func Lang(x *FilterNode) *FilterNode { return &FilterNode{Op: FilterLang, Args: []*FilterNode{x}} }

// LangMatches tests a language tag against a language range.
func LangMatches(tag, rng *FilterNode) *FilterNode { return binaryNode(FilterLangMatches, tag, rng) }

// Bound tests whether a variable is bound.
func Bound(name string) *FilterNode {
	return &FilterNode{Op: FilterBound, Args: []*FilterNode{Var(name)}}
}

// In tests x against a list of candidates.
func In(x *FilterNode, list ...*FilterNode) *FilterNode {
	return &FilterNode{Op: FilterIn, Args: append([]*FilterNode{x}, list...)}
}

// Exists tests whether p has a solution compatible with the row.
func Exists(p *GroupPattern) *FilterNode { return &FilterNode{Op: FilterExists, Pattern: p} }

// NotExists is Not(Exists(p)).
func NotExists(p *GroupPattern) *FilterNode { return Not(Exists(p)) }

// String renders the expression in SPARQL-like syntax.
func (n *FilterNode) String() string {
	switch n.Op {
	case FilterVar:
		return n.Var
	case FilterConst:
		return n.Const
	case FilterNot:
		return "!" + n.Args[0].String()
	case FilterOr, FilterAnd:
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, " "+n.Op.String()+" ") + ")"
	case FilterEq, FilterNe, FilterLt, FilterLe, FilterGt, FilterGe:
		return "(" + n.Args[0].String() + " " + n.Op.String() + " " + n.Args[1].String() + ")"
	case FilterIn:
		parts := make([]string, len(n.Args)-1)
		for i, a := range n.Args[1:] {
			parts[i] = a.String()
		}
		return "(" + n.Args[0].String() + " IN (" + strings.Join(parts, ", ") + "))"
	case FilterExists:
		return "EXISTS " + n.Pattern.String()
	default:
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			parts[i] = a.String()
		}
		return n.Op.String() + "(" + strings.Join(parts, ", ") + ")"
	}
}
