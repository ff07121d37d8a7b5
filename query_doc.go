package rdfgraph

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Query documents: queries written as YAML.
//
//	form: select
//	select: ["?s", "?age"]
//	distinct: true
//	where:
//	  - triple: ["?s", "<http://ex/knows>", "?o"]
//	  - optional:
//	      - triple: ["?o", "<http://ex/age>", "?age"]
//	  - union:
//	      - [{triple: ["?s", "<http://ex/a>", "?x"]}]
//	      - [{triple: ["?s", "<http://ex/b>", "?x"]}]
//	  - filter: {op: gt, args: [{var: "?age"}, {const: '"20"^^xsd:integer'}]}
//	order_by: [{var: "?age", desc: true}]
//	limit: 10
//
// The order of where elements is kept, so OPTIONAL and MINUS see exactly
// the triples and unions written before them.
// ---------------------------------------------------------------------------

// QueryDocument is the YAML form of a Query.
type QueryDocument struct {
	Form     string        `yaml:"form"`
	Select   []string      `yaml:"select"`
	Distinct bool          `yaml:"distinct"`
	Where    []ElementDoc  `yaml:"where"`
	OrderBy  []OrderKeyDoc `yaml:"order_by"`
	Limit    int           `yaml:"limit"`
	Offset   int           `yaml:"offset"`
}

// ElementDoc is one element of a group; exactly one field is set.
type ElementDoc struct {
	Triple   []string       `yaml:"triple,omitempty"`
	Optional []ElementDoc   `yaml:"optional,omitempty"`
	Minus    []ElementDoc   `yaml:"minus,omitempty"`
	Union    [][]ElementDoc `yaml:"union,omitempty"`
	Filter   *FilterDoc     `yaml:"filter,omitempty"`
}

// FilterDoc is a filter expression node. Var and Const are leaves; other
// nodes name an operator.
type FilterDoc struct {
	Op      string       `yaml:"op,omitempty"`
	Var     string       `yaml:"var,omitempty"`
	Const   string       `yaml:"const,omitempty"`
	Args    []FilterDoc  `yaml:"args,omitempty"`
	Pattern []ElementDoc `yaml:"pattern,omitempty"`
}

// OrderKeyDoc is one ORDER BY key.
type OrderKeyDoc struct {
	Var  string `yaml:"var"`
	Desc bool   `yaml:"desc"`
}

// ParseQueryDocument decodes a YAML query document.
func ParseQueryDocument(data []byte) (*Query, error) {
	var doc QueryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rdfgraph: parse query document: %w", err)
	}
	return doc.Query()
}

// Query builds the query the document describes.
func (d *QueryDocument) Query() (*Query, error) {
	where, err := buildGroup(d.Where)
	if err != nil {
		return nil, err
	}
	var q *Query
	switch strings.ToLower(d.Form) {
	case "", "select":
		q = NewSelect(where, d.Select...)
	case "ask":
		q = NewAsk(where)
	default:
		return nil, fmt.Errorf("%w: unknown form %q", ErrIllFormedQuery, d.Form)
	}
	q.Distinct = d.Distinct
	q.Limit, q.Offset = d.Limit, d.Offset
	for _, k := range d.OrderBy {
		q.OrderBy = append(q.OrderBy, OrderKey{Var: k.Var, Desc: k.Desc})
	}
	return q, nil
}

func buildGroup(elems []ElementDoc) (*GroupPattern, error) {
	g := NewGroup()
	for i, el := range elems {
		switch {
		case el.Triple != nil:
			if len(el.Triple) != 3 {
				return nil, fmt.Errorf("%w: where[%d]: triple needs 3 terms, got %d", ErrIllFormedQuery, i, len(el.Triple))
			}
			g.AddTriple(el.Triple[0], el.Triple[1], el.Triple[2])

		case el.Optional != nil:
			p, err := buildGroup(el.Optional)
			if err != nil {
				return nil, err
			}
			g.AddOptional(p)

		case el.Minus != nil:
			p, err := buildGroup(el.Minus)
			if err != nil {
				return nil, err
			}
			g.AddMinus(p)

		case el.Union != nil:
			branches := make([]*GroupPattern, len(el.Union))
			for k, b := range el.Union {
				p, err := buildGroup(b)
				if err != nil {
					return nil, err
				}
				branches[k] = p
			}
			g.AddUnion(branches...)

		case el.Filter != nil:
			root, err := buildFilter(el.Filter)
			if err != nil {
				return nil, fmt.Errorf("where[%d]: %w", i, err)
			}
			g.AddFilter(root)

		default:
			return nil, fmt.Errorf("%w: where[%d] is empty", ErrIllFormedQuery, i)
		}
	}
	return g, nil
}

// filterArity is the number of arguments of fixed-arity operators.
var filterArity = map[string]int{
	"not": 1, "lang": 1,
	"eq": 2, "ne": 2, "lt": 2, "le": 2, "gt": 2, "ge": 2, "langmatches": 2,
}

var compareBuilders = map[string]func(a, b *FilterNode) *FilterNode{
	"eq": Eq, "ne": Ne, "lt": Lt, "le": Le, "gt": Gt, "ge": Ge, "langmatches": LangMatches,
}

func buildFilter(d *FilterDoc) (*FilterNode, error) {
	switch {
	case d.Var != "":
		if !IsVar(d.Var) {
			return nil, fmt.Errorf("%w: %q is not a variable", ErrIllFormedQuery, d.Var)
		}
		return Var(d.Var), nil
	case d.Const != "":
		return Const(d.Const), nil
	}

	op := strings.ToLower(d.Op)
	if n, ok := filterArity[op]; ok && len(d.Args) != n {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrIllFormedQuery, op, n, len(d.Args))
	}
	args := make([]*FilterNode, len(d.Args))
	for i := range d.Args {
		a, err := buildFilter(&d.Args[i])
		if err != nil {
			return nil, err
		}
		args[i] = a
	}

	switch op {
	case "not":
		return Not(args[0]), nil
	case "or":
		return Or(args...), nil
	case "and":
		return And(args...), nil
	case "lang":
		return Lang(args[0]), nil
	case "regex":
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("%w: regex takes 2 or 3 arguments, got %d", ErrIllFormedQuery, len(args))
		}
		var flags *FilterNode
		if len(args) == 3 {
			flags = args[2]
		}
		return Regex(args[0], args[1], flags), nil
	case "bound":
		if len(args) != 1 || args[0].Op != FilterVar {
			return nil, fmt.Errorf("%w: bound takes one variable", ErrIllFormedQuery)
		}
		return Bound(args[0].Var), nil
	case "in":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: in needs an argument", ErrIllFormedQuery)
		}
		return In(args[0], args[1:]...), nil
	case "exists", "not_exists":
		p, err := buildGroup(d.Pattern)
		if err != nil {
			return nil, err
		}
		if op == "exists" {
			return Exists(p), nil
		}
		return NotExists(p), nil
	}
	if build, ok := compareBuilders[op]; ok {
		return build(args[0], args[1]), nil
	}
	return nil, fmt.Errorf("%w: unknown filter operator %q", ErrIllFormedQuery, d.Op)
}
