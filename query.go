package rdfgraph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIllFormedQuery is returned when a variable occurs both in predicate
// position and in subject/object position. Predicates and resources are
// interned in separate ID spaces, so such a join cannot be evaluated.
var ErrIllFormedQuery = errors.New("rdfgraph: ill-formed query")

// QueryForm is SELECT or ASK.
type QueryForm uint8

const (
	FormSelect QueryForm = iota
	FormAsk
)

func (f QueryForm) String() string {
	if f == FormAsk {
		return "ASK"
	}
	return "SELECT"
}

// OrderKey is one ORDER BY key.
type OrderKey struct {
	Var  string
	Desc bool
}

// Query is a complete query over a group pattern.
type Query struct {
	Form       QueryForm
	Projection []string // empty selects every variable
	Distinct   bool
	Where      *GroupPattern
	OrderBy    []OrderKey
	Offset     int
	Limit      int // 0 = no limit
}

// NewSelect returns a SELECT query over where. No variables means SELECT *.
func NewSelect(where *GroupPattern, vars ...string) *Query {
	return &Query{Form: FormSelect, Projection: vars, Where: where}
}

// NewAsk returns an ASK query over where.
func NewAsk(where *GroupPattern) *Query {
	return &Query{Form: FormAsk, Where: where}
}

// WithDistinct enables DISTINCT.
func (q *Query) WithDistinct() *Query {
	q.Distinct = true
	return q
}

// OrderAsc appends an ascending ORDER BY key.
func (q *Query) OrderAsc(v string) *Query {
	q.OrderBy = append(q.OrderBy, OrderKey{Var: v})
	return q
}

// OrderDesc appends a descending ORDER BY key.
func (q *Query) OrderDesc(v string) *Query {
	q.OrderBy = append(q.OrderBy, OrderKey{Var: v, Desc: true})
	return q
}

// WithLimit sets LIMIT.
func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	return q
}

// WithOffset sets OFFSET.
func (q *Query) WithOffset(n int) *Query {
	q.Offset = n
	return q
}

// String renders the query in SPARQL-like syntax. Two queries with the
// same string are evaluated identically; the prepared query cache relies
// on it.
func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString(q.Form.String())
	if q.Form == FormSelect {
		if q.Distinct {
			sb.WriteString(" DISTINCT")
		}
		if len(q.Projection) == 0 {
			sb.WriteString(" *")
		}
		for _, v := range q.Projection {
			sb.WriteString(" ")
			sb.WriteString(v)
		}
	}
	sb.WriteString(" WHERE ")
	if q.Where != nil {
		sb.WriteString(q.Where.String())
	} else {
		sb.WriteString("{ }")
	}
	if len(q.OrderBy) > 0 {
		sb.WriteString(" ORDER BY")
		for _, k := range q.OrderBy {
			if k.Desc {
				fmt.Fprintf(&sb, " DESC(%s)", k.Var)
			} else {
				fmt.Fprintf(&sb, " %s", k.Var)
			}
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}
	return sb.String()
}

// validate rejects queries that cannot be planned.
func (q *Query) validate() error {
	if q.Where == nil {
		return fmt.Errorf("%w: missing WHERE pattern", ErrIllFormedQuery)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative LIMIT or OFFSET", ErrIllFormedQuery)
	}
	for _, v := range q.Projection {
		if !IsVar(v) {
			return fmt.Errorf("%w: projection %q is not a variable", ErrIllFormedQuery, v)
		}
	}
	so, pred := q.Where.PositionVarsets()
	if clash := so.Intersect(pred); !clash.Empty() {
		return fmt.Errorf("%w: %s used as predicate and as subject/object", ErrIllFormedQuery, clash)
	}
	return nil
}

// predicateVars returns the variables decoded in the predicate space.
func (q *Query) predicateVars() Varset {
	_, pred := q.Where.PositionVarsets()
	return pred
}
