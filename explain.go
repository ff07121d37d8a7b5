package rdfgraph

import (
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Query Plan: operator tree returned by EXPLAIN and PROFILE.
//
// A Plan is a postfix program; Explain folds it back into the tree the
// stack machine evaluates. Rewritten queries have no program, their tree
// mirrors the scopes the rewriter visits.
// ---------------------------------------------------------------------------

// PlanOperator names a node of the operator tree.
type PlanOperator string

const (
	OperatorRetrieve PlanOperator = "Retrieve"
	OperatorJoin     PlanOperator = "Join"
	OperatorOptional PlanOperator = "Optional"
	OperatorMinus    PlanOperator = "Minus"
	OperatorUnion    PlanOperator = "Union"
	OperatorFilter   PlanOperator = "Filter"
	OperatorSort     PlanOperator = "Sort"
	OperatorDistinct PlanOperator = "Distinct"
	OperatorSlice    PlanOperator = "Slice"
	OperatorAsk      PlanOperator = "Ask"
	OperatorProduce  PlanOperator = "ProduceResults"
)

var opOperators = [...]PlanOperator{
	OpRetrieve: OperatorRetrieve,
	OpJoin:     OperatorJoin,
	OpOptional: OperatorOptional,
	OpMinus:    OperatorMinus,
	OpUnion:    OperatorUnion,
	OpFilter:   OperatorFilter,
}

// PlanNode is a single operator in the tree.
type PlanNode struct {
	Operator    PlanOperator
	Details     string        // e.g. "{?s ?o} [?s <p> ?o]"
	ActualRows  int           // PROFILE only
	ElapsedTime time.Duration // PROFILE only
	Profiled    bool          // ActualRows and ElapsedTime were measured
	Children    []*PlanNode
}

// QueryPlan is returned by Engine.Explain and Engine.Profile.
type QueryPlan struct {
	Root    *PlanNode
	Path    string  // "rewrite" or "plan"
	Profile bool    // true when rows and timings are measured
	Result  *Result // PROFILE only
}

// String returns a human-readable multi-line representation of the plan.
func (qp *QueryPlan) String() string {
	var sb strings.Builder
	if qp.Profile {
		sb.WriteString("PROFILE:\n")
	} else {
		sb.WriteString("EXPLAIN:\n")
	}
	qp.Root.format(&sb, "", true)
	return sb.String()
}

func (n *PlanNode) format(sb *strings.Builder, prefix string, isLast bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	if prefix == "" {
		connector = ""
	}

	sb.WriteString(prefix)
	sb.WriteString(connector)
	sb.WriteString(string(n.Operator))
	if n.Details != "" {
		sb.WriteString(" (")
		sb.WriteString(n.Details)
		sb.WriteString(")")
	}
	if n.Profiled {
		fmt.Fprintf(sb, " [rows=%d, time=%s]", n.ActualRows, n.ElapsedTime.Round(time.Microsecond))
	}
	sb.WriteString("\n")

	childPrefix := prefix
	if prefix != "" {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	} else {
		childPrefix = " "
	}

	for i, child := range n.Children {
		child.format(sb, childPrefix, i == len(n.Children)-1)
	}
}

// Explain folds the program into its operator tree.
func (p *Plan) Explain() *PlanNode {
	return p.tree(nil)
}

// tree folds the program; stats, when set, holds the per-instruction
// measurements of a profiled run.
func (p *Plan) tree(stats []instructionStats) *PlanNode {
	var stack []*PlanNode
	pop := func() *PlanNode {
		if len(stack) == 0 {
			return &PlanNode{Operator: "?"}
		}
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return n
	}

	for i, in := range p.Instructions {
		n := &PlanNode{Operator: opOperators[in.Op]}
		switch in.Op {
		case OpRetrieve:
			if in.Query == nil {
				n.Details = "empty"
			} else {
				n.Details = fmt.Sprintf("%s [%s]", in.Query.Vars, in.Query)
			}
		case OpFilter:
			n.Details = in.Filter.Root.String()
			k := len(in.Filter.ExistsPatterns())
			exists := make([]*PlanNode, k)
			for j := k - 1; j >= 0; j-- {
				exists[j] = pop()
			}
			n.Children = append([]*PlanNode{pop()}, exists...)
		default:
			b, a := pop(), pop()
			n.Children = []*PlanNode{a, b}
		}
		if i < len(stats) {
			n.ActualRows = stats[i].Rows
			n.ElapsedTime = stats[i].Elapsed
			n.Profiled = true
		}
		stack = append(stack, n)
	}
	if len(stack) != 1 {
		return &PlanNode{Operator: "?", Details: fmt.Sprintf("%d roots", len(stack)), Children: stack}
	}
	return stack[0]
}

// explain mirrors evaluate without touching the matcher.
func (rw *rewriter) explain(g *GroupPattern, ancestors []scopeFrame) *PlanNode {
	cands := expandUnions(g)
	nodes := make([]*PlanNode, 0, len(cands))
	for _, cand := range cands {
		triples := withAncestorTriples(cand, ancestors)
		var n *PlanNode
		if len(cand.Patterns) == 0 {
			n = &PlanNode{Operator: OperatorRetrieve, Details: "empty"}
		} else {
			q := newBasicQuery(triples)
			q.Vars = rw.outputVars(cand, ancestors)
			n = &PlanNode{Operator: OperatorRetrieve, Details: fmt.Sprintf("%s [%s]", q.Vars, q)}
		}

		minimal := cand.MinimalVarset()
		var late []*Filter
		for _, f := range cand.Filters {
			if f.Varset().BelongTo(minimal) {
				n = &PlanNode{Operator: OperatorFilter, Details: f.Root.String(), Children: []*PlanNode{n}}
			} else {
				late = append(late, f)
			}
		}
		frames := append(append([]scopeFrame(nil), ancestors...), scopeFrame{group: candidateWith(cand, triples)})
		for _, o := range cand.Optionals {
			n = &PlanNode{Operator: OperatorOptional, Children: []*PlanNode{n, rw.explain(o.Pattern, frames)}}
		}
		for _, f := range late {
			n = &PlanNode{Operator: OperatorFilter, Details: f.Root.String(), Children: []*PlanNode{n}}
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &PlanNode{Operator: OperatorUnion, Details: fmt.Sprintf("%d candidates", len(nodes)), Children: nodes}
}

// wrapModifiers adds the solution modifiers of q above root.
func wrapModifiers(root *PlanNode, q *Query) *PlanNode {
	if q.Form == FormAsk {
		return &PlanNode{Operator: OperatorAsk, Children: []*PlanNode{root}}
	}
	top := root
	if len(q.OrderBy) > 0 {
		keys := make([]string, len(q.OrderBy))
		for i, k := range q.OrderBy {
			if k.Desc {
				keys[i] = "DESC(" + k.Var + ")"
			} else {
				keys[i] = k.Var
			}
		}
		top = &PlanNode{Operator: OperatorSort, Details: strings.Join(keys, ", "), Children: []*PlanNode{top}}
	}
	if q.Distinct {
		top = &PlanNode{Operator: OperatorDistinct, Children: []*PlanNode{top}}
	}
	if q.Limit > 0 || q.Offset > 0 {
		top = &PlanNode{Operator: OperatorSlice, Details: fmt.Sprintf("offset=%d, limit=%d", q.Offset, q.Limit), Children: []*PlanNode{top}}
	}
	proj := "*"
	if len(q.Projection) > 0 {
		proj = strings.Join(q.Projection, ", ")
	}
	return &PlanNode{Operator: OperatorProduce, Details: proj, Children: []*PlanNode{top}}
}
