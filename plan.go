package rdfgraph

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Plan generation: linearises a group pattern into a postfix program.
//
// Triples between two OPTIONAL/MINUS blocks form a segment. Inside a
// segment, triples sharing variables are merged into connected components
// (union-find) and each component becomes one BasicQuery for the matcher.
// Components, UNIONs and the result of the previous segments are nodes of a
// join graph whose edges connect nodes with a common variable; a DFS in
// ascending node order emits Retrieve leaves and Join instructions. Blocks
// follow their segment, filters come last.
//
// The planner is structural: it never looks at cardinalities.
// ---------------------------------------------------------------------------

// OpCode identifies a plan instruction.
type OpCode uint8

const (
	OpRetrieve OpCode = iota
	OpJoin
	OpOptional
	OpMinus
	OpUnion
	OpFilter
)

var opNames = [...]string{
	OpRetrieve: "Retrieve",
	OpJoin:     "Join",
	OpOptional: "Optional",
	OpMinus:    "Minus",
	OpUnion:    "Union",
	OpFilter:   "Filter",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OpCode(%d)", op)
}

// BasicQuery is a basic graph pattern whose rows are returned over Vars.
// When Vars omits variables of Triples, the projected rows are
// deduplicated: the extra triples only restrict the solutions.
type BasicQuery struct {
	Triples []TriplePattern
	Vars    Varset
}

func newBasicQuery(triples []TriplePattern) *BasicQuery {
	q := &BasicQuery{Triples: triples}
	for _, t := range triples {
		q.Vars = q.Vars.Union(t.Varset())
	}
	return q
}

func (q *BasicQuery) String() string {
	parts := make([]string, len(q.Triples))
	for i, t := range q.Triples {
		parts[i] = t.String()
	}
	return strings.Join(parts, " . ")
}

// Instruction is one step of a plan. Only the fields relevant to Op are set.
type Instruction struct {
	Op OpCode

	// OpRetrieve: nil retrieves the one-row, zero-column relation.
	Query *BasicQuery

	// OpFilter
	Filter *Filter
}

// Plan is a postfix program over relation sets. Plans hold no results and
// may be executed any number of times.
type Plan struct {
	Instructions []Instruction
}

// String lists the instructions one per line.
func (p *Plan) String() string {
	var sb strings.Builder
	for i, in := range p.Instructions {
		fmt.Fprintf(&sb, "%d: %s", i, in.Op)
		switch {
		case in.Op == OpRetrieve && in.Query == nil:
			sb.WriteString(" (empty)")
		case in.Op == OpRetrieve:
			fmt.Fprintf(&sb, " %s [%s]", in.Query.Vars, in.Query)
		case in.Op == OpFilter:
			fmt.Fprintf(&sb, " %s", in.Filter.Root)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// GeneratePlan builds the evaluation plan of a group pattern.
func GeneratePlan(gp *GroupPattern) *Plan {
	var pg planGenerator
	pg.generate(gp)
	return &Plan{Instructions: pg.out}
}

type planGenerator struct {
	out []Instruction
}

func (pg *planGenerator) emit(op OpCode) {
	pg.out = append(pg.out, Instruction{Op: op})
}

type nodeKind uint8

const (
	nodeRunning nodeKind = iota // rows of earlier segments, already on the stack
	nodeBlock
	nodeUnion
)

type joinNode struct {
	kind  nodeKind
	vars  Varset
	query *BasicQuery
	union *UnionBlock
}

func (pg *planGenerator) generate(gp *GroupPattern) {
	var current Varset
	emitted := false
	nextPattern, nextUnion := 0, 0

	blocks := make([]OptionalBlock, 0, len(gp.Optionals)+1)
	blocks = append(blocks, gp.Optionals...)
	blocks = append(blocks, OptionalBlock{LastPattern: len(gp.Patterns) - 1, LastUnion: len(gp.Unions) - 1})

	for i, blk := range blocks {
		if nextPattern <= blk.LastPattern || nextUnion <= blk.LastUnion {
			var nodes []joinNode
			if emitted {
				nodes = append(nodes, joinNode{kind: nodeRunning, vars: current})
			}
			for _, comp := range components(gp.Patterns, nextPattern, blk.LastPattern) {
				q := newBasicQuery(comp)
				nodes = append(nodes, joinNode{kind: nodeBlock, vars: q.Vars, query: q})
			}
			for u := nextUnion; u <= blk.LastUnion; u++ {
				nodes = append(nodes, joinNode{kind: nodeUnion, vars: unionMinimalVarset(gp.Unions[u]), union: &gp.Unions[u]})
			}
			pg.joinGraph(nodes)
			for _, n := range nodes {
				current = current.Union(n.vars)
			}
			emitted = emitted || len(nodes) > 0
			nextPattern, nextUnion = blk.LastPattern+1, blk.LastUnion+1
		}

		if i == len(gp.Optionals) {
			break
		}
		if !emitted {
			pg.out = append(pg.out, Instruction{Op: OpRetrieve})
			emitted = true
		}
		pg.generate(blk.Pattern)
		if blk.Kind == BlockMinus {
			pg.emit(OpMinus)
		} else {
			pg.emit(OpOptional)
			current = current.Union(blk.Pattern.MaximalVarset())
		}
	}

	if !emitted {
		pg.out = append(pg.out, Instruction{Op: OpRetrieve})
	}

	for _, f := range gp.Filters {
		for _, ep := range f.ExistsPatterns() {
			pg.generate(ep)
		}
		pg.out = append(pg.out, Instruction{Op: OpFilter, Filter: f})
	}
}

// joinGraph emits the nodes in DFS order over shared-variable edges.
// Node 0, when it is the running result, is already on the stack.
func (pg *planGenerator) joinGraph(nodes []joinNode) {
	visited := make([]bool, len(nodes))
	var dfs func(i int)
	dfs = func(i int) {
		visited[i] = true
		switch n := nodes[i]; n.kind {
		case nodeBlock:
			pg.out = append(pg.out, Instruction{Op: OpRetrieve, Query: n.query})
		case nodeUnion:
			pg.generateUnion(n.union)
		}
		for j := range nodes {
			if !visited[j] && nodes[i].vars.HasCommonVar(nodes[j].vars) {
				dfs(j)
				pg.emit(OpJoin)
			}
		}
	}
	for i := range nodes {
		if visited[i] {
			continue
		}
		dfs(i)
		if i != 0 {
			pg.emit(OpJoin)
		}
	}
}

func (pg *planGenerator) generateUnion(u *UnionBlock) {
	if len(u.Branches) == 0 {
		pg.out = append(pg.out, Instruction{Op: OpRetrieve})
		return
	}
	for k, b := range u.Branches {
		pg.generate(b)
		if k > 0 {
			pg.emit(OpUnion)
		}
	}
}

// components groups patterns[lo..hi] into connected components by shared
// variables. Components are ordered by their first triple; a triple without
// variables is a component of its own.
func components(patterns []TriplePattern, lo, hi int) [][]TriplePattern {
	if lo > hi {
		return nil
	}
	n := hi - lo + 1
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}

	vars := make([]Varset, n)
	for i := range vars {
		vars[i] = patterns[lo+i].Varset()
	}
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			if vars[i].HasCommonVar(vars[j]) {
				ri, rj := find(i), find(j)
				if ri != rj {
					// The smaller index stays root so components keep source order.
					if ri < rj {
						parent[rj] = ri
					} else {
						parent[ri] = rj
					}
				}
			}
		}
	}

	var out [][]TriplePattern
	slot := make(map[int]int)
	for i := 0; i < n; i++ {
		r := find(i)
		k, ok := slot[r]
		if !ok {
			k = len(out)
			slot[r] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], patterns[lo+i])
	}
	return out
}
