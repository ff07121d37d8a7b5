package rdfgraph

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// ---------------------------------------------------------------------------
// Filter evaluation
//
// A Filter is compiled once per relation signature: variable leaves are
// resolved to column positions, constants are parsed, constant regular
// expressions are compiled, and every EXISTS result set is sorted on the
// variables it shares with the relation so each row needs only a binary
// search. Decoded term values are cached for the whole evaluation.
// ---------------------------------------------------------------------------

// filterContext carries the state shared by all filters of one evaluation.
type filterContext struct {
	index         StringIndex
	predicateVars Varset
	values        map[valueKey]Value
}

type valueKey struct {
	id    ID
	space TermSpace
}

func newFilterContext(index StringIndex, predicateVars Varset) *filterContext {
	return &filterContext{
		index:         index,
		predicateVars: predicateVars,
		values:        make(map[valueKey]Value),
	}
}

// value decodes and parses a bound ID, memoising the result.
func (fc *filterContext) value(id ID, space TermSpace) Value {
	if id == Unbound || fc.index == nil {
		return ErrorValue
	}
	k := valueKey{id: id, space: space}
	if v, ok := fc.values[k]; ok {
		return v
	}
	v := ErrorValue
	if term, ok := fc.index.Decode(id, space); ok {
		v = ParseTerm(term)
	}
	fc.values[k] = v
	return v
}

func (fc *filterContext) spaceOf(name string) TermSpace {
	if fc.predicateVars.Contains(name) {
		return SpacePredicate
	}
	return SpaceValue
}

// compiledNode mirrors a FilterNode with positions and constants resolved.
type compiledNode struct {
	op       FilterOp
	pos      int // FilterVar: column, -1 when the variable is absent
	space    TermSpace
	val      Value // FilterConst
	args     []*compiledNode
	existsID int
	re       *regexp.Regexp // constant REGEX pattern
	reBad    bool           // constant REGEX pattern failed to compile
}

// existsProbe tests rows against one relation of an EXISTS result set.
type existsProbe struct {
	rel      *Relation
	thisCols []int // nil when the relation shares no variable with the row
	xCols    []int
	key      []ID
}

// boundFilter is a Filter compiled for one relation signature.
type boundFilter struct {
	root   *compiledNode
	ctx    *filterContext
	exists [][]existsProbe
}

// bind compiles f for rows over vs. exists holds one result set per EXISTS
// pattern of f, in pre-order.
func (fc *filterContext) bind(f *Filter, vs Varset, exists []*RelationSet) *boundFilter {
	bf := &boundFilter{ctx: fc}
	next := 0
	bf.root = fc.compile(f.Root, vs, &next)

	bf.exists = make([][]existsProbe, len(exists))
	for k, set := range exists {
		for _, rel := range set.Relations() {
			if rel.Len() == 0 {
				continue
			}
			p := existsProbe{rel: rel}
			common := vs.Intersect(rel.vars)
			if !common.Empty() {
				p.thisCols, p.xCols = common.MapTo(vs), common.MapTo(rel.vars)
				p.key = make([]ID, common.Len())
				rel.sortBy(p.xCols)
			}
			bf.exists[k] = append(bf.exists[k], p)
		}
	}
	return bf
}

func (fc *filterContext) compile(n *FilterNode, vs Varset, nextExists *int) *compiledNode {
	c := &compiledNode{op: n.Op, pos: -1}
	switch n.Op {
	case FilterVar:
		c.pos = vs.Index(n.Var)
		c.space = fc.spaceOf(n.Var)
	case FilterConst:
		c.val = ParseTerm(n.Const)
	case FilterExists:
		c.existsID = *nextExists
		*nextExists++
	}
	for _, a := range n.Args {
		c.args = append(c.args, fc.compile(a, vs, nextExists))
	}
	if n.Op == FilterRegex && c.args[1].op == FilterConst && (len(c.args) < 3 || c.args[2].op == FilterConst) {
		flags := ""
		if len(c.args) == 3 {
			flags = c.args[2].val.Lexical()
		}
		re, err := compileRegex(c.args[1].val.Lexical(), flags)
		c.re, c.reBad = re, err != nil
	}
	return c
}

// accept reports whether row passes the filter: only a true effective
// boolean value keeps the row; false and error both reject it.
func (bf *boundFilter) accept(row []ID) bool {
	return bf.eval(bf.root, row).EffectiveBool() == TriTrue
}

func (bf *boundFilter) ebv(n *compiledNode, row []ID) Tristate {
	return bf.eval(n, row).EffectiveBool()
}

func (bf *boundFilter) eval(n *compiledNode, row []ID) Value {
	switch n.op {
	case FilterVar:
		if n.pos < 0 {
			return ErrorValue
		}
		return bf.ctx.value(row[n.pos], n.space)

	case FilterConst:
		return n.val

	case FilterNot:
		return BoolValue(bf.ebv(n.args[0], row).Not())

	case FilterOr:
		t := TriFalse
		for _, a := range n.args {
			if t = t.Or(bf.ebv(a, row)); t == TriTrue {
				break
			}
		}
		return BoolValue(t)

	case FilterAnd:
		t := TriTrue
		for _, a := range n.args {
			if t = t.And(bf.ebv(a, row)); t == TriFalse {
				break
			}
		}
		return BoolValue(t)

	case FilterEq, FilterNe, FilterLt, FilterLe, FilterGt, FilterGe:
		a, b := bf.eval(n.args[0], row), bf.eval(n.args[1], row)
		return BoolValue(Compare(a, b, CompareOp(n.op-FilterEq)))

	case FilterRegex:
		return BoolValue(bf.regex(n, row))

	case FilterLang:
		x := bf.eval(n.args[0], row)
		switch x.Kind {
		case KindSimpleLiteral:
			return SimpleLiteral(x.lang)
		case KindString:
			return SimpleLiteral("")
		}
		return ErrorValue

	case FilterLangMatches:
		tag, rng := bf.eval(n.args[0], row), bf.eval(n.args[1], row)
		if tag.Kind != KindSimpleLiteral || rng.Kind != KindSimpleLiteral {
			return ErrorValue
		}
		return BoolValue(triOf(langMatches(tag.s, rng.s)))

	case FilterBound:
		pos := n.args[0].pos
		return BoolValue(triOf(pos >= 0 && row[pos] != Unbound))

	case FilterIn:
		x := bf.eval(n.args[0], row)
		t := TriFalse
		for _, a := range n.args[1:] {
			if t = t.Or(Compare(x, bf.eval(a, row), CmpEq)); t == TriTrue {
				break
			}
		}
		return BoolValue(t)

	case FilterExists:
		return BoolValue(triOf(bf.existsHit(n.existsID, row)))
	}
	return ErrorValue
}

func (bf *boundFilter) regex(n *compiledNode, row []ID) Tristate {
	text := bf.eval(n.args[0], row)
	if text.Kind != KindSimpleLiteral && text.Kind != KindString {
		return TriError
	}
	re := n.re
	if re == nil {
		if n.reBad {
			return TriFalse
		}
		pat := bf.eval(n.args[1], row)
		if pat.Kind != KindSimpleLiteral && pat.Kind != KindString {
			return TriError
		}
		flags := ""
		if len(n.args) == 3 {
			f := bf.eval(n.args[2], row)
			if f.Kind != KindSimpleLiteral && f.Kind != KindString {
				return TriError
			}
			flags = f.s
		}
		var err error
		if re, err = compileRegex(pat.s, flags); err != nil {
			return TriFalse
		}
	}
	return triOf(re.MatchString(text.s))
}

func (bf *boundFilter) existsHit(id int, row []ID) bool {
	if id >= len(bf.exists) {
		return false
	}
	for i := range bf.exists[id] {
		p := &bf.exists[id][i]
		if p.thisCols == nil {
			return true
		}
		fillKey(p.key, row, p.thisCols)
		if p.rel.leftBound(p.key, p.xCols) != -1 {
			return true
		}
	}
	return false
}

var errBadRegexFlag = errors.New("rdfgraph: unsupported regex flag")

// compileRegex translates XPath regex flags (i, s, m, x) to RE2.
func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	var goFlags strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			goFlags.WriteRune(f)
		case 'x':
			pattern = stripPatternSpace(pattern)
		default:
			return nil, errBadRegexFlag
		}
	}
	if goFlags.Len() > 0 {
		pattern = "(?" + goFlags.String() + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// stripPatternSpace removes whitespace outside character classes.
func stripPatternSpace(p string) string {
	var sb strings.Builder
	inClass := false
	for _, r := range p {
		switch {
		case r == '[':
			inClass = true
		case r == ']':
			inClass = false
		case unicode.IsSpace(r) && !inClass:
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// langMatches implements basic language-range matching: "*" matches any
// non-empty tag, otherwise the range must equal the tag or be a prefix of
// it ending at a subtag boundary. Case is ignored.
func langMatches(tag, rng string) bool {
	if rng == "*" {
		return tag != ""
	}
	fold := cases.Fold()
	tag, rng = fold.String(tag), fold.String(rng)
	return tag == rng || strings.HasPrefix(tag, rng+"-")
}
