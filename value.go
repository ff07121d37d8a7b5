package rdfgraph

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Filter values: typed scalars with SPARQL comparison rules.
//
// Numeric kinds promote along integer < decimal < float < double before
// they are compared. Incomparable kinds never fail: the comparison yields
// the error truth value, which a FILTER treats as "reject the row".
// ---------------------------------------------------------------------------

// Tristate is a three-valued boolean: false, true or error.
type Tristate uint8

const (
	TriFalse Tristate = iota
	TriTrue
	TriError
)

// Truth tables indexed by [a][b]. Row/column order: false, true, error.
var (
	triOr = [3][3]Tristate{
		{TriFalse, TriTrue, TriError},
		{TriTrue, TriTrue, TriTrue},
		{TriError, TriTrue, TriError},
	}
	triAnd = [3][3]Tristate{
		{TriFalse, TriFalse, TriFalse},
		{TriFalse, TriTrue, TriError},
		{TriFalse, TriError, TriError},
	}
	triNot = [3]Tristate{TriTrue, TriFalse, TriError}
)

// Or combines two truth values with SPARQL's logical-or table.
func (t Tristate) Or(o Tristate) Tristate { return triOr[t][o] }

// And combines two truth values with SPARQL's logical-and table.
func (t Tristate) And(o Tristate) Tristate { return triAnd[t][o] }

// Not negates t; the negation of error is error.
func (t Tristate) Not() Tristate { return triNot[t] }

func (t Tristate) String() string {
	switch t {
	case TriFalse:
		return "false"
	case TriTrue:
		return "true"
	default:
		return "error"
	}
}

func triOf(b bool) Tristate {
	if b {
		return TriTrue
	}
	return TriFalse
}

// ValueKind tags a Value. Numeric kinds are ordered by promotion rank.
type ValueKind uint8

const (
	KindBoolean ValueKind = iota
	KindInteger
	KindDecimal
	KindFloat
	KindDouble
	KindSimpleLiteral // "abc" or "abc"@en
	KindString        // "abc"^^xsd:string
	KindIRI
	KindDateTime
	KindTerm // any other RDF term (blank node, unknown datatype)
	KindError
)

var kindNames = [...]string{
	KindBoolean:       "boolean",
	KindInteger:       "integer",
	KindDecimal:       "decimal",
	KindFloat:         "float",
	KindDouble:        "double",
	KindSimpleLiteral: "simple-literal",
	KindString:        "string",
	KindIRI:           "iri",
	KindDateTime:      "datetime",
	KindTerm:          "term",
	KindError:         "error",
}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsNumeric reports whether the kind takes part in numeric promotion.
func (k ValueKind) IsNumeric() bool { return k >= KindInteger && k <= KindDouble }

// Value is a typed scalar produced from an RDF term during filter
// evaluation. Only the fields relevant to Kind are populated.
type Value struct {
	Kind ValueKind

	b    Tristate        // KindBoolean
	i    int64           // KindInteger
	d    decimal.Decimal // KindDecimal
	f    float64         // KindFloat, KindDouble
	s    string          // lexical form of literals, IRI without brackets
	lang string          // language tag of a simple literal
	t    time.Time       // KindDateTime
	term string          // the RDF term as written
}

// ErrorValue is the value of every failed conversion or lookup.
var ErrorValue = Value{Kind: KindError}

// BoolValue wraps a truth value; TriError yields ErrorValue.
func BoolValue(t Tristate) Value {
	if t == TriError {
		return ErrorValue
	}
	return Value{Kind: KindBoolean, b: t}
}

// IntValue returns an xsd:integer value.
func IntValue(i int64) Value { return Value{Kind: KindInteger, i: i} }

// DecimalValue returns an xsd:decimal value.
func DecimalValue(d decimal.Decimal) Value { return Value{Kind: KindDecimal, d: d} }

// DoubleValue returns an xsd:double value.
func DoubleValue(f float64) Value { return Value{Kind: KindDouble, f: f} }

// SimpleLiteral returns a plain literal without language tag.
func SimpleLiteral(s string) Value {
	return Value{Kind: KindSimpleLiteral, s: s, term: `"` + s + `"`}
}

// Lexical returns the lexical form of a literal or the IRI text.
func (v Value) Lexical() string { return v.s }

// Lang returns the language tag of a simple literal.
func (v Value) Lang() string { return v.lang }

// Term returns the RDF term the value was parsed from.
func (v Value) Term() string { return v.term }

// Bool returns the truth value of a boolean, TriError for other kinds.
func (v Value) Bool() Tristate {
	if v.Kind != KindBoolean {
		return TriError
	}
	return v.b
}

// ---------------------------------------------------------------------------
// Term parsing
// ---------------------------------------------------------------------------

const xsdNS = "http://www.w3.org/2001/XMLSchema#"

// datatype suffixes recognised after "^^"; both the full IRI and the
// xsd: prefixed form are accepted.
var xsdTypes = map[string]ValueKind{
	"string":   KindString,
	"boolean":  KindBoolean,
	"integer":  KindInteger,
	"decimal":  KindDecimal,
	"float":    KindFloat,
	"double":   KindDouble,
	"dateTime": KindDateTime,
	"date":     KindDateTime,
}

// ParseTerm converts an RDF term in N-Triples notation into a Value.
//
//	<http://a>              → IRI
//	"abc", "abc"@en         → simple literal
//	"5"^^xsd:integer        → integer (full datatype IRIs work too)
//	'abc'                   → simple literal (single quotes are normalised)
//
// A literal whose lexical form does not match its datatype yields
// ErrorValue; an unknown datatype yields a generic term.
func ParseTerm(term string) Value {
	if term == "" {
		return ErrorValue
	}
	if term[0] == '\'' {
		term = normaliseQuotes(term)
	}
	switch term[0] {
	case '<':
		if len(term) < 2 || term[len(term)-1] != '>' {
			return Value{Kind: KindTerm, term: term}
		}
		return Value{Kind: KindIRI, s: term[1 : len(term)-1], term: term}
	case '"':
		return parseLiteral(term)
	default:
		return Value{Kind: KindTerm, term: term}
	}
}

func normaliseQuotes(term string) string {
	end := strings.LastIndexByte(term, '\'')
	if end <= 0 {
		return term
	}
	return `"` + term[1:end] + `"` + term[end+1:]
}

func parseLiteral(term string) Value {
	end := strings.LastIndexByte(term, '"')
	if end <= 0 {
		return Value{Kind: KindTerm, term: term}
	}
	lex := unescapeLiteral(term[1:end])
	rest := term[end+1:]

	switch {
	case rest == "":
		return Value{Kind: KindSimpleLiteral, s: lex, term: term}
	case rest[0] == '@':
		return Value{Kind: KindSimpleLiteral, s: lex, lang: rest[1:], term: term}
	case strings.HasPrefix(rest, "^^"):
		return typedLiteral(lex, rest[2:], term)
	default:
		return Value{Kind: KindTerm, term: term}
	}
}

func typedLiteral(lex, datatype, term string) Value {
	var local string
	switch {
	case strings.HasPrefix(datatype, "<"+xsdNS) && strings.HasSuffix(datatype, ">"):
		local = datatype[len(xsdNS)+1 : len(datatype)-1]
	case strings.HasPrefix(datatype, "xsd:"):
		local = datatype[4:]
	}
	kind, ok := xsdTypes[local]
	if !ok {
		return Value{Kind: KindTerm, term: term}
	}

	v := Value{Kind: kind, s: lex, term: term}
	lex = strings.TrimSpace(lex)
	switch kind {
	case KindBoolean:
		switch lex {
		case "true", "1":
			v.b = TriTrue
		case "false", "0":
			v.b = TriFalse
		default:
			return ErrorValue
		}
	case KindInteger:
		i, err := strconv.ParseInt(lex, 10, 64)
		if err != nil {
			return ErrorValue
		}
		v.i = i
	case KindDecimal:
		d, err := decimal.NewFromString(lex)
		if err != nil {
			return ErrorValue
		}
		v.d = d
	case KindFloat:
		f, err := strconv.ParseFloat(lex, 32)
		if err != nil {
			return ErrorValue
		}
		v.f = f
	case KindDouble:
		f, err := strconv.ParseFloat(lex, 64)
		if err != nil {
			return ErrorValue
		}
		v.f = f
	case KindDateTime:
		t, ok := parseDateTime(lex)
		if !ok {
			return ErrorValue
		}
		v.t = t
	}
	return v
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02Z07:00",
	"2006-01-02",
}

func parseDateTime(lex string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, lex); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func unescapeLiteral(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// CompareOp is a binary comparison operator.
type CompareOp uint8

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// Compare applies op to a and b. Equality on IRIs and generic terms is
// term identity; every other pairing of different kinds is an error.
func Compare(a, b Value, op CompareOp) Tristate {
	if a.Kind == KindError || b.Kind == KindError {
		return TriError
	}
	c, ok := order(a, b)
	if !ok {
		if (op == CmpEq || op == CmpNe) && a.Kind == b.Kind && (a.Kind == KindIRI || a.Kind == KindTerm) {
			eq := a.term == b.term
			if op == CmpNe {
				eq = !eq
			}
			return triOf(eq)
		}
		return TriError
	}
	switch op {
	case CmpEq:
		return triOf(c == 0)
	case CmpNe:
		return triOf(c != 0)
	case CmpLt:
		return triOf(c < 0)
	case CmpLe:
		return triOf(c <= 0)
	case CmpGt:
		return triOf(c > 0)
	case CmpGe:
		return triOf(c >= 0)
	}
	return TriError
}

// order returns the sign of a-b for kinds with a total order.
func order(a, b Value) (int, bool) {
	if a.Kind.IsNumeric() && b.Kind.IsNumeric() {
		return orderNumeric(a, b)
	}
	if a.Kind != b.Kind {
		return 0, false
	}
	switch a.Kind {
	case KindBoolean:
		if a.b == TriError || b.b == TriError {
			return 0, false
		}
		return int(a.b) - int(b.b), true
	case KindSimpleLiteral:
		if c := strings.Compare(a.s, b.s); c != 0 {
			return c, true
		}
		return strings.Compare(a.lang, b.lang), true
	case KindString:
		return strings.Compare(a.s, b.s), true
	case KindDateTime:
		return a.t.Compare(b.t), true
	}
	return 0, false
}

func orderNumeric(a, b Value) (int, bool) {
	to := max(a.Kind, b.Kind)
	a, b = promote(a, to), promote(b, to)
	switch to {
	case KindInteger:
		switch {
		case a.i < b.i:
			return -1, true
		case a.i > b.i:
			return 1, true
		}
		return 0, true
	case KindDecimal:
		return a.d.Cmp(b.d), true
	default:
		if math.IsNaN(a.f) || math.IsNaN(b.f) {
			return 0, false
		}
		switch {
		case a.f < b.f:
			return -1, true
		case a.f > b.f:
			return 1, true
		}
		return 0, true
	}
}

// promote widens a numeric value to kind to.
func promote(v Value, to ValueKind) Value {
	if v.Kind == to {
		return v
	}
	switch to {
	case KindDecimal:
		return Value{Kind: KindDecimal, d: decimal.NewFromInt(v.i)}
	case KindFloat, KindDouble:
		switch v.Kind {
		case KindInteger:
			return Value{Kind: to, f: float64(v.i)}
		case KindDecimal:
			return Value{Kind: to, f: v.d.InexactFloat64()}
		default:
			return Value{Kind: to, f: v.f}
		}
	}
	return v
}

// EffectiveBool returns the effective boolean value of v: booleans as is,
// numbers are true unless zero or NaN, string literals are true unless
// empty. Other kinds are an error.
func (v Value) EffectiveBool() Tristate {
	switch v.Kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return triOf(v.i != 0)
	case KindDecimal:
		return triOf(!v.d.IsZero())
	case KindFloat, KindDouble:
		return triOf(v.f != 0 && !math.IsNaN(v.f))
	case KindSimpleLiteral, KindString:
		return triOf(v.s != "")
	}
	return TriError
}
