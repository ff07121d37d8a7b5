package rdfgraph

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	exKnows = "<http://ex/knows>"
	exAge   = "<http://ex/age>"
	exLikes = "<http://ex/likes>"
	exP     = "<http://ex/p>"
	exQ     = "<http://ex/q>"
	exR     = "<http://ex/r>"
)

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func opsOf(p *Plan) []OpCode {
	ops := make([]OpCode, len(p.Instructions))
	for i, in := range p.Instructions {
		ops[i] = in.Op
	}
	return ops
}

func TestGeneratePlan(t *testing.T) {
	tests := []struct {
		name  string
		where *GroupPattern
		want  []OpCode
	}{
		{
			name:  "empty group",
			where: NewGroup(),
			want:  []OpCode{OpRetrieve},
		},
		{
			name: "connected triples are one retrieve",
			where: NewGroup().
				AddTriple("?s", exKnows, "?o").
				AddTriple("?o", exAge, "?a"),
			want: []OpCode{OpRetrieve},
		},
		{
			name: "disconnected components are joined",
			where: NewGroup().
				AddTriple("?s", exKnows, "?o").
				AddTriple("?o", exAge, "?a").
				AddTriple("?x", exLikes, "?y"),
			want: []OpCode{OpRetrieve, OpRetrieve, OpJoin},
		},
		{
			name: "optional then filter",
			where: NewGroup().
				AddTriple("?s", exKnows, "?o").
				AddOptional(NewGroup().AddTriple("?o", exAge, "?a")).
				AddFilter(Gt(Var("?a"), Const(`"20"^^xsd:integer`))),
			want: []OpCode{OpRetrieve, OpRetrieve, OpOptional, OpFilter},
		},
		{
			name: "segment after optional joins the running result",
			where: NewGroup().
				AddTriple("?s", exP, "?o").
				AddOptional(NewGroup().AddTriple("?o", exQ, "?a")).
				AddTriple("?s", exR, "?t"),
			want: []OpCode{OpRetrieve, OpRetrieve, OpOptional, OpRetrieve, OpJoin},
		},
		{
			name:  "leading optional starts from the empty row",
			where: NewGroup().AddOptional(NewGroup().AddTriple("?x", exP, "?y")),
			want:  []OpCode{OpRetrieve, OpRetrieve, OpOptional},
		},
		{
			name: "union",
			where: NewGroup().AddUnion(
				NewGroup().AddTriple("?x", exP, "<http://ex/c>"),
				NewGroup().AddTriple("?y", exQ, "<http://ex/c>"),
			),
			want: []OpCode{OpRetrieve, OpRetrieve, OpUnion},
		},
		{
			name: "union joined with a triple",
			where: NewGroup().
				AddTriple("?x", exR, "?z").
				AddUnion(
					NewGroup().AddTriple("?x", exP, "?v"),
					NewGroup().AddTriple("?x", exQ, "?v"),
				),
			want: []OpCode{OpRetrieve, OpRetrieve, OpRetrieve, OpUnion, OpJoin},
		},
		{
			name: "minus and exists",
			where: NewGroup().
				AddTriple("?s", exP, "?o").
				AddMinus(NewGroup().AddTriple("?s", exQ, "?z")).
				AddFilter(Exists(NewGroup().AddTriple("?o", exR, "?w"))),
			want: []OpCode{OpRetrieve, OpRetrieve, OpMinus, OpRetrieve, OpFilter},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := GeneratePlan(tt.where)
			assert.Equal(t, tt.want, opsOf(p), p.String())
		})
	}
}

func TestGeneratePlanEmptyRetrieve(t *testing.T) {
	p := GeneratePlan(NewGroup())
	require.Len(t, p.Instructions, 1)
	assert.Nil(t, p.Instructions[0].Query)
	assert.Equal(t, "0: Retrieve (empty)\n", p.String())
}

func TestGeneratePlanDoesNotModifyPattern(t *testing.T) {
	where := NewGroup().
		AddTriple("?s", exP, "?o").
		AddOptional(NewGroup().AddTriple("?o", exQ, "?a"))
	before := where.String()
	GeneratePlan(where)
	GeneratePlan(where)
	assert.Equal(t, before, where.String())
}

func TestComponents(t *testing.T) {
	patterns := []TriplePattern{
		{"?a", exP, "?b"},
		{"?c", exP, "?d"},
		{"?b", exQ, "?c"},
		{"<http://ex/x>", exR, "<http://ex/y>"},
		{"?e", exR, "?f"},
	}
	comps := components(patterns, 0, len(patterns)-1)
	require.Len(t, comps, 3)
	assert.Len(t, comps[0], 3)
	assert.Equal(t, patterns[3], comps[1][0])
	assert.Equal(t, patterns[4], comps[2][0])

	assert.Nil(t, components(patterns, 2, 1))
}

func TestPlanStringGolden(t *testing.T) {
	where := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().AddTriple("?o", exAge, "?a")).
		AddFilter(Gt(Var("?a"), Const(`"20"^^xsd:integer`)))

	newGolden(t).Assert(t, "plan_optional_filter", []byte(GeneratePlan(where).String()))
}

func TestExplainPlanPathGolden(t *testing.T) {
	where := NewGroup().
		AddTriple("?s", exP, "?o").
		AddMinus(NewGroup().AddTriple("?s", exQ, "?z")).
		AddFilter(Exists(NewGroup().AddTriple("?o", exR, "?w")))
	e := newTestEngine(t, newMemGraph(), newMemGraph())

	qp, err := e.Explain(NewSelect(where, "?s"))
	require.NoError(t, err)
	assert.Equal(t, pathPlan, qp.Path)
	newGolden(t).Assert(t, "explain_minus_exists", []byte(qp.String()))
}

func TestExplainRewritePathGolden(t *testing.T) {
	where := NewGroup().
		AddTriple("?s", exKnows, "?o").
		AddOptional(NewGroup().AddTriple("?o", exAge, "?a"))
	e := newTestEngine(t, newMemGraph(), newMemGraph())

	qp, err := e.Explain(NewSelect(where, "?s", "?a").OrderDesc("?a").WithLimit(10))
	require.NoError(t, err)
	assert.Equal(t, pathRewrite, qp.Path)
	newGolden(t).Assert(t, "explain_rewrite_optional", []byte(qp.String()))
}

func TestGroupPatternString(t *testing.T) {
	where := NewGroup().
		AddTriple("?s", exP, "?o").
		AddOptional(NewGroup().AddTriple("?o", exQ, "?a")).
		AddTriple("?s", exR, "?t").
		AddFilter(Bound("?a"))

	assert.Equal(t,
		"{ ?s <http://ex/p> ?o . OPTIONAL { ?o <http://ex/q> ?a . } ?s <http://ex/r> ?t . FILTER(BOUND(?a)) }",
		where.String())
}
