package rdfgraph

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// ---------------------------------------------------------------------------
// RelationSet: bindings partitioned by varset signature.
//
// A solution sequence whose rows bind different variables (the result of a
// UNION or an OPTIONAL) is kept as one relation per signature instead of a
// single wide relation padded with unbound columns. Binary operators pair
// relations, not rows, so their cost is signatures₁ × signatures₂ relation
// operations.
// ---------------------------------------------------------------------------

// RelationSet holds relations with pairwise distinct signatures.
type RelationSet struct {
	relations []*Relation
	index     map[string]int // Varset.Key() → position in relations
}

// NewRelationSet returns an empty set.
func NewRelationSet() *RelationSet {
	return &RelationSet{index: make(map[string]int)}
}

// emptyRelationSet returns the identity of join: one zero-width row.
func emptyRelationSet() *RelationSet {
	s := NewRelationSet()
	s.FindOrCreate(Varset{}).newRow()
	return s
}

// FindOrCreate returns the relation with signature vs, adding an empty one
// when none exists. It is the only way relations enter a set.
func (s *RelationSet) FindOrCreate(vs Varset) *Relation {
	key := vs.Key()
	if i, ok := s.index[key]; ok {
		return s.relations[i]
	}
	r := NewRelation(vs)
	s.index[key] = len(s.relations)
	s.relations = append(s.relations, r)
	return r
}

// Relations returns the relations in creation order.
func (s *RelationSet) Relations() []*Relation { return s.relations }

// RowCount returns the total number of rows over all relations.
func (s *RelationSet) RowCount() int {
	n := 0
	for _, r := range s.relations {
		n += r.Len()
	}
	return n
}

// Varset returns the union of all signatures in creation order.
func (s *RelationSet) Varset() Varset {
	var vs Varset
	for _, r := range s.relations {
		vs = vs.Union(r.vars)
	}
	return vs
}

// Release drops the rows of every relation.
func (s *RelationSet) Release() {
	for _, r := range s.relations {
		r.Release()
	}
}

// Join pairs every relation of s with every relation of x.
func (s *RelationSet) Join(x *RelationSet) *RelationSet {
	res := NewRelationSet()
	for _, a := range s.relations {
		for _, b := range x.relations {
			a.Join(b, res.FindOrCreate(a.vars.Union(b.vars)))
		}
	}
	return res
}

// Union keeps every relation of both sets under its own signature.
func (s *RelationSet) Union(x *RelationSet) *RelationSet {
	res := NewRelationSet()
	for _, set := range [2]*RelationSet{s, x} {
		for _, r := range set.relations {
			r.appendTo(res.FindOrCreate(r.vars))
		}
	}
	return res
}

// Optional is the left outer join of s with x. A row of s that matches no
// relation of x is kept once, under its own signature.
func (s *RelationSet) Optional(x *RelationSet) *RelationSet {
	res := NewRelationSet()
	for _, a := range s.relations {
		if len(x.relations) == 0 {
			a.appendTo(res.FindOrCreate(a.vars))
			continue
		}
		bound := roaring.New()
		for j, b := range x.relations {
			rn := res.FindOrCreate(a.vars)
			ra := res.FindOrCreate(a.vars.Union(b.vars))
			a.Optional(bound, b, rn, ra, j == len(x.relations)-1)
		}
	}
	return res
}

// Minus removes from s every row with a compatible row in x. The relations
// of x are subtracted one after the other.
func (s *RelationSet) Minus(x *RelationSet) *RelationSet {
	res := NewRelationSet()
	for _, a := range s.relations {
		cur := a
		for _, b := range x.relations {
			next := NewRelation(a.vars)
			cur.Minus(b, next)
			if cur != a {
				cur.Release()
			}
			cur = next
		}
		cur.appendTo(res.FindOrCreate(a.vars))
		if cur != a {
			cur.Release()
		}
	}
	return res
}

// Distinct flattens s onto projection (variables a relation lacks become
// unbound) and removes duplicate rows. The result has one relation.
func (s *RelationSet) Distinct(projection Varset) *RelationSet {
	flat := s.project(projection)
	res := NewRelationSet()
	flat.Distinct(res.FindOrCreate(projection))
	flat.Release()
	return res
}

// Filter keeps the rows of s that satisfy f. exists holds the results of
// f's EXISTS patterns in pre-order.
func (s *RelationSet) Filter(f *Filter, exists []*RelationSet, fc *filterContext) *RelationSet {
	res := NewRelationSet()
	for _, r := range s.relations {
		r.Filter(fc.bind(f, r.vars, exists), res.FindOrCreate(r.vars))
	}
	return res
}

// project flattens s onto projection without deduplication.
func (s *RelationSet) project(projection Varset) *Relation {
	flat := NewRelation(projection)
	for _, r := range s.relations {
		src := projection.MapTo(r.vars)
		for _, a := range r.rows {
			row := flat.newRow()
			for k, c := range src {
				if c >= 0 {
					row[k] = a[c]
				}
			}
		}
	}
	return flat
}
