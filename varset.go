package rdfgraph

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Varset: ordered set of variable names.
//
// The order in which variables were added is the column order of every
// relation built over the varset. Set operations ignore order; the result
// of Union/Intersect keeps the receiver's order first.
// ---------------------------------------------------------------------------

// Varset is an immutable ordered set of variable names ("?x").
// The zero value is the empty varset.
type Varset struct {
	vars []string
}

// NewVarset builds a varset from names, dropping duplicates.
func NewVarset(names ...string) Varset {
	var vs Varset
	for _, n := range names {
		if !vs.Contains(n) {
			vs.vars = append(vs.vars, n)
		}
	}
	return vs
}

// Len returns the number of variables.
func (vs Varset) Len() int { return len(vs.vars) }

// Empty reports whether the varset has no variables.
func (vs Varset) Empty() bool { return len(vs.vars) == 0 }

// Vars returns a copy of the variable names in column order.
func (vs Varset) Vars() []string {
	out := make([]string, len(vs.vars))
	copy(out, vs.vars)
	return out
}

// At returns the variable at column i.
func (vs Varset) At(i int) string { return vs.vars[i] }

// Index returns the column of name, or -1.
func (vs Varset) Index(name string) int {
	for i, v := range vs.vars {
		if v == name {
			return i
		}
	}
	return -1
}

// Contains reports whether name is in the varset.
func (vs Varset) Contains(name string) bool { return vs.Index(name) >= 0 }

// Union returns vs followed by the variables of other not already in vs.
func (vs Varset) Union(other Varset) Varset {
	out := Varset{vars: make([]string, 0, len(vs.vars)+len(other.vars))}
	out.vars = append(out.vars, vs.vars...)
	for _, v := range other.vars {
		if !vs.Contains(v) {
			out.vars = append(out.vars, v)
		}
	}
	return out
}

// Intersect returns the variables of vs that also occur in other.
func (vs Varset) Intersect(other Varset) Varset {
	var out Varset
	for _, v := range vs.vars {
		if other.Contains(v) {
			out.vars = append(out.vars, v)
		}
	}
	return out
}

// Minus returns the variables of vs that do not occur in other.
func (vs Varset) Minus(other Varset) Varset {
	var out Varset
	for _, v := range vs.vars {
		if !other.Contains(v) {
			out.vars = append(out.vars, v)
		}
	}
	return out
}

// HasCommonVar reports whether vs and other share a variable.
func (vs Varset) HasCommonVar(other Varset) bool {
	for _, v := range vs.vars {
		if other.Contains(v) {
			return true
		}
	}
	return false
}

// BelongTo reports whether every variable of vs occurs in other.
func (vs Varset) BelongTo(other Varset) bool {
	for _, v := range vs.vars {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

// Equal reports set equality, ignoring column order.
func (vs Varset) Equal(other Varset) bool {
	return len(vs.vars) == len(other.vars) && vs.BelongTo(other)
}

// MapTo returns, for every column of vs, its column in dst or -1 when
// dst does not contain the variable.
func (vs Varset) MapTo(dst Varset) []int {
	m := make([]int, len(vs.vars))
	for i, v := range vs.vars {
		m[i] = dst.Index(v)
	}
	return m
}

// Key returns the order-independent signature of the varset.
func (vs Varset) Key() string {
	sorted := vs.Vars()
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// String renders the varset in column order, e.g. "{?s ?o}".
func (vs Varset) String() string {
	return "{" + strings.Join(vs.vars, " ") + "}"
}
