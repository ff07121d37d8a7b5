package rdfgraph

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// ---------------------------------------------------------------------------
// Relation: a set of binding rows over one varset.
//
// Rows are fixed-width []ID slices carved out of chunked arena buffers, so a
// relation owns all of its row storage and sorting only swaps slice headers.
// Operators never modify their inputs' rows (join and optional sort the
// right operand's row order in place) and always append fresh rows to the
// output relation handed in by the caller.
// ---------------------------------------------------------------------------

// arenaChunkRows is the number of rows allocated per arena chunk.
const arenaChunkRows = 512

// Relation holds binding rows for one varset signature.
type Relation struct {
	vars  Varset
	rows  [][]ID
	arena []ID
}

// NewRelation returns an empty relation over vs.
func NewRelation(vs Varset) *Relation {
	return &Relation{vars: vs}
}

// Varset returns the relation's columns.
func (r *Relation) Varset() Varset { return r.vars }

// Len returns the number of rows.
func (r *Relation) Len() int { return len(r.rows) }

// Row returns row i. The slice must not be modified.
func (r *Relation) Row(i int) []ID { return r.rows[i] }

// Rows returns all rows. The slices must not be modified.
func (r *Relation) Rows() [][]ID { return r.rows }

// Append copies row into the relation. len(row) must equal the varset size.
func (r *Relation) Append(row []ID) {
	copy(r.newRow(), row)
}

// Release drops the relation's rows and arena.
func (r *Relation) Release() {
	r.rows = nil
	r.arena = nil
}

// newRow allocates a row with every column unbound.
func (r *Relation) newRow() []ID {
	w := r.vars.Len()
	if w == 0 {
		row := []ID{}
		r.rows = append(r.rows, row)
		return row
	}
	if cap(r.arena)-len(r.arena) < w {
		r.arena = make([]ID, 0, w*arenaChunkRows)
	}
	n := len(r.arena)
	r.arena = r.arena[:n+w]
	row := r.arena[n : n+w : n+w]
	for i := range row {
		row[i] = Unbound
	}
	r.rows = append(r.rows, row)
	return row
}

// put copies src into dst through a column mapping; -1 columns are skipped.
func put(dst, src []ID, m []int) {
	for i, c := range m {
		if c >= 0 {
			dst[c] = src[i]
		}
	}
}

// appendTo copies every row into out, remapped to out's varset.
func (r *Relation) appendTo(out *Relation) {
	m := r.vars.MapTo(out.vars)
	for _, row := range r.rows {
		put(out.newRow(), row, m)
	}
}

// ---------------------------------------------------------------------------
// Sorting and boundary search
// ---------------------------------------------------------------------------

func compareRows(a, b []ID, cols []int) int {
	for _, c := range cols {
		switch {
		case a[c] < b[c]:
			return -1
		case a[c] > b[c]:
			return 1
		}
	}
	return 0
}

// compareKey compares row's cols against key, column by column.
func compareKey(row []ID, cols []int, key []ID) int {
	for k, c := range cols {
		switch {
		case row[c] < key[k]:
			return -1
		case row[c] > key[k]:
			return 1
		}
	}
	return 0
}

// sortBy orders the rows on cols with an in-place Hoare quicksort.
// Duplicates are tolerated on both sides of the pivot.
func (r *Relation) sortBy(cols []int) {
	quickSortRows(r.rows, 0, len(r.rows)-1, cols)
}

func quickSortRows(rows [][]ID, lo, hi int, cols []int) {
	for lo < hi {
		pivot := rows[lo+(hi-lo)/2]
		i, j := lo, hi
		for i <= j {
			for compareRows(rows[i], pivot, cols) < 0 {
				i++
			}
			for compareRows(rows[j], pivot, cols) > 0 {
				j--
			}
			if i <= j {
				rows[i], rows[j] = rows[j], rows[i]
				i++
				j--
			}
		}
		// Recurse into the smaller half to bound stack depth.
		if j-lo < hi-i {
			quickSortRows(rows, lo, j, cols)
			lo = i
		} else {
			quickSortRows(rows, i, hi, cols)
			hi = j
		}
	}
}

// leftBound returns the first row equal to key on cols, or -1.
// The rows must be sorted on cols.
func (r *Relation) leftBound(key []ID, cols []int) int {
	lo, hi := 0, len(r.rows)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if compareKey(r.rows[mid], cols, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(r.rows) && compareKey(r.rows[lo], cols, key) == 0 {
		return lo
	}
	return -1
}

// rightBound returns the last row equal to key on cols, or -1.
func (r *Relation) rightBound(key []ID, cols []int) int {
	lo, hi := 0, len(r.rows)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if compareKey(r.rows[mid], cols, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo > 0 && compareKey(r.rows[lo-1], cols, key) == 0 {
		return lo - 1
	}
	return -1
}

// probe prepares x for boundary search on the variables shared with r.
// It returns r's key columns and x's sorted columns.
func (r *Relation) probe(x *Relation, common Varset) (thisCols, xCols []int) {
	thisCols = common.MapTo(r.vars)
	xCols = common.MapTo(x.vars)
	x.sortBy(xCols)
	return thisCols, xCols
}

func fillKey(key, row []ID, cols []int) {
	for k, c := range cols {
		key[k] = row[c]
	}
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Join writes the natural join of r and x into out, whose varset must
// contain both operands' variables. Without shared variables the result is
// the Cartesian product.
func (r *Relation) Join(x, out *Relation) {
	thisToOut := r.vars.MapTo(out.vars)
	xToOut := x.vars.MapTo(out.vars)
	emit := func(a, b []ID) {
		row := out.newRow()
		put(row, a, thisToOut)
		put(row, b, xToOut)
	}

	common := r.vars.Intersect(x.vars)
	if common.Empty() {
		for _, a := range r.rows {
			for _, b := range x.rows {
				emit(a, b)
			}
		}
		return
	}
	if len(x.rows) == 0 || len(r.rows) == 0 {
		return
	}

	thisCols, xCols := r.probe(x, common)
	key := make([]ID, len(thisCols))
	for _, a := range r.rows {
		fillKey(key, a, thisCols)
		left := x.leftBound(key, xCols)
		if left == -1 {
			continue
		}
		right := x.rightBound(key, xCols)
		for i := left; i <= right; i++ {
			emit(a, x.rows[i])
		}
	}
}

// Union writes the rows of r and x into out, remapped to out's varset.
// Columns an operand lacks stay unbound. Duplicates are kept.
func (r *Relation) Union(x, out *Relation) {
	r.appendTo(out)
	x.appendTo(out)
}

// Optional is one branch of a left outer join. Rows of r with a compatible
// row in x are joined into ra and marked in bound (indexed by row number).
// When last is set, every row never marked across all branches is written
// once to rn, which has r's variables.
func (r *Relation) Optional(bound *roaring.Bitmap, x, rn, ra *Relation, last bool) {
	if len(x.rows) > 0 {
		thisToOut := r.vars.MapTo(ra.vars)
		xToOut := x.vars.MapTo(ra.vars)
		emit := func(a, b []ID) {
			row := ra.newRow()
			put(row, a, thisToOut)
			put(row, b, xToOut)
		}

		common := r.vars.Intersect(x.vars)
		if common.Empty() {
			for i, a := range r.rows {
				for _, b := range x.rows {
					emit(a, b)
				}
				bound.Add(uint32(i))
			}
		} else {
			thisCols, xCols := r.probe(x, common)
			key := make([]ID, len(thisCols))
			for i, a := range r.rows {
				fillKey(key, a, thisCols)
				left := x.leftBound(key, xCols)
				if left == -1 {
					continue
				}
				right := x.rightBound(key, xCols)
				for j := left; j <= right; j++ {
					emit(a, x.rows[j])
				}
				bound.Add(uint32(i))
			}
		}
	}

	if last {
		m := r.vars.MapTo(rn.vars)
		for i, a := range r.rows {
			if !bound.Contains(uint32(i)) {
				put(rn.newRow(), a, m)
			}
		}
	}
}

// Minus writes to out the rows of r that have no compatible row in x.
// When r and x share no variables, a non-empty x removes every row.
func (r *Relation) Minus(x, out *Relation) {
	if len(x.rows) == 0 {
		r.appendTo(out)
		return
	}
	common := r.vars.Intersect(x.vars)
	if common.Empty() {
		return
	}

	m := r.vars.MapTo(out.vars)
	thisCols, xCols := r.probe(x, common)
	key := make([]ID, len(thisCols))
	for _, a := range r.rows {
		fillKey(key, a, thisCols)
		if x.leftBound(key, xCols) == -1 {
			put(out.newRow(), a, m)
		}
	}
}

// Distinct projects r onto out's varset (variables r lacks become unbound)
// and appends each distinct projected row once.
func (r *Relation) Distinct(out *Relation) {
	w := out.vars.Len()
	src := out.vars.MapTo(r.vars)

	tmp := NewRelation(out.vars)
	for _, a := range r.rows {
		row := tmp.newRow()
		for k, c := range src {
			if c >= 0 {
				row[k] = a[c]
			}
		}
	}

	all := make([]int, w)
	for i := range all {
		all[i] = i
	}
	tmp.sortBy(all)

	var prev []ID
	for _, row := range tmp.rows {
		if prev != nil && compareRows(prev, row, all) == 0 {
			continue
		}
		out.Append(row)
		prev = row
	}
	tmp.Release()
}

// Filter appends to out the rows for which the bound filter evaluates to
// exactly true. out must have r's varset.
func (r *Relation) Filter(f *boundFilter, out *Relation) {
	m := r.vars.MapTo(out.vars)
	for _, a := range r.rows {
		if f.accept(a) {
			put(out.newRow(), a, m)
		}
	}
}
