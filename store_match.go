package rdfgraph

import (
	"bytes"
	"context"

	bolt "go.etcd.io/bbolt"
)

// ---------------------------------------------------------------------------
// BGP matching: index nested-loop join over the spo/pos/osp buckets.
//
// Triples are visited in a greedy order: next is always the triple with the
// most positions bound by constants or by variables bound earlier. Each
// triple becomes a prefix scan of the index whose key starts with its
// bound positions; a fully bound triple is a bloom test plus a point
// lookup. The whole match runs in one read transaction.
// ---------------------------------------------------------------------------

// ctxCheckInterval is how many scanned keys pass between context checks.
const ctxCheckInterval = 1024

// Match implements Matcher.
func (s *Store) Match(ctx context.Context, bgp *EncodedBGP) ([][]ID, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var out [][]ID
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = s.matchIn(ctx, tx, bgp)
		return err
	})
	return out, err
}

// matchIn evaluates bgp inside tx.
func (s *Store) matchIn(ctx context.Context, tx *bolt.Tx, bgp *EncodedBGP) ([][]ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &bgpMatch{
		store: s,
		ctx:   ctx,
		bgp:   bgp,
		order: matchOrder(bgp),
		row:   make([]ID, bgp.Vars.Len()),
		spo:   tx.Bucket(bucketSPO),
		pos:   tx.Bucket(bucketPOS),
		osp:   tx.Bucket(bucketOSP),
	}
	if m.spo == nil {
		return nil, nil
	}
	for i := range m.row {
		m.row[i] = Unbound
	}
	if err := m.step(0); err != nil {
		return nil, err
	}
	return m.out, nil
}

type bgpMatch struct {
	store         *Store
	ctx           context.Context
	bgp           *EncodedBGP
	order         []int
	row           []ID
	out           [][]ID
	scanned       int
	spo, pos, osp *bolt.Bucket
}

// matchOrder returns the triple visiting order.
func matchOrder(bgp *EncodedBGP) []int {
	n := len(bgp.Triples)
	order := make([]int, 0, n)
	used := make([]bool, n)
	bound := make([]bool, bgp.Vars.Len())
	isBound := func(sl Slot) bool { return sl.Var < 0 || bound[sl.Var] }

	for len(order) < n {
		best, bestScore := -1, -1
		for i, t := range bgp.Triples {
			if used[i] {
				continue
			}
			score := 0
			for _, sl := range [3]Slot{t.S, t.P, t.O} {
				if isBound(sl) {
					score++
				}
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		order = append(order, best)
		t := bgp.Triples[best]
		for _, sl := range [3]Slot{t.S, t.P, t.O} {
			if sl.Var >= 0 {
				bound[sl.Var] = true
			}
		}
	}
	return order
}

// value returns the ID of a slot under the current partial row, Unbound
// when its variable is not yet bound.
func (m *bgpMatch) value(sl Slot) ID {
	if sl.Var < 0 {
		return sl.ID
	}
	return m.row[sl.Var]
}

func (m *bgpMatch) step(k int) error {
	if k == len(m.order) {
		m.out = append(m.out, append([]ID(nil), m.row...))
		return nil
	}
	t := m.bgp.Triples[m.order[k]]
	sv, pv, ov := m.value(t.S), m.value(t.P), m.value(t.O)

	if sv != Unbound && pv != Unbound && ov != Unbound {
		if !m.store.bloom.Test(sv, pv, ov) {
			m.store.bloomNegatives.Add(1)
			return nil
		}
		if !hasKey(m.spo, encodeTripleKey(sv, pv, ov)) {
			return nil
		}
		return m.step(k + 1)
	}

	// Pick the index whose key starts with the bound positions.
	var (
		b      *bolt.Bucket
		prefix []byte
		spoOf  func(a, b, c ID) (ID, ID, ID)
	)
	switch {
	case sv != Unbound && pv != Unbound:
		b, prefix, spoOf = m.spo, encodeKeyPrefix(sv, pv), fromSPO
	case sv != Unbound && ov != Unbound:
		b, prefix, spoOf = m.osp, encodeKeyPrefix(ov, sv), fromOSP
	case pv != Unbound && ov != Unbound:
		b, prefix, spoOf = m.pos, encodeKeyPrefix(pv, ov), fromPOS
	case sv != Unbound:
		b, prefix, spoOf = m.spo, encodeKeyPrefix(sv), fromSPO
	case pv != Unbound:
		b, prefix, spoOf = m.pos, encodeKeyPrefix(pv), fromPOS
	case ov != Unbound:
		b, prefix, spoOf = m.osp, encodeKeyPrefix(ov), fromOSP
	default:
		b, prefix, spoOf = m.spo, nil, fromSPO
	}

	c := b.Cursor()
	var key []byte
	if prefix == nil {
		key, _ = c.First()
	} else {
		key, _ = c.Seek(prefix)
	}
	for ; key != nil && bytes.HasPrefix(key, prefix); key, _ = c.Next() {
		if m.scanned++; m.scanned%ctxCheckInterval == 0 {
			if err := m.ctx.Err(); err != nil {
				return err
			}
		}
		if len(key) != tripleKeyLen {
			continue
		}
		s, p, o := spoOf(decodeTripleKey(key))

		// Bind, honouring variables repeated inside the triple.
		var set [3]int
		n, ok := 0, true
		for i, sl := range [3]Slot{t.S, t.P, t.O} {
			id := [3]ID{s, p, o}[i]
			if sl.Var < 0 {
				continue
			}
			switch cur := m.row[sl.Var]; {
			case cur == Unbound:
				m.row[sl.Var] = id
				set[n] = sl.Var
				n++
			case cur != id:
				ok = false
			}
		}
		var err error
		if ok {
			err = m.step(k + 1)
		}
		for _, v := range set[:n] {
			m.row[v] = Unbound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func fromSPO(s, p, o ID) (ID, ID, ID) { return s, p, o }
func fromPOS(p, o, s ID) (ID, ID, ID) { return s, p, o }
func fromOSP(o, s, p ID) (ID, ID, ID) { return s, p, o }
