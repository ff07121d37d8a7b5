package rdfgraph

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// Store: a bbolt-backed triple store serving as Matcher and StringIndex.
//
// Terms are interned in two ID spaces: predicates and everything else
// (subjects and objects). Each triple is indexed three times so any bound
// prefix is a range scan:
//
//	spo: S|P|O   pos: P|O|S   osp: O|S|P
//
// Literals are NFC-normalised and "xsd:" datatypes are expanded before
// interning, so equal terms always get the same ID.
// ---------------------------------------------------------------------------

// ErrStoreClosed is returned by every Store method after Close.
var ErrStoreClosed = errors.New("rdfgraph: store is closed")

// Bucket names used in bbolt.
var (
	bucketMeta    = []byte("meta")
	bucketTerms   = []byte("terms")    // ID → term record
	bucketTermIDs = []byte("term_ids") // term → ID
	bucketPreds   = []byte("preds")    // predicate ID → term record
	bucketPredIDs = []byte("pred_ids") // predicate → ID
	bucketSPO     = []byte("spo")
	bucketPOS     = []byte("pos")
	bucketOSP     = []byte("osp")

	metaNextTermID  = []byte("next_term_id")
	metaNextPredID  = []byte("next_pred_id")
	metaTripleCount = []byte("triple_count")
)

var allBuckets = [][]byte{
	bucketMeta,
	bucketTerms,
	bucketTermIDs,
	bucketPreds,
	bucketPredIDs,
	bucketSPO,
	bucketPOS,
	bucketOSP,
}

// loadBatchSize is the number of triples written per bbolt transaction
// by Load.
const loadBatchSize = 10_000

// Store is a persistent triple store. It is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	path   string
	opts   StoreOptions
	log    *slog.Logger
	bloom  *bloomFilter
	terms  *termCache
	closed atomic.Bool

	nextTermID  atomic.Uint64
	nextPredID  atomic.Uint64
	tripleCount atomic.Uint64

	bloomNegatives atomic.Uint64
}

// OpenStore opens or creates the store file at path.
func OpenStore(path string, opts StoreOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); !opts.ReadOnly {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("rdfgraph: failed to create directory %s: %w", dir, err)
		}
	}

	boltOpts := *bolt.DefaultOptions
	boltOpts.NoSync = opts.NoSync
	boltOpts.ReadOnly = opts.ReadOnly
	if opts.MmapSize > 0 {
		boltOpts.InitialMmapSize = opts.MmapSize
	}
	db, err := bolt.Open(path, 0600, &boltOpts)
	if err != nil {
		return nil, fmt.Errorf("rdfgraph: failed to open bolt db at %s: %w", path, err)
	}

	s := &Store{
		db:    db,
		path:  path,
		opts:  opts,
		log:   logger,
		terms: newTermCache(opts.TermCacheSize),
	}
	if !opts.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := s.loadCounters(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initBloomFilter(); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info("store opened",
		"path", path,
		"triples", s.tripleCount.Load(),
		"read_only", opts.ReadOnly,
	)
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("rdfgraph: failed to create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		for _, key := range [][]byte{metaNextTermID, metaNextPredID, metaTripleCount} {
			if meta.Get(key) == nil {
				if err := meta.Put(key, encodeUint64(0)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// loadCounters reads the persisted counters. The spo bucket is the source
// of truth for the triple count.
func (s *Store) loadCounters() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		if v := meta.Get(metaNextTermID); v != nil {
			s.nextTermID.Store(decodeUint64(v))
		}
		if v := meta.Get(metaNextPredID); v != nil {
			s.nextPredID.Store(decodeUint64(v))
		}
		count := uint64(0)
		if v := meta.Get(metaTripleCount); v != nil {
			count = decodeUint64(v)
		}
		if b := tx.Bucket(bucketSPO); b != nil {
			if n := uint64(b.Stats().KeyN); n != count {
				s.log.Warn("triple count out of date, using index", "meta", count, "index", n)
				count = n
			}
		}
		s.tripleCount.Store(count)
		return nil
	})
}

// Close closes the bolt file. Counters are persisted with every write.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.log.Info("store closed", "path", s.path, "triples", s.tripleCount.Load())
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// AddTriple inserts one triple. Inserting an existing triple is a no-op.
func (s *Store) AddTriple(subject, predicate, object string) error {
	_, err := s.AddTriples([]TriplePattern{{Subject: subject, Predicate: predicate, Object: object}})
	return err
}

// AddTriples inserts triples in one transaction and returns how many were
// new.
func (s *Store) AddTriples(triples []TriplePattern) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	for _, t := range triples {
		if err := validateTriple(t); err != nil {
			return 0, err
		}
	}

	var added int
	var keys [][3]ID
	err := s.db.Update(func(tx *bolt.Tx) error {
		added, keys = 0, keys[:0]
		w := newTermWriter(tx, s.nextTermID.Load(), s.nextPredID.Load())
		spo, pos, osp := tx.Bucket(bucketSPO), tx.Bucket(bucketPOS), tx.Bucket(bucketOSP)
		for _, t := range triples {
			sid, err := w.intern(canonicalTerm(t.Subject), SpaceValue)
			if err != nil {
				return err
			}
			pid, err := w.intern(canonicalTerm(t.Predicate), SpacePredicate)
			if err != nil {
				return err
			}
			oid, err := w.intern(canonicalTerm(t.Object), SpaceValue)
			if err != nil {
				return err
			}
			k := encodeTripleKey(sid, pid, oid)
			if hasKey(spo, k) {
				continue
			}
			if err := spo.Put(k, indexMark); err != nil {
				return err
			}
			if err := pos.Put(encodeTripleKey(pid, oid, sid), indexMark); err != nil {
				return err
			}
			if err := osp.Put(encodeTripleKey(oid, sid, pid), indexMark); err != nil {
				return err
			}
			keys = append(keys, [3]ID{sid, pid, oid})
			added++
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(metaNextTermID, encodeUint64(w.nextTerm)); err != nil {
			return err
		}
		if err := meta.Put(metaNextPredID, encodeUint64(w.nextPred)); err != nil {
			return err
		}
		if err := meta.Put(metaTripleCount, encodeUint64(s.tripleCount.Load()+uint64(added))); err != nil {
			return err
		}
		s.nextTermID.Store(w.nextTerm)
		s.nextPredID.Store(w.nextPred)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rdfgraph: add triples: %w", err)
	}

	s.tripleCount.Add(uint64(added))
	for _, k := range keys {
		s.bloom.Add(k[0], k[1], k[2])
	}
	return added, nil
}

// Load reads N-Triples from r and inserts them in batches. It returns the
// number of new triples.
func (s *Store) Load(r io.Reader) (int, error) {
	nr := NewNTriplesReader(r)
	batch := make([]TriplePattern, 0, loadBatchSize)
	total := 0
	flush := func() error {
		n, err := s.AddTriples(batch)
		total += n
		batch = batch[:0]
		return err
	}
	for {
		t, err := nr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
		batch = append(batch, t)
		if len(batch) == loadBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	s.log.Info("triples loaded", "lines", nr.Line(), "added", total, "triples", s.tripleCount.Load())
	return total, nil
}

func validateTriple(t TriplePattern) error {
	for _, term := range [3]string{t.Subject, t.Predicate, t.Object} {
		if IsVar(term) {
			return fmt.Errorf("%w: variable %s in data triple", ErrBadTerm, term)
		}
		if err := checkTerm(canonicalTerm(term)); err != nil {
			return err
		}
	}
	if t.Predicate[0] != '<' {
		return fmt.Errorf("%w: predicate %s is not an IRI", ErrBadTerm, t.Predicate)
	}
	return nil
}

// canonicalTerm returns the interned form of term.
func canonicalTerm(term string) string {
	if term == "" {
		return term
	}
	if term[0] == '\'' {
		term = normaliseQuotes(term)
	}
	if term[0] != '"' {
		return term
	}
	term = norm.NFC.String(term)
	if i := strings.LastIndex(term, `"^^xsd:`); i > 0 {
		term = term[:i+3] + "<" + xsdNS + term[i+7:] + ">"
	}
	return term
}

// termWriter interns terms inside one write transaction.
type termWriter struct {
	tx       *bolt.Tx
	nextTerm uint64
	nextPred uint64
}

func newTermWriter(tx *bolt.Tx, nextTerm, nextPred uint64) *termWriter {
	return &termWriter{tx: tx, nextTerm: nextTerm, nextPred: nextPred}
}

func (w *termWriter) intern(term string, space TermSpace) (ID, error) {
	idsBucket, recBucket, next := bucketTermIDs, bucketTerms, &w.nextTerm
	if space == SpacePredicate {
		idsBucket, recBucket, next = bucketPredIDs, bucketPreds, &w.nextPred
	}
	ids := w.tx.Bucket(idsBucket)
	if v := ids.Get([]byte(term)); v != nil {
		return decodeID(v), nil
	}

	*next++
	id := ID(*next)
	rec, err := encodeTermRecord(termRecord{Term: term, Kind: kindOfTerm(term)})
	if err != nil {
		return 0, err
	}
	if err := ids.Put([]byte(term), encodeID(id)); err != nil {
		return 0, err
	}
	if err := w.tx.Bucket(recBucket).Put(encodeID(id), rec); err != nil {
		return 0, err
	}
	return id, nil
}

func kindOfTerm(term string) termKind {
	switch term[0] {
	case '<':
		return termIRI
	case '_':
		return termBlank
	}
	return termLiteral
}

// ---------------------------------------------------------------------------
// StringIndex
// ---------------------------------------------------------------------------

// Encode returns the ID of term in the given space.
func (s *Store) Encode(term string, space TermSpace) (ID, bool) {
	if s.closed.Load() {
		return 0, false
	}
	var id ID
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		id, found = encodeIn(tx, term, space)
		return nil
	})
	return id, found
}

func encodeIn(tx *bolt.Tx, term string, space TermSpace) (ID, bool) {
	bucket := bucketTermIDs
	if space == SpacePredicate {
		bucket = bucketPredIDs
	}
	b := tx.Bucket(bucket)
	if b == nil {
		return 0, false
	}
	if v := b.Get([]byte(canonicalTerm(term))); v != nil {
		return decodeID(v), true
	}
	return 0, false
}

// Decode returns the term of id in the given space.
func (s *Store) Decode(id ID, space TermSpace) (string, bool) {
	if term, ok := s.terms.Get(id, space); ok {
		return term, true
	}
	if s.closed.Load() {
		return "", false
	}
	var term string
	_ = s.db.View(func(tx *bolt.Tx) error {
		term = s.decodeLogged(tx, id, space)
		return nil
	})
	return term, term != ""
}

// decodeLogged is decodeIn for callers that cannot return an error.
func (s *Store) decodeLogged(tx *bolt.Tx, id ID, space TermSpace) string {
	term, err := s.decodeIn(tx, id, space)
	if err != nil {
		s.log.Error("term decode failed", "id", id, "space", space.String(), "error", err)
		return ""
	}
	return term
}

// DecodeBatch decodes ids in one read transaction, visiting them in key
// order. Unknown IDs decode to "".
func (s *Store) DecodeBatch(ids []ID, space TermSpace) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = s.decodeBatchIn(tx, ids, space)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rdfgraph: decode batch: %w", err)
	}
	return out, nil
}

func (s *Store) decodeBatchIn(tx *bolt.Tx, ids []ID, space TermSpace) ([]string, error) {
	out := make([]string, len(ids))
	order := make([]int, 0, len(ids))
	for i, id := range ids {
		if term, ok := s.terms.Get(id, space); ok {
			out[i] = term
			continue
		}
		order = append(order, i)
	}
	sort.Slice(order, func(a, b int) bool { return ids[order[a]] < ids[order[b]] })

	for k, i := range order {
		if k > 0 && ids[order[k-1]] == ids[i] {
			out[i] = out[order[k-1]]
			continue
		}
		term, err := s.decodeIn(tx, ids[i], space)
		if err != nil {
			return nil, err
		}
		out[i] = term
	}
	return out, nil
}

func (s *Store) decodeIn(tx *bolt.Tx, id ID, space TermSpace) (string, error) {
	bucket := bucketTerms
	if space == SpacePredicate {
		bucket = bucketPreds
	}
	b := tx.Bucket(bucket)
	if b == nil {
		return "", nil
	}
	v := b.Get(encodeID(id))
	if v == nil {
		return "", nil
	}
	rec, err := decodeTermRecord(v)
	if err != nil {
		return "", err
	}
	s.terms.Put(id, space, rec.Term)
	return rec.Term, nil
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns store statistics.
func (s *Store) Stats() (StoreStats, error) {
	if s.closed.Load() {
		return StoreStats{}, ErrStoreClosed
	}
	st := StoreStats{
		Triples:        s.tripleCount.Load(),
		Terms:          s.nextTermID.Load(),
		Predicates:     s.nextPredID.Load(),
		CachedTerms:    s.terms.Len(),
		BloomNegatives: s.bloomNegatives.Load(),
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.DiskSizeBytes = fi.Size()
	}
	return st, nil
}
