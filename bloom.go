package rdfgraph

// ---------------------------------------------------------------------------
// Bloom Filter: probabilistic existence check for fully bound triples.
//
// A basic graph pattern whose triple is ground once earlier triples have
// bound its variables turns into "does (s, p, o) exist?". The filter
// answers "definitely not" without touching the spo index. There are no
// false negatives; false positives fall through to a bbolt lookup.
//
// The filter is in memory only. It is rebuilt from the spo bucket when the
// store is opened and extended on every insert.
// ---------------------------------------------------------------------------

import (
	"encoding/binary"
	"hash/fnv"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// bloomFilter uses k=4 hash functions derived from one FNV-1a pass.
// Add and Test are safe for concurrent use.
type bloomFilter struct {
	bits []uint64
	size uint64 // number of bits
	k    int
	mu   sync.RWMutex
}

// newBloomFilter sizes the filter at ~10 bits per expected item (~1% FPR).
func newBloomFilter(expectedItems uint64) *bloomFilter {
	if expectedItems < 100 {
		expectedItems = 100
	}
	bitsNeeded := expectedItems * 10
	if bitsNeeded < 1024 {
		bitsNeeded = 1024
	}
	words := (bitsNeeded + 63) / 64

	return &bloomFilter{
		bits: make([]uint64, words),
		size: words * 64,
		k:    4,
	}
}

// Add inserts the triple (s, p, o).
func (bf *bloomFilter) Add(s, p, o ID) {
	h1, h2 := bloomHash(s, p, o)

	bf.mu.Lock()
	for i := 0; i < bf.k; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
	bf.mu.Unlock()
}

// Test reports false when (s, p, o) is definitely absent.
func (bf *bloomFilter) Test(s, p, o ID) bool {
	h1, h2 := bloomHash(s, p, o)

	bf.mu.RLock()
	defer bf.mu.RUnlock()

	for i := 0; i < bf.k; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// bloomHash derives the two base hashes of double hashing
// (Kirsch & Mitzenmacker): h_i = h1 + i*h2 (mod m).
func bloomHash(s, p, o ID) (h1, h2 uint64) {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(o))

	hasher := fnv.New128a()
	hasher.Write(buf[:])
	sum := hasher.Sum(nil)

	h1 = binary.LittleEndian.Uint64(sum[:8])
	h2 = binary.LittleEndian.Uint64(sum[8:])
	if h2 == 0 {
		h2 = 1
	}
	return
}

// ---------------------------------------------------------------------------
// Store integration
// ---------------------------------------------------------------------------

// initBloomFilter builds the filter from the spo index with 2x headroom.
func (s *Store) initBloomFilter() error {
	expected := s.tripleCount.Load() * 2
	if expected < 1000 {
		expected = 1000
	}
	s.bloom = newBloomFilter(expected)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSPO)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if len(k) == tripleKeyLen {
				s.bloom.Add(decodeTripleKey(k))
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("bloom filter initialized",
		"triples", s.tripleCount.Load(),
		"bloom_bits", s.bloom.size,
		"bloom_memory_bytes", len(s.bloom.bits)*8,
	)
	return nil
}
