package rdfgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// ---------------------------------------------------------------------------
// Snapshot Reads: consistent, point-in-time read views.
//
// A Snapshot holds one open bbolt read transaction, pinning the B+ tree
// pages at the moment it was created. It serves as Matcher and StringIndex,
// so an Engine over it sees one frozen state of the store across many
// queries, immune to concurrent loads:
//
//	snap, err := store.Snapshot()
//	defer snap.Release()
//	eng := rdfgraph.NewEngine(snap, snap, opts)
//
// Snapshots are cheap but pin pages the freelist could otherwise reclaim,
// and Store.Close waits for them. Always call Release. A write that grows
// the file beyond StoreOptions.MmapSize remaps it, which also waits for open
// snapshots, so size the mmap for the data when writes and snapshots overlap.
//
// A bolt.Tx must not be used from several goroutines at once, so calls on
// one Snapshot are serialised.
// ---------------------------------------------------------------------------

// ErrSnapshotReleased is returned by Snapshot methods after Release.
var ErrSnapshotReleased = errors.New("rdfgraph: snapshot has been released")

// Snapshot is a consistent, read-only view of a Store.
type Snapshot struct {
	store    *Store
	tx       *bolt.Tx
	mu       sync.Mutex // serialises use of tx and protects released
	released bool
}

// Snapshot opens a read view of the store. The caller must call Release.
func (s *Store) Snapshot() (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("rdfgraph: snapshot: failed to begin read tx: %w", err)
	}
	s.log.Debug("snapshot created", "tx", tx.ID())
	return &Snapshot{store: s, tx: tx}, nil
}

// Release closes the read transaction. Safe to call multiple times.
func (sn *Snapshot) Release() {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return
	}
	sn.released = true
	sn.tx.Rollback()
	sn.store.log.Debug("snapshot released")
}

// Match implements Matcher against the snapshot.
func (sn *Snapshot) Match(ctx context.Context, bgp *EncodedBGP) ([][]ID, error) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return nil, ErrSnapshotReleased
	}
	return sn.store.matchIn(ctx, sn.tx, bgp)
}

// Encode implements StringIndex against the snapshot.
func (sn *Snapshot) Encode(term string, space TermSpace) (ID, bool) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return 0, false
	}
	return encodeIn(sn.tx, term, space)
}

// Decode implements StringIndex against the snapshot.
func (sn *Snapshot) Decode(id ID, space TermSpace) (string, bool) {
	if term, ok := sn.store.terms.Get(id, space); ok {
		return term, true
	}
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return "", false
	}
	term := sn.store.decodeLogged(sn.tx, id, space)
	return term, term != ""
}

// DecodeBatch implements BatchDecoder against the snapshot.
func (sn *Snapshot) DecodeBatch(ids []ID, space TermSpace) ([]string, error) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return nil, ErrSnapshotReleased
	}
	out, err := sn.store.decodeBatchIn(sn.tx, ids, space)
	if err != nil {
		return nil, fmt.Errorf("rdfgraph: decode batch: %w", err)
	}
	return out, nil
}

// Triples returns the number of triples visible in the snapshot.
func (sn *Snapshot) Triples() (int, error) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.released {
		return 0, ErrSnapshotReleased
	}
	b := sn.tx.Bucket(bucketSPO)
	if b == nil {
		return 0, nil
	}
	return b.Stats().KeyN, nil
}
