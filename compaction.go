package rdfgraph

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ---------------------------------------------------------------------------
// Compaction
//
// bbolt uses a copy-on-write B+ tree. Pages freed by write transactions go
// onto the freelist but the file never shrinks, so a store built by many
// Load batches carries dead pages.
//
// CompactStore rewrites the file into a fresh one holding only live pages,
// then swaps it into place:
//
//  1. Open the store file read-only.
//  2. Copy every bucket into a temporary file with bolt.Compact.
//  3. Close both files.
//  4. Rename the temporary file over the original (atomic on POSIX).
//
// The store must not be open elsewhere; bbolt's file lock enforces this.
// ---------------------------------------------------------------------------

const (
	// compactTxMaxSize bounds the bytes copied per write transaction.
	compactTxMaxSize = 64 * 1024 * 1024
	// compactLockTimeout bounds the wait for the file lock of an open store.
	compactLockTimeout = time.Second
)

// CompactStore compacts the store file at path and returns the bytes saved
// (old size minus new size, never negative).
func CompactStore(path string, log *slog.Logger) (int64, error) {
	if log == nil {
		log = slog.Default()
	}
	oldSize, err := fileSize(path)
	if err != nil {
		return 0, fmt.Errorf("rdfgraph: compact: failed to stat %s: %w", path, err)
	}

	src, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true, Timeout: compactLockTimeout})
	if err != nil {
		return 0, fmt.Errorf("rdfgraph: compact: failed to open %s: %w", path, err)
	}

	tmpPath := path + ".compact.tmp"
	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{NoSync: true})
	if err != nil {
		src.Close()
		return 0, fmt.Errorf("rdfgraph: compact: failed to create temp file: %w", err)
	}

	err = bolt.Compact(dst, src, compactTxMaxSize)
	if err == nil {
		err = dst.Sync()
	}
	src.Close()
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rdfgraph: compact: failed to copy: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rdfgraph: compact: failed to rename: %w", err)
	}

	newSize, _ := fileSize(path)
	saved := oldSize - newSize
	if saved < 0 {
		saved = 0
	}
	log.Info("store compacted", "path", path, "bytes_before", oldSize, "bytes_after", newSize)
	return saved, nil
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
