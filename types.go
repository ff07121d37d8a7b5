package rdfgraph

import (
	"context"
	"log/slog"
	"time"
)

// ID identifies an interned RDF term. IDs are non-negative; Unbound marks
// a column without a binding.
type ID int64

// Unbound is the ID of an unbound column.
const Unbound ID = -1

// TermSpace selects the identifier space a term is interned in.
// Predicates are numbered independently of subjects and objects.
type TermSpace uint8

const (
	// SpaceValue holds subjects and objects (IRIs, literals, blank nodes).
	SpaceValue TermSpace = iota
	// SpacePredicate holds predicates.
	SpacePredicate
)

func (s TermSpace) String() string {
	if s == SpacePredicate {
		return "predicate"
	}
	return "value"
}

// Slot is one position of an encoded triple: a column of the BGP's
// varset when Var >= 0, otherwise the constant ID.
type Slot struct {
	Var int
	ID  ID
}

// EncodedTriple is a triple pattern with its constants interned.
type EncodedTriple struct {
	S, P, O Slot
}

// EncodedBGP is a basic graph pattern ready for matching. Result rows
// have one column per variable of Vars, in order.
type EncodedBGP struct {
	Vars    Varset
	Triples []EncodedTriple
}

// Matcher evaluates basic graph patterns against the triple indexes.
// Match returns one row per solution; rows must not be retained by the
// matcher after it returns.
type Matcher interface {
	Match(ctx context.Context, bgp *EncodedBGP) ([][]ID, error)
}

// StringIndex resolves terms to IDs and back.
type StringIndex interface {
	Encode(term string, space TermSpace) (ID, bool)
	Decode(id ID, space TermSpace) (string, bool)
}

// BatchDecoder is implemented by indexes that can resolve many IDs at once
// (one read transaction, sequential access). Missing IDs decode to "".
type BatchDecoder interface {
	DecodeBatch(ids []ID, space TermSpace) ([]string, error)
}

// Options configures an Engine.
type Options struct {
	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger
	// MaxResultRows caps the rows of a final result. 0 = unlimited.
	MaxResultRows int
	// DefaultQueryTimeout bounds matcher calls when the caller's context has
	// no deadline. 0 = none.
	DefaultQueryTimeout time.Duration
	// SlowQueryThreshold logs queries slower than this. 0 = disabled.
	SlowQueryThreshold time.Duration
	// SlowQueryLogSize is the number of slow queries kept for SlowQueries.
	SlowQueryLogSize int
	// PlanCacheSize is the capacity of the prepared query cache.
	PlanCacheSize int
	// WorkerPoolSize is the number of goroutines used by QueryBatch.
	WorkerPoolSize int
	// DisableRewrite forces the planner path even for well-designed queries.
	DisableRewrite bool
}

// DefaultOptions returns sensible engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxResultRows:       1_000_000,
		DefaultQueryTimeout: 30 * time.Second,
		SlowQueryThreshold:  time.Second,
		SlowQueryLogSize:    defaultSlowLogSize,
		PlanCacheSize:       defaultQueryCacheCapacity,
		WorkerPoolSize:      4,
	}
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger
	// NoSync disables fsync after each commit for faster loads.
	NoSync bool
	// ReadOnly opens the store in read-only mode.
	ReadOnly bool
	// MmapSize is the initial mmap size of the bolt file in bytes.
	MmapSize int
	// TermCacheSize is the capacity of the decoded term cache. 0 disables it.
	TermCacheSize int
}

// DefaultStoreOptions returns defaults for a store of a few million triples.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		MmapSize:      64 * 1024 * 1024,
		TermCacheSize: 100_000,
	}
}

// StoreStats holds store statistics.
type StoreStats struct {
	Triples        uint64 `json:"triples" yaml:"triples"`
	Terms          uint64 `json:"terms" yaml:"terms"`
	Predicates     uint64 `json:"predicates" yaml:"predicates"`
	CachedTerms    int    `json:"cached_terms" yaml:"cached_terms"`
	BloomNegatives uint64 `json:"bloom_negatives" yaml:"bloom_negatives"`
	DiskSizeBytes  int64  `json:"disk_size_bytes" yaml:"disk_size_bytes"`
}
