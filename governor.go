package rdfgraph

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ---------------------------------------------------------------------------
// Query Governor: resource limits for query evaluation.
//
//  1. Result size: MaxResultRows bounds the rows of a final result. A query
//     over a large store without LIMIT fails with ErrResultTooLarge instead
//     of decoding millions of rows.
//
//  2. Matcher time: when the caller's context has no deadline, every
//     matcher call gets DefaultQueryTimeout.
//
// The governor is created once per Engine and is read-only afterwards.
// ---------------------------------------------------------------------------

var (
	// ErrResultTooLarge is returned when a result exceeds MaxResultRows.
	ErrResultTooLarge = errors.New("rdfgraph: result set exceeds MaxResultRows limit")

	// ErrQueryPanic is returned when evaluation panics. The engine stays
	// usable; the panic value and stack are part of the message.
	ErrQueryPanic = errors.New("rdfgraph: query panicked")
)

type queryGovernor struct {
	maxRows        int           // 0 = unlimited
	defaultTimeout time.Duration // 0 = no default timeout
}

// wrapContext applies the default timeout unless ctx already has a
// deadline. The returned cancel must always be called.
func (g *queryGovernor) wrapContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.defaultTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, g.defaultTimeout)
	}
	return ctx, func() {}
}

func (g *queryGovernor) checkRowCount(n int) error {
	if g.maxRows > 0 && n > g.maxRows {
		return fmt.Errorf("%w: %d rows, limit %d", ErrResultTooLarge, n, g.maxRows)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Panic Recovery
// ---------------------------------------------------------------------------

// safeExecuteResult runs fn and converts a panic into an ErrQueryPanic
// error. It guards every public evaluation entry point.
func safeExecuteResult[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			var zero T
			result = zero
			err = fmt.Errorf("%w: %v\n\nstack trace:\n%s", ErrQueryPanic, r, buf[:n])
		}
	}()
	return fn()
}
