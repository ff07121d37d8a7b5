// Command rdfgraph loads N-Triples into a bbolt store and evaluates YAML
// query documents against it.
//
//	rdfgraph --db ./data.db load people.nt
//	rdfgraph --db ./data.db query friends.yaml
//	rdfgraph --db ./data.db explain friends.yaml
//	rdfgraph --db ./data.db stats
//	rdfgraph --db ./data.db check
//	rdfgraph --db ./data.db compact
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// Exit codes.
const (
	exitFailure      = 1 // query or load failed
	exitCommandError = 2 // bad flags, unreadable files, store not found
)

// commandError marks errors caused by how the command was invoked.
type commandError struct {
	err error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &commandError{err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var ce *commandError
	if errors.As(err, &ce) {
		return exitCommandError
	}
	return exitFailure
}
