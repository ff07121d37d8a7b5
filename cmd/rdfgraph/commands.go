package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mstrYoda/rdfgraph"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.nt>...",
		Short: "Load N-Triples files into the store",
		Long: `Load reads N-Triples files ("-" for stdin) and adds their triples
to the store, creating it if needed. Triples already present are skipped.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer s.Close()

			total := 0
			for _, path := range args {
				n, err := loadFile(cmd, s.store, path)
				total += n
				if err != nil {
					return fmt.Errorf("load %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d triples added\n", path, n)
			}
			if len(args) > 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "total: %d triples added\n", total)
			}
			return nil
		},
	}
}

func loadFile(cmd *cobra.Command, store *rdfgraph.Store, path string) (int, error) {
	if path == "-" {
		return store.Load(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, usageErrorf("%w", err)
	}
	defer f.Close()
	return store.Load(f)
}

// readQuery parses the query document at path ("-" for stdin).
func readQuery(cmd *cobra.Command, path string) (*rdfgraph.Query, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, usageErrorf("read query: %w", err)
	}
	q, err := rdfgraph.ParseQueryDocument(data)
	if err != nil {
		return nil, usageErrorf("%s: %w", path, err)
	}
	return q, nil
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <query.yaml>...",
		Short: "Evaluate query documents",
		Long: `Query evaluates YAML query documents ("-" for stdin) and prints
the solutions with their terms in N-Triples notation. Several documents
are evaluated concurrently against one snapshot of the store.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := make([]*rdfgraph.Query, len(args))
			for i, path := range args {
				q, err := readQuery(cmd, path)
				if err != nil {
					return err
				}
				queries[i] = q
			}
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(queries) == 1 {
				res, err := s.engine.Query(cmd.Context(), queries[0])
				if err != nil {
					return err
				}
				return writeResult(cmd.OutOrStdout(), rootOpts.Format, queries[0], res)
			}
			return queryBatch(cmd, s, rootOpts.Format, args, queries)
		},
	}
}

// queryBatch evaluates queries against a single snapshot and prints each
// result under its file name. The first failing query fails the command
// after all results are printed.
func queryBatch(cmd *cobra.Command, s *session, format string, paths []string, queries []*rdfgraph.Query) error {
	snap, err := s.store.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	eng := rdfgraph.NewEngine(snap, snap, s.cfg.Engine.options(s.log))
	defer eng.Close()

	results, err := eng.QueryBatch(cmd.Context(), queries)
	if err != nil {
		return err
	}
	var firstErr error
	w := cmd.OutOrStdout()
	for i, r := range results {
		if r.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", paths[i], r.Err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", paths[i], r.Err)
			}
			continue
		}
		if format == "text" {
			fmt.Fprintf(w, "# %s\n", paths[i])
		}
		if err := writeResult(w, format, queries[i], r.Result); err != nil {
			return err
		}
	}
	return firstErr
}

// resultDoc is the json/yaml rendering of a Result.
type resultDoc struct {
	QueryID string     `json:"query_id" yaml:"query_id"`
	Path    string     `json:"path" yaml:"path"`
	Ask     *bool      `json:"ask,omitempty" yaml:"ask,omitempty"`
	Vars    []string   `json:"vars,omitempty" yaml:"vars,omitempty"`
	Rows    [][]string `json:"rows,omitempty" yaml:"rows,omitempty"`
}

func writeResult(w io.Writer, format string, q *rdfgraph.Query, res *rdfgraph.Result) error {
	if format == "text" {
		_, err := io.WriteString(w, res.String())
		return err
	}
	doc := resultDoc{QueryID: res.QueryID, Path: res.Path}
	if q.Form == rdfgraph.FormAsk {
		doc.Ask = &res.Ask
	} else {
		rows, err := res.Terms()
		if err != nil {
			return err
		}
		doc.Vars, doc.Rows = res.Vars, rows
	}
	return encode(w, format, doc)
}

func encode(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	var profile bool

	cmd := &cobra.Command{
		Use:   "explain <query.yaml>",
		Short: "Show the operator tree of a query",
		Long: `Explain prints the operator tree the engine would evaluate for a
query document, and whether it takes the rewrite or the plan path. With
--profile the query is evaluated and each operator shows its rows and
elapsed time.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := readQuery(cmd, args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			var qp *rdfgraph.QueryPlan
			if profile {
				qp, err = s.engine.Profile(cmd.Context(), q)
			} else {
				qp, err = s.engine.Explain(q)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "path: %s\n", qp.Path)
			_, err = io.WriteString(cmd.OutOrStdout(), qp.String())
			return err
		},
	}

	cmd.Flags().BoolVar(&profile, "profile", false, "evaluate the query and report rows and time per operator")
	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Print store statistics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.store.Stats()
			if err != nil {
				return err
			}
			if rootOpts.Format != "text" {
				return encode(cmd.OutOrStdout(), rootOpts.Format, st)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Triples:     %d\n", st.Triples)
			fmt.Fprintf(w, "Terms:       %d\n", st.Terms)
			fmt.Fprintf(w, "Predicates:  %d\n", st.Predicates)
			fmt.Fprintf(w, "Disk size:   %.2f KB\n", float64(st.DiskSizeBytes)/1024)
			return nil
		},
	}
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the integrity of the store",
		Long: `Check scans the store and verifies term record checksums, the
term dictionaries and the three triple indexes. It exits non-zero when
any problem is found.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.store.VerifyIntegrity()
			if err != nil {
				return err
			}
			if rootOpts.Format != "text" {
				if err := encode(cmd.OutOrStdout(), rootOpts.Format, report); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				for _, ie := range report.Errors {
					fmt.Fprintln(w, ie.Error())
				}
				fmt.Fprintf(w, "%d terms, %d triples checked, %d errors\n",
					report.TermsChecked, report.TriplesChecked, len(report.Errors))
			}
			if !report.OK() {
				return fmt.Errorf("store %s is corrupted: %d errors", s.cfg.DB, len(report.Errors))
			}
			return nil
		},
	}
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the store file without free pages",
		Long: `Compact copies the live pages of the store into a fresh file and
swaps it into place. The store must not be open in another process.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := resolveConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.DB); err != nil {
				return usageErrorf("store %s not found", describe(cfg.DB))
			}
			saved, err := rdfgraph.CompactStore(cfg.DB, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2f KB reclaimed\n", cfg.DB, float64(saved)/1024)
			return nil
		},
	}
}
